package peer

import (
	"net"

	"github.com/valyala/fasthttp"

	"github.com/cuckoofs/cuckoo/xlog"
)

// Backend is what the Data RPC server dispatches into: the local node's
// on-disk cache state addressed directly by inode, since the peer side has
// no caller-held OpenInstance, only the (inodeId, nodeId) the wire carries.
type Backend interface {
	ReadBlockLocal(inodeID uint64, blockIndex, blockSize int) (data []byte, eof bool, err error)
	ReadSmallFileLocal(inodeID uint64) ([]byte, error)
	AppendWriteLocal(inodeID uint64, data []byte, offset int64) error
	TruncateLocal(inodeID uint64, size int64) error
	CloseCommitLocal(inodeID uint64, size, mtime int64) error
}

// Server is the Data RPC listener for one node (spec §6).
type Server struct {
	localNodeID int32
	backend     Backend
	blockSize   int
	srv         *fasthttp.Server
}

// NewServer builds a server that refuses any request not naming
// localNodeID (the mismatched-nodeId rule spec §6 requires).
func NewServer(localNodeID int32, backend Backend, blockSize int) *Server {
	s := &Server{localNodeID: localNodeID, backend: backend, blockSize: blockSize}
	s.srv = &fasthttp.Server{Handler: s.handle, Name: "cuckoo-data"}
	return s
}

func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }

// Serve runs the server against an already-bound listener; tests use it with
// an in-memory listener. ListenAndServe binds its own socket instead.
func (s *Server) Serve(ln net.Listener) error { return s.srv.Serve(ln) }

func (s *Server) Shutdown() error { return s.srv.Shutdown() }

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	nodeID, err := parseI32(ctx.Request.Header.Peek(hdrNode))
	if err != nil || nodeID != s.localNodeID {
		ctx.SetStatusCode(fasthttp.StatusConflict)
		return
	}
	inodeID, err := parseU64(ctx.Request.Header.Peek(hdrInode))
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	switch string(ctx.Path()) {
	case "/data/block":
		s.handleBlock(ctx, inodeID)
	case "/data/small":
		s.handleSmall(ctx, inodeID)
	case "/data/append":
		s.handleAppend(ctx, inodeID)
	case "/data/truncate":
		s.handleTruncate(ctx, inodeID)
	case "/data/close":
		s.handleClose(ctx, inodeID)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) handleBlock(ctx *fasthttp.RequestCtx, inodeID uint64) {
	blockIndex, err := parseInt(ctx.Request.Header.Peek(hdrBlockIndex))
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	data, eof, err := s.backend.ReadBlockLocal(inodeID, blockIndex, s.blockSize)
	if err != nil {
		xlog.Warningf("peer: read block inode=%d block=%d: %v", inodeID, blockIndex, err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	if eof {
		ctx.Response.Header.Set(hdrEOF, "1")
	}
	ctx.SetBody(data)
}

func (s *Server) handleSmall(ctx *fasthttp.RequestCtx, inodeID uint64) {
	data, err := s.backend.ReadSmallFileLocal(inodeID)
	if err != nil {
		xlog.Warningf("peer: read small file inode=%d: %v", inodeID, err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetBody(data)
}

func (s *Server) handleAppend(ctx *fasthttp.RequestCtx, inodeID uint64) {
	offset, err := parseI64(ctx.Request.Header.Peek(hdrOffset))
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	if err := s.backend.AppendWriteLocal(inodeID, ctx.PostBody(), offset); err != nil {
		xlog.Warningf("peer: append write inode=%d: %v", inodeID, err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
}

func (s *Server) handleTruncate(ctx *fasthttp.RequestCtx, inodeID uint64) {
	size, err := parseI64(ctx.Request.Header.Peek(hdrSize))
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	if err := s.backend.TruncateLocal(inodeID, size); err != nil {
		xlog.Warningf("peer: truncate inode=%d: %v", inodeID, err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
}

func (s *Server) handleClose(ctx *fasthttp.RequestCtx, inodeID uint64) {
	size, err1 := parseI64(ctx.Request.Header.Peek(hdrSize))
	mtime, err2 := parseI64(ctx.Request.Header.Peek(hdrMtime))
	if err1 != nil || err2 != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	if err := s.backend.CloseCommitLocal(inodeID, size, mtime); err != nil {
		xlog.Warningf("peer: close-commit inode=%d: %v", inodeID, err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
}

