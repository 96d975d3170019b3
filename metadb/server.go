package metadb

import (
	"net"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/cuckoofs/cuckoo/meta"
	"github.com/cuckoofs/cuckoo/xlog"
)

// Server exposes one Backend's Call method over fasthttp at POST
// /meta/call, the counterpart client.MetaTransport dials. A node process
// owns exactly one metadata shard, so the server needs no shard routing of
// its own — the shard the client addressed picked which node to call.
type Server struct {
	backend *Backend
	srv     *fasthttp.Server
}

func NewServer(backend *Backend) *Server {
	s := &Server{backend: backend}
	s.srv = &fasthttp.Server{Handler: s.handle, Name: "cuckoo-meta-server"}
	return s
}

func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }

// Serve runs the server on a caller-supplied listener, letting tests use an
// in-memory listener instead of a real socket.
func (s *Server) Serve(ln net.Listener) error { return s.srv.Serve(ln) }

func (s *Server) Shutdown() error { return s.srv.Shutdown() }

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) != "/meta/call" || !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	kindN, err := strconv.Atoi(string(ctx.Request.Header.Peek(hdrKind)))
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString("metadb: missing or malformed " + hdrKind)
		return
	}

	resp, err := s.backend.Call(ctx, meta.ServerIdentifier{}, meta.ServiceKind(kindN), ctx.PostBody())
	if err != nil {
		xlog.Errorf("metadb: serving call kind=%d: %v", kindN, err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(err.Error())
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(resp)
}

const hdrKind = "X-Cuckoo-Kind"
