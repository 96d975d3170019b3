package peer

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/cuckoofs/cuckoo/meta"
)

// Client implements store.PeerClient over fasthttp, issuing one request per
// call against the remote node's Data RPC server.
type Client struct {
	cli *fasthttp.Client
}

// NewClient builds a Data RPC client with fasthttp's own connection pooling
// and keep-alive behavior, unmodified from its defaults.
func NewClient() *Client {
	return NewClientWithDial(nil)
}

// NewClientWithDial overrides fasthttp's dialer, letting tests point the
// client at an in-memory listener instead of a real socket.
func NewClientWithDial(dial fasthttp.DialFunc) *Client {
	return &Client{cli: &fasthttp.Client{Name: "cuckoo-data-client", Dial: dial}}
}

func (c *Client) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if deadline, ok := ctx.Deadline(); ok {
		return c.cli.DoDeadline(req, resp, deadline)
	}
	return c.cli.DoTimeout(req, resp, 30*time.Second)
}

func (c *Client) ReadBlock(ctx context.Context, server meta.ServerIdentifier, inodeID uint64, nodeID int32, blockIndex int, dst []byte) (int, bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpointURL(server, "/data/block"))
	req.Header.SetMethod(fasthttp.MethodGet)
	setIdentity(req, inodeID, nodeID)
	req.Header.Set(hdrBlockIndex, itoa(blockIndex))

	if err := c.do(ctx, req, resp); err != nil {
		return 0, false, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return 0, false, statusErr(resp.StatusCode())
	}
	n := copy(dst, resp.Body())
	eof := string(resp.Header.Peek(hdrEOF)) == "1"
	return n, eof, nil
}

func (c *Client) ReadSmallFile(ctx context.Context, server meta.ServerIdentifier, inodeID uint64, nodeID int32) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpointURL(server, "/data/small"))
	req.Header.SetMethod(fasthttp.MethodGet)
	setIdentity(req, inodeID, nodeID)

	if err := c.do(ctx, req, resp); err != nil {
		return nil, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, statusErr(resp.StatusCode())
	}
	return append([]byte(nil), resp.Body()...), nil
}

func (c *Client) AppendWrite(ctx context.Context, server meta.ServerIdentifier, inodeID uint64, nodeID int32, data []byte, offset int64) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpointURL(server, "/data/append"))
	req.Header.SetMethod(fasthttp.MethodPost)
	setIdentity(req, inodeID, nodeID)
	req.Header.Set(hdrOffset, itoa64(offset))
	req.SetBody(data)

	if err := c.do(ctx, req, resp); err != nil {
		return err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return statusErr(resp.StatusCode())
	}
	return nil
}

func (c *Client) Truncate(ctx context.Context, server meta.ServerIdentifier, inodeID uint64, nodeID int32, size int64) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpointURL(server, "/data/truncate"))
	req.Header.SetMethod(fasthttp.MethodPost)
	setIdentity(req, inodeID, nodeID)
	req.Header.Set(hdrSize, itoa64(size))

	if err := c.do(ctx, req, resp); err != nil {
		return err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return statusErr(resp.StatusCode())
	}
	return nil
}

func (c *Client) CloseCommit(ctx context.Context, server meta.ServerIdentifier, inodeID uint64, nodeID int32, size, mtime int64) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpointURL(server, "/data/close"))
	req.Header.SetMethod(fasthttp.MethodPost)
	setIdentity(req, inodeID, nodeID)
	req.Header.Set(hdrSize, itoa64(size))
	req.Header.Set(hdrMtime, itoa64(mtime))

	if err := c.do(ctx, req, resp); err != nil {
		return err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return statusErr(resp.StatusCode())
	}
	return nil
}
