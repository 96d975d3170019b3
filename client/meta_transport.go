package client

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/cuckoofs/cuckoo/meta"
)

const hdrKind = "X-Cuckoo-Kind"

// MetaTransport implements connpool.Transport over fasthttp: one POST per
// call carrying the raw encoded request stream as its body and the
// ServiceKind as a header, mirroring the wire style peer.Client uses for
// Data RPC. NewConnection takes this (or a fake) as its transport.
type MetaTransport struct {
	cli *fasthttp.Client
}

// NewMetaTransport builds a transport with fasthttp's default pooling.
func NewMetaTransport() *MetaTransport {
	return NewMetaTransportWithDial(nil)
}

// NewMetaTransportWithDial overrides fasthttp's dialer for tests.
func NewMetaTransportWithDial(dial fasthttp.DialFunc) *MetaTransport {
	return &MetaTransport{cli: &fasthttp.Client{Name: "cuckoo-meta-client", Dial: dial}}
}

func (t *MetaTransport) Call(ctx context.Context, server meta.ServerIdentifier, kind meta.ServiceKind, req []byte) ([]byte, error) {
	freq := fasthttp.AcquireRequest()
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(freq)
	defer fasthttp.ReleaseResponse(fresp)

	freq.SetRequestURI("http://" + server.IP + ":" + strconv.Itoa(int(server.Port)) + "/meta/call")
	freq.Header.SetMethod(fasthttp.MethodPost)
	freq.Header.Set(hdrKind, strconv.Itoa(int(kind)))
	freq.SetBody(req)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = t.cli.DoDeadline(freq, fresp, deadline)
	} else {
		err = t.cli.DoTimeout(freq, fresp, 10*time.Second)
	}
	if err != nil {
		return nil, errors.Wrap(err, "client: metadata RPC")
	}
	if fresp.StatusCode() != fasthttp.StatusOK {
		return nil, errors.Errorf("client: metadata RPC returned status %d: %s", fresp.StatusCode(), fresp.Body())
	}
	return append([]byte(nil), fresp.Body()...), nil
}
