// Package connpool implements the batching dispatcher that sits between the
// synchronous client.Connection API and the metadata service's wire RPC:
// PGConnection (a single worker holding one outstanding task at a time) and
// PGConnectionPool (the per-kind batch accumulator plus background promotion
// manager), grounded on cuckoo_client/src/include/connection.h's
// PGConnection/PGConnectionPool pair (spec §4.4, §4.5).
package connpool

import (
	"context"

	"github.com/cuckoofs/cuckoo/meta"
)

// Transport performs one synchronous metadata RPC round trip: an encoded
// request blob out, an encoded response blob back. client/meta_transport.go
// supplies the fasthttp-backed implementation; tests supply a fake.
type Transport interface {
	Call(ctx context.Context, server meta.ServerIdentifier, kind meta.ServiceKind, req []byte) ([]byte, error)
}
