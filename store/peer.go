package store

import (
	"context"

	"github.com/cuckoofs/cuckoo/meta"
)

// PeerClient is the Data RPC client side of spec §6: block reads, whole
// small-file reads, append-writes, truncation and close-commit against a
// remote node, every call carrying the (inodeId, nodeId) tuple the server
// refuses to serve on a mismatch. The peer package implements this over
// fasthttp; store only depends on the interface so it can be exercised in
// tests with a fake.
type PeerClient interface {
	ReadBlock(ctx context.Context, server meta.ServerIdentifier, inodeID uint64, nodeID int32, blockIndex int, dst []byte) (n int, eof bool, err error)
	ReadSmallFile(ctx context.Context, server meta.ServerIdentifier, inodeID uint64, nodeID int32) ([]byte, error)
	AppendWrite(ctx context.Context, server meta.ServerIdentifier, inodeID uint64, nodeID int32, data []byte, offset int64) error
	Truncate(ctx context.Context, server meta.ServerIdentifier, inodeID uint64, nodeID int32, size int64) error
	CloseCommit(ctx context.Context, server meta.ServerIdentifier, inodeID uint64, nodeID int32, size, mtime int64) error
}
