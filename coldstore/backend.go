// Package coldstore wires the cold object backend the store engine falls
// back to on a local-and-peer cache miss (spec §2's "cold object backend",
// §4.9's routing table). One real SDK-backed implementation per
// conf.ColdBackendKind sits behind the Backend interface.
package coldstore

import (
	"context"
	"strconv"
)

// Backend is a minimal object-store client: enough to serve the store
// engine's cache-fill-on-miss path and its close-time publish of a file's
// final bytes.
type Backend interface {
	// Get returns the full object named key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put uploads data as key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes key; a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// Stat returns key's size without fetching its bytes.
	Stat(ctx context.Context, key string) (size int64, err error)
}

// ObjectKey is the cold-store key for an inode's payload, kept distinct
// from the local cache file name (inodeId-large) since backends are
// typically flat keyspaces without the local bucket-by-inode-mod-N
// subdirectory layout.
func ObjectKey(inodeID uint64) string {
	return "cuckoo/" + strconv.FormatUint(inodeID, 10)
}
