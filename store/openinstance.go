package store

import (
	"sync"

	"go.uber.org/atomic"
)

// OpenInstance is the client-visible handle for one open file (spec §3).
// It is exclusively owned by its caller for the handle's lifetime; the
// store engine only reads its fields under that caller's guarantee that no
// concurrent close races it. WriteStream and ReadStream carry their own
// locks, and CurrentSize is atomic, since those three are touched by
// background goroutines (the pusher, concurrent readers/writers) the
// owning caller doesn't serialize against.
type OpenInstance struct {
	InodeID      uint64
	NodeID       int32
	Path         string
	Oflags       int
	OriginalSize int64
	CurrentSize  atomic.Int64

	readMu         sync.Mutex
	ReadBuffer     []byte
	ReadBufferSize int64

	// initMu guards the one-time lazy creation of WriteStream/ReadStream,
	// separate from readMu since it protects a different concern (which
	// stream exists) rather than the small-file buffer's contents.
	initMu      sync.Mutex
	WriteStream *WriteStream
	ReadStream  *ReadStream
}

// NewOpenInstance builds a handle with currentSize seeded from the file's
// size at open time (spec §3's originalSize).
func NewOpenInstance(inodeID uint64, nodeID int32, path string, oflags int, size int64) *OpenInstance {
	oi := &OpenInstance{
		InodeID:      inodeID,
		NodeID:       nodeID,
		Path:         path,
		Oflags:       oflags,
		OriginalSize: size,
	}
	oi.CurrentSize.Store(size)
	return oi
}

// readBuffer returns the cached whole-file bytes for the small-file fast
// path, or nil if not yet populated.
func (oi *OpenInstance) readBuffer() []byte {
	oi.readMu.Lock()
	defer oi.readMu.Unlock()
	return oi.ReadBuffer
}

// setReadBuffer populates the small-file fast path buffer once, the first
// time a reader needs it; later readers reuse it without re-fetching.
func (oi *OpenInstance) setReadBuffer(data []byte) {
	oi.readMu.Lock()
	defer oi.readMu.Unlock()
	if oi.ReadBuffer == nil {
		oi.ReadBuffer = data
		oi.ReadBufferSize = int64(len(data))
	}
}
