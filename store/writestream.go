package store

import "sync"

// FlushFunc commits buffered bytes at offset to the backing file (local disk
// pwrite or peer RPC append-write), returning an error only on a hard I/O
// failure.
type FlushFunc func(data []byte, offset int64) error

// WriteStream is a bounded coalescing write buffer (spec §4.8): contiguous
// or overlapping appends accumulate in one []byte region; a write that
// can't be absorbed flushes what's buffered first, then either starts a new
// region or (if it alone exceeds maxSize) writes straight through.
type WriteStream struct {
	mu          sync.Mutex
	buf         []byte
	beginOffset int64
	endOffset   int64
	maxSize     int64
	flush       FlushFunc
}

// NewWriteStream builds a stream bounded at maxSize bytes, backed by flush.
func NewWriteStream(maxSize int64, flush FlushFunc) *WriteStream {
	return &WriteStream{maxSize: maxSize, flush: flush}
}

// GetSize returns the number of bytes currently buffered (not yet flushed).
func (w *WriteStream) GetSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(len(w.buf))
}

// Append absorbs data at offset into the buffer when doing so keeps the
// buffered region within maxSize and the new bytes extend or overlap the
// current region; otherwise it flushes (and, if data alone is too large to
// ever buffer, writes through) per spec §4.8's policy.
func (w *WriteStream) Append(data []byte, offset int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) == 0 {
		if int64(len(data)) > w.maxSize {
			return w.writeThroughLocked(data, offset)
		}
		w.startLocked(data, offset)
		return len(data), nil
	}

	if offset >= w.beginOffset && offset <= w.endOffset {
		newEnd := offset + int64(len(data))
		if newEnd-w.beginOffset <= w.maxSize {
			w.absorbLocked(data, offset)
			return len(data), nil
		}
	}

	// Doesn't fit the current region (or would overflow maxSize): flush
	// what's buffered, then either start a fresh region or write through.
	if err := w.flushLocked(); err != nil {
		return 0, err
	}
	if int64(len(data)) > w.maxSize {
		return w.writeThroughLocked(data, offset)
	}
	w.startLocked(data, offset)
	return len(data), nil
}

func (w *WriteStream) startLocked(data []byte, offset int64) {
	w.buf = append(w.buf[:0], data...)
	w.beginOffset = offset
	w.endOffset = offset + int64(len(data))
}

func (w *WriteStream) absorbLocked(data []byte, offset int64) {
	relOffset := offset - w.beginOffset
	need := relOffset + int64(len(data))
	if int64(len(w.buf)) < need {
		grown := make([]byte, need)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[relOffset:], data)
	if end := offset + int64(len(data)); end > w.endOffset {
		w.endOffset = end
	}
}

func (w *WriteStream) writeThroughLocked(data []byte, offset int64) (int, error) {
	if err := w.flush(data, offset); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Flush synchronously commits any buffered bytes and clears the buffer.
func (w *WriteStream) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WriteStream) flushLocked() error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.flush(w.buf, w.beginOffset); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	w.beginOffset = 0
	w.endOffset = 0
	return nil
}
