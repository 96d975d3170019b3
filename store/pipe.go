// Package store implements the per-node payload engine (spec §4.6-§4.9): the
// Pipe/ReadStream streaming pipeline that prefetches blocks, the
// WriteStream coalescing buffer, and CuckooStore, which routes each
// (openInstance, offset, size) call across the local cache, peer nodes, and
// the cold object backend.
package store

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrPipeDestroyed is returned to a blocked producer/consumer when Destroy
// runs out from under it.
var ErrPipeDestroyed = errors.New("store: pipe destroyed")

// BlockFetcher supplies one logical block's bytes to a Pipe. dst has
// capacity blockSize; FetchBlock returns how many bytes it wrote, whether
// this was the last block of the file, and any error.
type BlockFetcher interface {
	FetchBlock(blockIndex int, dst []byte) (n int, eof bool, err error)
}

// Pipe is a single-producer/single-consumer bounded byte buffer holding at
// most one logical block at a time (spec §4.6). WaitPush and WaitPop use a
// pair of condition variables rather than channels because partial pops
// (less than a full block) must leave the remainder available in the same
// pipe — a shape channels don't express without an extra buffering layer.
type Pipe struct {
	mu        sync.Mutex
	notEmpty  *sync.Cond
	notFull   *sync.Cond
	buf       []byte
	filled    int
	end       bool
	destroyed bool
}

// NewPipe allocates a pipe with capacity bytes of backing storage.
func NewPipe(capacity int) *Pipe {
	p := &Pipe{buf: make([]byte, capacity)}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	return p
}

// WaitPush blocks until the pipe is empty, then fetches block blockIndex
// into it via fetch. Returns the error below only on destruction or fetch
// failure; the drained case is left to the caller to detect through the
// eof it records on the pipe.
func (p *Pipe) WaitPush(blockIndex int, fetch BlockFetcher) (int, error) {
	p.mu.Lock()
	for p.filled != 0 && !p.destroyed {
		p.notFull.Wait()
	}
	if p.destroyed {
		p.mu.Unlock()
		return 0, ErrPipeDestroyed
	}
	p.mu.Unlock()

	n, eof, err := fetch.FetchBlock(blockIndex, p.buf)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.filled = 0
		p.end = true
		p.notEmpty.Broadcast()
		return 0, err
	}
	p.filled = n
	p.end = eof
	p.notEmpty.Broadcast()
	return n, nil
}

// pushEOF marks the pipe terminal without a fetch — the ring's final,
// empty, end-of-stream block (spec §4.7's pusher loop tail).
func (p *Pipe) pushEOF() {
	p.mu.Lock()
	for p.filled != 0 && !p.destroyed {
		p.notFull.Wait()
	}
	p.end = true
	p.notEmpty.Broadcast()
	p.mu.Unlock()
}

// WaitPop copies up to len(dst) bytes out of the pipe, blocking until data
// or end-of-stream is available. drained reports whether this pipe is now
// empty and not terminal (so the caller should advance to the next pipe);
// end reports that the pipe has handed out its terminal block (the last
// data block, or an empty end-of-stream block) or was destroyed, and will
// yield nothing ever again.
func (p *Pipe) WaitPop(dst []byte) (n int, drained bool, end bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.filled == 0 && !p.end && !p.destroyed {
		p.notEmpty.Wait()
	}
	if p.destroyed {
		return 0, false, true
	}
	if p.filled == 0 && p.end {
		return 0, false, true
	}

	want := len(dst)
	if want > p.filled {
		want = p.filled
	}
	copy(dst, p.buf[:want])
	remaining := p.filled - want
	if remaining > 0 {
		copy(p.buf, p.buf[want:p.filled])
	}
	p.filled = remaining

	if p.filled == 0 {
		p.notFull.Broadcast()
		if p.end {
			return want, false, true
		}
		return want, true, false
	}
	return want, false, false
}

// Destroy wakes any blocked producer/consumer so it observes a terminal
// state instead of hanging forever.
func (p *Pipe) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
	p.mu.Unlock()
}
