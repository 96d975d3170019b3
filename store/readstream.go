package store

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cuckoofs/cuckoo/xlog"
)

// ReadStream prefetches a file through a ring of pipeNum Pipes walked by a
// single background pusher goroutine (spec §4.7). The consumer cursor
// pipeIndex and producer cursor pushIndex never coincide by more than
// pipeNum apart — the ring itself enforces that, since the pusher blocks in
// Pipe.WaitPush until the pipe it wants to refill has been fully drained.
type ReadStream struct {
	pipes      []*Pipe
	fileBlocks int
	blockSize  int
	fetcher    BlockFetcher

	mu        sync.Mutex
	pipeIndex int

	pushIndex int // owned solely by the pusher goroutine

	stopCh chan struct{}
	g      *errgroup.Group
}

// NewReadStream allocates the ring. Call StartPushThreaded to begin
// prefetching.
func NewReadStream(fetcher BlockFetcher, fileBlocks, blockSize, pipeNum int) *ReadStream {
	pipes := make([]*Pipe, pipeNum)
	for i := range pipes {
		pipes[i] = NewPipe(blockSize)
	}
	return &ReadStream{
		pipes:      pipes,
		fileBlocks: fileBlocks,
		blockSize:  blockSize,
		fetcher:    fetcher,
		stopCh:     make(chan struct{}),
	}
}

// StartPushThreaded spawns the pusher goroutine.
func (r *ReadStream) StartPushThreaded() {
	r.g = new(errgroup.Group)
	r.g.Go(r.pusherLoop)
}

func (r *ReadStream) pusherLoop() error {
	n := len(r.pipes)
	for blockIndex := 0; blockIndex < r.fileBlocks; blockIndex++ {
		select {
		case <-r.stopCh:
			return nil
		default:
		}
		pipe := r.pipes[r.pushIndex]
		if _, err := pipe.WaitPush(blockIndex, r.fetcher); err != nil {
			if err == ErrPipeDestroyed {
				return nil
			}
			xlog.Warningf("store: readstream pusher failed at block %d: %v", blockIndex, err)
			return err
		}
		r.pushIndex = (r.pushIndex + 1) % n
	}
	r.pipes[r.pushIndex].pushEOF()
	return nil
}

// WaitPop delivers up to len(buf) bytes, draining pipes in order and
// blocking on the pusher as needed. A short return (less than len(buf))
// means the file ended within this call.
func (r *ReadStream) WaitPop(buf []byte) int {
	need := len(buf)
	if need == 0 {
		return 0
	}
	total := 0
	for need > 0 {
		r.mu.Lock()
		idx := r.pipeIndex
		r.mu.Unlock()

		n, drained, end := r.pipes[idx].WaitPop(buf[total : total+need])
		total += n
		need -= n
		if end {
			return total
		}
		if drained {
			r.mu.Lock()
			r.pipeIndex = (idx + 1) % len(r.pipes)
			r.mu.Unlock()
		}
		if n == 0 && !drained && !end {
			break // defensive: a well-behaved pipe never returns (0, false, false)
		}
	}
	return total
}

// Stop tears down the pusher and wakes any blocked pop.
func (r *ReadStream) Stop() {
	close(r.stopCh)
	for _, p := range r.pipes {
		p.Destroy()
	}
	if r.g != nil {
		if err := r.g.Wait(); err != nil {
			xlog.Warningf("store: readstream pusher exited with error: %v", err)
		}
	}
}
