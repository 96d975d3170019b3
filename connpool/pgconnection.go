package connpool

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/cuckoofs/cuckoo/cerr"
	"github.com/cuckoofs/cuckoo/meta"
	"github.com/cuckoofs/cuckoo/xlog"
)

// PGConnection is one worker backed by a single outstanding task slot (spec
// §4.4). The original's taskToExec field guarded by a mutex+condvar becomes
// a depth-1 channel plus a working flag: TryExec claims working via CAS
// before handing the task to the channel, so the channel buffer never has
// to double as the exclusion mechanism (a receive drains the buffer before
// exec finishes, which would otherwise let a second TryExec sneak a task in
// while the first is still running).
type PGConnection struct {
	id        int
	server    meta.ServerIdentifier
	transport Transport

	working atomic.Bool
	taskCh  chan *meta.Task
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPGConnection builds a worker for server, started with Start.
func NewPGConnection(id int, server meta.ServerIdentifier, transport Transport) *PGConnection {
	return &PGConnection{
		id:        id,
		server:    server,
		transport: transport,
		taskCh:    make(chan *meta.Task, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the worker's background loop.
func (c *PGConnection) Start() {
	c.wg.Add(1)
	go c.loop()
}

func (c *PGConnection) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case t := <-c.taskCh:
			c.exec(t)
		}
	}
}

func (c *PGConnection) exec(t *meta.Task) {
	defer c.working.Store(false)

	t.Encode()
	resp, err := c.transport.Call(context.Background(), c.server, t.Kind, t.Param.Bytes())
	if err != nil {
		xlog.Warningf("connpool: connection %d to %s:%d failed task %s, failing %d item(s): %v",
			c.id, c.server.IP, c.server.Port, t.TraceID, t.Len(), err)
		t.Fail(cerr.IO_ERROR, err)
		return
	}
	t.Finish(resp)
}

// TryExec hands t to this connection if it is idle, returning false without
// blocking if a task is already in flight (spec §4.4 invariant: at most one
// task per connection at a time). Claiming working via CAS before the send
// is what makes idle-queue membership and working-slot occupancy mutually
// exclusive (spec §8 property #4): a concurrent TryExec can't both see the
// connection as idle and hand it a second task while exec is still running.
func (c *PGConnection) TryExec(t *meta.Task) bool {
	if !c.working.CompareAndSwap(false, true) {
		return false
	}
	select {
	case c.taskCh <- t:
		return true
	default:
		// unreachable under correct use: working just excluded every other
		// sender, and the loop only ever drains one task before the next
		// CAS can succeed.
		c.working.Store(false)
		return false
	}
}

// Working reports whether a task is currently in flight on this connection.
func (c *PGConnection) Working() bool { return c.working.Load() }

// Server returns the peer this connection talks to.
func (c *PGConnection) Server() meta.ServerIdentifier { return c.server }

// Stop ends the worker loop and waits for any in-flight exec to return.
func (c *PGConnection) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}
