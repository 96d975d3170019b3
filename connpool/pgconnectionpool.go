package connpool

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/cuckoofs/cuckoo/cerr"
	"github.com/cuckoofs/cuckoo/conf"
	"github.com/cuckoofs/cuckoo/meta"
	"github.com/cuckoofs/cuckoo/metrics"
	"github.com/cuckoofs/cuckoo/xlog"
)

// batchSlot accumulates same-BatchKind owner tasks awaiting a combined wire
// round trip (spec §4.5's supportBatchTaskList entry). Owners are appended
// in arrival order and flushed in that same order, so items from a later
// caller never jump ahead of items from an earlier one within a kind.
type batchSlot struct {
	mu       sync.Mutex
	kind     meta.ServiceKind
	owners   []*meta.Task
	maxSize  uint16
	occGauge prometheus.Gauge
}

func newBatchSlot(kind meta.ServiceKind, maxSize uint16, shardLabel string) *batchSlot {
	return &batchSlot{
		kind:     kind,
		maxSize:  maxSize,
		occGauge: metrics.BatchSlotOccupancy.WithLabelValues(shardLabel, kind.String()),
	}
}

// add appends owner to the slot and reports whether the slot should be
// flushed immediately because it just reached capacity.
func (s *batchSlot) add(owner *meta.Task) (owners []*meta.Task, flush bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners = append(s.owners, owner)
	s.occGauge.Set(float64(len(s.owners)))
	if uint16(len(s.owners)) >= s.maxSize {
		return s.drainLocked(), true
	}
	return nil, false
}

// drain removes and returns everything currently queued, for the background
// promotion manager's timer-driven flush of a partially filled slot.
func (s *batchSlot) drain() []*meta.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainLocked()
}

func (s *batchSlot) drainLocked() []*meta.Task {
	if len(s.owners) == 0 {
		return nil
	}
	owners := s.owners
	s.owners = nil
	s.occGauge.Set(0)
	return owners
}

// dispatchUnit is one combined wire call: either a merge of several
// single-item owner tasks sharing a batchable kind, or a single task passed
// through unmerged (kinds outside the six batchable ones, spec §4.5).
type dispatchUnit struct {
	task   *meta.Task
	owners []*meta.Task // len 0 when task IS the owner (unmerged path)
}

// PGConnectionPool is the batching dispatcher in front of a fixed set of
// PGConnection workers talking to one metadata shard server (spec §4.5). A
// higher-level router (client.Connection) holds one pool per shard server
// and picks the pool by the shard number its caller passes (store.ShardFor
// hashes a path to one).
type PGConnectionPool struct {
	server     meta.ServerIdentifier
	shardLabel string
	conns      []*PGConnection
	rr         atomic.Uint64

	slots        [meta.NumBatchKinds]*batchSlot
	pending      chan *dispatchUnit
	pendingGauge prometheus.Gauge

	promoteBaseMs, promoteJitterMs int64

	stopCh chan struct{}
	g      *errgroup.Group
}

// NewPGConnectionPool builds poolSize connections to server and starts the
// background dispatch and promotion loops.
func NewPGConnectionPool(cfg *conf.Config, server meta.ServerIdentifier, transport Transport) *PGConnectionPool {
	shardLabel := strconv.Itoa(int(server.ID))
	p := &PGConnectionPool{
		server:          server,
		shardLabel:      shardLabel,
		conns:           make([]*PGConnection, cfg.ConnPoolSize),
		pending:         make(chan *dispatchUnit, cfg.PendingQueueMax),
		pendingGauge:    metrics.PendingQueueDepth.WithLabelValues(shardLabel),
		promoteBaseMs:   10,
		promoteJitterMs: 10,
		stopCh:          make(chan struct{}),
	}
	for i := range p.slots {
		p.slots[i] = newBatchSlot(batchKindServiceKind(meta.BatchKind(i)), cfg.BatchTaskMax, shardLabel)
	}
	for i := range p.conns {
		p.conns[i] = NewPGConnection(i, server, transport)
		p.conns[i].Start()
	}
	p.g = new(errgroup.Group)
	p.g.Go(p.dispatchLoop)
	p.g.Go(p.promotionLoop)
	return p
}

// batchKindServiceKind is the inverse of meta.ClassifyBatchKind, used only
// to label a slot for logging.
func batchKindServiceKind(k meta.BatchKind) meta.ServiceKind {
	switch k {
	case meta.BatchMkdir:
		return meta.MKDIR
	case meta.BatchCreate:
		return meta.CREATE
	case meta.BatchStat:
		return meta.STAT
	case meta.BatchUnlink:
		return meta.UNLINK
	case meta.BatchOpen:
		return meta.OPEN
	case meta.BatchClose:
		return meta.CLOSE
	default:
		return meta.PLAIN_COMMAND
	}
}

// DispatchAsyncMetaServiceJob enqueues a single-item task for batching (spec
// §4.5). It returns once the task has been placed in a batch slot or the
// pending queue; the caller awaits the outcome via task.Wait(). A full
// pending queue blocks this call, which is the pool's backpressure
// mechanism (invariant: a producer outrunning the pool stalls rather than
// growing memory without bound).
func (p *PGConnectionPool) DispatchAsyncMetaServiceJob(task *meta.Task) {
	bkind := meta.ClassifyBatchKind(task.Kind)
	if bkind == meta.NotSupport {
		p.enqueue(&dispatchUnit{task: task})
		return
	}
	owners, flush := p.slots[bkind].add(task)
	if flush {
		p.flushOwners(task.Kind, owners)
	}
}

func (p *PGConnectionPool) flushOwners(kind meta.ServiceKind, owners []*meta.Task) {
	if len(owners) == 0 {
		return
	}
	if len(owners) == 1 {
		p.enqueue(&dispatchUnit{task: owners[0]})
		return
	}
	merged := mergeOwners(kind, owners)
	p.enqueue(&dispatchUnit{task: merged, owners: owners})
}

// mergeOwners copies every owner's items into one combined task, recording
// nothing beyond the copy itself — fan-out back to owners happens once the
// combined task completes (see awaitAndFanOut).
func mergeOwners(kind meta.ServiceKind, owners []*meta.Task) *meta.Task {
	total := 0
	for _, o := range owners {
		total += o.Len()
	}
	items := make([]meta.MetaProcessInfo, 0, total)
	for _, o := range owners {
		items = append(items, o.Items...)
	}
	return meta.NewTask(kind, items)
}

func (p *PGConnectionPool) enqueue(u *dispatchUnit) {
	select {
	case p.pending <- u:
		p.pendingGauge.Set(float64(len(p.pending)))
	case <-p.stopCh:
		p.failUnit(u, cerr.PROGRAM_ERROR, errPoolStopped)
	}
}

// dispatchLoop pulls pending units and assigns each to the first idle
// connection (round robin scan), preserving arrival order: a unit at the
// head of pending is not skipped over for one behind it.
func (p *PGConnectionPool) dispatchLoop() error {
	for {
		select {
		case <-p.stopCh:
			p.drainPendingOnStop()
			return nil
		case u := <-p.pending:
			p.pendingGauge.Set(float64(len(p.pending)))
			p.assign(u)
		}
	}
}

func (p *PGConnectionPool) assign(u *dispatchUnit) {
	n := uint64(len(p.conns))
	for {
		start := p.rr.Add(1)
		assigned := false
		for i := uint64(0); i < n; i++ {
			c := p.conns[(start+i)%n]
			if c.TryExec(u.task) {
				assigned = true
				break
			}
		}
		if assigned {
			go p.awaitAndFanOut(u)
			return
		}
		select {
		case <-p.stopCh:
			p.failUnit(u, cerr.PROGRAM_ERROR, errPoolStopped)
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// awaitAndFanOut waits for a (possibly merged) task to complete and, for a
// merged unit, copies each owner's slice of the combined result back into
// the owner task before signaling it.
func (p *PGConnectionPool) awaitAndFanOut(u *dispatchUnit) {
	err := u.task.Wait()
	if len(u.owners) == 0 {
		return // task IS the owner; its own Wait() already unblocked the caller.
	}
	offset := 0
	for _, owner := range u.owners {
		n := owner.Len()
		if err == nil {
			copy(owner.Items, u.task.Items[offset:offset+n])
			owner.Complete(nil, cerr.SUCCESS)
		} else {
			owner.Complete(err, cerr.IO_ERROR)
		}
		offset += n
	}
}

func (p *PGConnectionPool) drainPendingOnStop() {
	for {
		select {
		case u := <-p.pending:
			p.failUnit(u, cerr.PROGRAM_ERROR, errPoolStopped)
		default:
			return
		}
	}
}

func (p *PGConnectionPool) failUnit(u *dispatchUnit, code cerr.Code, err error) {
	if len(u.owners) == 0 {
		u.task.Fail(code, err)
		return
	}
	for _, o := range u.owners {
		o.Fail(code, err)
	}
}

// promotionLoop flushes partially filled batch slots on a jittered timer so
// a low-traffic kind doesn't wait indefinitely for enough arrivals to fill
// its slot (spec §4.5's BackgroundPoolManager).
func (p *PGConnectionPool) promotionLoop() error {
	for {
		wait := time.Duration(conf.Jitter(p.promoteBaseMs, p.promoteJitterMs)) * time.Millisecond
		select {
		case <-p.stopCh:
			return nil
		case <-time.After(wait):
		}
		for i := range p.slots {
			owners := p.slots[i].drain()
			if len(owners) > 0 {
				p.flushOwners(p.slots[i].kind, owners)
			}
		}
	}
}

// Stop drains and force-fails anything still queued or sitting in a batch
// slot with PROGRAM_ERROR, then stops every connection.
func (p *PGConnectionPool) Stop() {
	close(p.stopCh)
	for i := range p.slots {
		if owners := p.slots[i].drain(); len(owners) > 0 {
			for _, o := range owners {
				o.Fail(cerr.PROGRAM_ERROR, errPoolStopped)
			}
		}
	}
	if err := p.g.Wait(); err != nil {
		xlog.Warningf("connpool: pool for %s:%d background loop error: %v", p.server.IP, p.server.Port, err)
	}
	for _, c := range p.conns {
		c.Stop()
	}
	xlog.Infof("connpool: pool for %s:%d stopped", p.server.IP, p.server.Port)
}
