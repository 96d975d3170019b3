package meta

import "sync"

// Scratch is the per-call replacement for the original's thread-local
// ConnectionCache (cuckoo_client/src/include/connection.h): a reusable
// parameter-encoding buffer a caller threads through client.Connection
// methods instead of relying on a package-level thread-local (spec §9's
// Design Note on globals — "recast as explicit thread-local storage
// acquired per call, or an arena parameter threaded through the codec").
type Scratch struct {
	Param SerializedData
}

var scratchPool = sync.Pool{New: func() any { return new(Scratch) }}

// NewScratch borrows a Scratch from a shared pool, resetting it for reuse.
// Callers return it with PutScratch when done; a caller that doesn't return
// it simply loses the reuse benefit; correctness is unaffected.
func NewScratch() *Scratch {
	sc := scratchPool.Get().(*Scratch)
	sc.Param.Reset()
	return sc
}

// PutScratch returns sc to the shared pool.
func PutScratch(sc *Scratch) { scratchPool.Put(sc) }

// NewTaskWithScratch builds a single-round-trip Task whose Param buffer
// starts out backed by sc's pooled buffer instead of a fresh allocation.
// Callers must pass the Task to Scratch.Retain once it completes (and
// before PutScratch) so any growth Encode needed gets pooled too, rather
// than silently reverting to sc's original, smaller buffer next borrow.
func NewTaskWithScratch(kind ServiceKind, items []MetaProcessInfo, sc *Scratch) *Task {
	t := &Task{Kind: kind, Items: items, TraceID: newTraceID(), done: make(chan struct{})}
	t.Param = sc.Param
	return t
}

// Retain copies t's (possibly grown) Param buffer back into sc so the next
// NewScratch borrow benefits from the larger capacity instead of the one sc
// started with.
func (sc *Scratch) Retain(t *Task) { sc.Param = t.Param }
