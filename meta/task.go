package meta

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/teris-io/shortid"

	"github.com/cuckoofs/cuckoo/cerr"
)

// ErrCorruptResponse is the transport-level error a Task fails with when its
// response blob doesn't decode cleanly (spec §4.1/§4.2: corruption is never
// fatal to the process, but it does fail the whole task).
var ErrCorruptResponse = errors.New("meta: corrupt response stream")

// Task is the unit dispatched to a PGConnection (spec §3, §4.4): either a
// single item or a batch of same-kind items sharing one underlying
// connection round trip. The original's mutex + condition variable + done
// flag (cuckoo_client/src/include/connection.h's Task) is reimagined here as
// a done channel: closing it is both the "signal" and the "flag", so a
// waiter can select on it instead of looping under a lock.
type Task struct {
	Kind  ServiceKind
	Items []MetaProcessInfo

	// TraceID identifies this task in log lines across the connection pool
	// and the connection that executes it, so a pending-queue/batching delay
	// and its eventual wire failure can be correlated by hand from logs
	// alone (the original had no equivalent; nothing here maps to a spec
	// section beyond the general logging expectations of spec §4.4).
	TraceID string

	// Param is the encoded request blob built from Items by EncodeParam
	// (spec §4.2), handed to the connection's RPC call as-is.
	Param SerializedData

	// Response is the encoded reply blob the connection fills in; Items is
	// updated in place from it via DecodeResponse once the task completes.
	Response SerializedData

	done     chan struct{}
	once     sync.Once
	transErr error // non-nil on transport/connection failure (spec §4.4: every
	// item gets PROGRAM_ERROR/IO_ERROR rather than losing the failure).
}

// NewTask builds a Task for a batch of items that all share kind. A
// single-item task is just NewTask(kind, items[:1]).
func NewTask(kind ServiceKind, items []MetaProcessInfo) *Task {
	return &Task{Kind: kind, Items: items, TraceID: newTraceID(), done: make(chan struct{})}
}

// newTraceID stamps a short, non-cryptographic id onto a newly built Task.
// shortid.Generate only errors when its internal worker/epoch state is
// invalid, which never happens with the package default generator, so a
// failure falls back to an empty TraceID rather than failing task creation.
func newTraceID() string {
	id, err := shortid.Generate()
	if err != nil {
		return ""
	}
	return id
}

// Len reports how many items this task carries.
func (t *Task) Len() int { return len(t.Items) }

// Encode packs every item's request fields into Param, ready to hand to a
// connection.
func (t *Task) Encode() {
	t.Param.Reset()
	for i := range t.Items {
		EncodeParam(&t.Param, &t.Items[i])
	}
}

// Finish decodes resp into Items and signals Done. Called exactly once by
// whichever connection executed the task.
func (t *Task) Finish(resp []byte) {
	t.once.Do(func() {
		t.Response.Wrap(resp)
		pos := 0
		for i := range t.Items {
			payload, span := t.Response.RecordAt(pos)
			if span == ErrCorrupt {
				t.failAll(cerr.PROGRAM_ERROR, ErrCorruptResponse)
				return
			}
			if !DecodeResponse(t.Kind, payload, &t.Items[i]) {
				t.failAll(cerr.PROGRAM_ERROR, ErrCorruptResponse)
				return
			}
			pos += span
		}
		close(t.done)
	})
}

// Fail marks every item with code, used when the connection itself failed
// (dial error, timeout, broken pipe) before a response was ever received —
// spec §4.4's "a connection failure fails every item in the task, never
// silently drops it."
func (t *Task) Fail(code cerr.Code, err error) {
	t.once.Do(func() { t.failAll(code, err) })
}

// failAll marks every item and closes done. Must only be called while
// already inside t.once.Do (directly from Fail, or from within Finish's own
// Do callback on decode failure) — sync.Once.Do is not reentrant.
func (t *Task) failAll(code cerr.Code, err error) {
	t.transErr = err
	for i := range t.Items {
		t.Items[i].ErrorCode = code
	}
	close(t.done)
}

// Complete delivers an already-decoded outcome to t: used by a caller (the
// connection pool) that merged several single-item Tasks into one combined
// wire call and decoded the combined response itself, then copied each
// item's result back into its owner Task's Items before calling Complete.
func (t *Task) Complete(err error, code cerr.Code) {
	t.once.Do(func() {
		if err != nil {
			t.failAll(code, err)
			return
		}
		close(t.done)
	})
}

// Wait blocks until the task's connection has finished with it (response
// decoded, or failed). Safe to call from multiple goroutines.
func (t *Task) Wait() error {
	<-t.done
	return t.transErr
}

// Done returns the channel closed when the task completes, for callers that
// want to select on it alongside a context deadline.
func (t *Task) Done() <-chan struct{} { return t.done }
