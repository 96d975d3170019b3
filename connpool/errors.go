package connpool

import "github.com/pkg/errors"

// errPoolStopped is the cause attached to every task failed out during or
// after Stop (spec §4.5: draining never silently drops a queued task).
var errPoolStopped = errors.New("connpool: pool stopped")
