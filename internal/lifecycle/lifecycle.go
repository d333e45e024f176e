// Package lifecycle holds the process drain state shared by main and the health handler.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// drainStart is the UnixNano time draining began, 0 while serving.
var drainStart atomic.Int64

// SetShuttingDown marks the process as draining (true) or serving (false). Call with true
// when SIGTERM/SIGINT is received; repeated calls keep the first start time.
// Health handler returns 503 with status shutting-down while draining.
func SetShuttingDown(v bool) {
	if !v {
		drainStart.Store(0)
		return
	}
	drainStart.CompareAndSwap(0, time.Now().UnixNano())
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return drainStart.Load() != 0
}

// ShuttingDownSince returns when draining began; ok is false while serving.
func ShuttingDownSince() (since time.Time, ok bool) {
	n := drainStart.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}
