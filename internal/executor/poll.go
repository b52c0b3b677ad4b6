package executor

import (
	"context"
	"fmt"
	"time"
)

// Polling bounds. Every remote call has an explicit upper bound; exceeding
// it is a failure, never "still running".
const (
	PollInterval   = 500 * time.Millisecond
	QuickAttempts  = 10
	ListTimeout    = 10 * time.Second
	CopyTimeout    = 30 * time.Second
	StartupTimeout = 180 * time.Second
)

// AwaitExit polls h until it reaches a terminal status or timeout elapses.
// It returns the final status, or an error on timeout / context cancel.
func AwaitExit(ctx context.Context, h Handle, timeout time.Duration) (Status, error) {
	deadline := time.Now().Add(timeout)
	for {
		st := h.Status()
		if st.Terminal() {
			return st, nil
		}
		if time.Now().After(deadline) {
			return st, fmt.Errorf("command %q did not finish within %s", h.CommandLine(), timeout)
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

// AwaitQuick polls h for at most QuickAttempts intervals (~5s) and reports
// whether it reached a terminal status.
func AwaitQuick(ctx context.Context, h Handle) (Status, bool) {
	for i := 0; i < QuickAttempts; i++ {
		st := h.Status()
		if st.Terminal() {
			return st, true
		}
		select {
		case <-ctx.Done():
			return st, false
		case <-time.After(PollInterval):
		}
	}
	return h.Status(), false
}
