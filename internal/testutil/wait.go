// Package testutil provides polling helpers for tests that observe
// asynchronous behavior.
package testutil

import (
	"testing"
	"time"
)

// WaitFor polls until condition returns true or the timeout is reached.
// Returns true if the condition was met.
func WaitFor(tb testing.TB, condition func() bool, timeout time.Duration) bool {
	tb.Helper()

	const interval = 10 * time.Millisecond
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}
	return condition()
}
