// Package shutdown provides the process-wide signal-to-context bridge, so
// main can hand every long-lived component a single ctx that cancels on
// SIGINT/SIGTERM instead of each wiring its own signal.Notify.
package shutdown

import (
	"context"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context canceled on SIGINT or SIGTERM, and the
// stop func that releases the underlying signal notification.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
