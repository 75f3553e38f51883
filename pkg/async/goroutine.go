// Package async runs background tasks with panic recovery and timeout
// enforcement. Use Go instead of a bare goroutine for maintenance work
// (reconciliation runs, config reloads) so a panic in one task cannot take
// the process down.
package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/alanvitalp/road-to-next/pkg/observability"
)

// Go executes fn in a goroutine with a timeout derived from parentCtx.
// Panics are recovered and logged with a stack trace; errors are logged and
// dropped. Tasks whose failure the caller must act on should not go through
// here.
func Go(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()
}
