package controller

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
)

// applyResourcePolicy detaches the pass from the caller's deadline and raises
// the soft memory limit when one is configured. The returned func restores
// the previous limit.
func applyResourcePolicy(ctx context.Context, memoryLimit int64, logger *zap.Logger) (context.Context, func()) {
	ctx = context.WithoutCancel(ctx)
	if memoryLimit <= 0 {
		return ctx, func() {}
	}

	previous := debug.SetMemoryLimit(memoryLimit)
	logger.Debug("Raised memory limit", zap.Int64("limit", memoryLimit), zap.Int64("previous", previous))
	return ctx, func() {
		debug.SetMemoryLimit(previous)
	}
}
