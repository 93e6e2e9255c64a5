// Package zaplog holds the process-wide logger that harness components fall
// back on when no logger is handed to them directly.
package zaplog

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

// Logger returns the registered logger, or nil before SetLogger ran.
func Logger() *zap.Logger { return logger.Load() }

// SetLogger registers l as the process-wide logger.
func SetLogger(l *zap.Logger) { logger.Store(l) }
