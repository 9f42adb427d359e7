package jit

import "go.uber.org/zap"

// newNopLogger guards against an uninitialized logger field the same way
// a library embedding zap typically does: fall back to a no-op sink
// instead of crashing on a nil *zap.SugaredLogger.
func newNopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
