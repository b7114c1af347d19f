package hll

import (
	"sync"

	"go.uber.org/zap"
)

// The only events in this package worth a structured log line are storage
// mode promotions (explicit/sparse -> dense, hashlist -> dense) and MLE
// non-convergence.  Both are rare relative to insert/union, so logging here
// never touches the hot path.  Defaults to a no-op logger so importers that
// never call SetLogger pay nothing.

var (
	loggerMu sync.RWMutex
	pkgLog   = zap.NewNop()
)

// SetLogger installs the *zap.Logger used for mode-transition and
// MLE-non-convergence diagnostics.  Passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	pkgLog = l
}

func currentLogger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return pkgLog
}
