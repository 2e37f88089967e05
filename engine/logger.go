package engine

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the engine's default logger instance.
// It uses a no-op logger unless SetLogger installed one first.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger installs the package default used by states created without
// WithLogger. States already built keep the logger they were given.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}
