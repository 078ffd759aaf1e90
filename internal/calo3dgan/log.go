package calo3dgan

import "go.uber.org/zap"

var logger = zap.NewNop()

// SetLogger replaces the package logger; nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// Logger returns the package logger.
func Logger() *zap.Logger { return logger }

func DebugLog(format string, args ...interface{}) {
	logger.Sugar().Debugf(format, args...)
}
