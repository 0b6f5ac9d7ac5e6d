// Package logging provides the module-wide logger: a zap SugaredLogger with
// an optional lumberjack-rotated file sink. Callers that already run zap can
// install their own logger with Set.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var defaultLogger *zap.SugaredLogger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	defaultLogger = l.Sugar()
}

// Logger returns the logger in use.
func Logger() *zap.SugaredLogger {
	return defaultLogger
}

// Set replaces the logger in use. A nil logger mutes the package.
func Set(l *zap.SugaredLogger) {
	if l == nil {
		defaultLogger = zap.NewNop().Sugar()
		return
	}
	defaultLogger = l
}

// SetFileLogger routes log output to path with size-based rotation.
func SetFileLogger(path string, level zapcore.Level) {
	ws := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     15, // days
	})
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), ws, level)
	defaultLogger = zap.New(core).Sugar()
}

func Debugf(format string, args ...interface{}) {
	defaultLogger.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	defaultLogger.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	defaultLogger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	defaultLogger.Errorf(format, args...)
}
