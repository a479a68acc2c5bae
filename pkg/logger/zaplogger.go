package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a sugared zap logger to Logger. Its level can be changed
// at runtime through SetLevel.
type ZapLogger struct {
	log   *zap.SugaredLogger
	level zap.AtomicLevel
}

var current atomic.Pointer[ZapLogger]

// NewLogger builds a logger from config and makes it the process-wide one
// used by the package-level helpers.
func NewLogger(config zap.Config) (*ZapLogger, error) {
	built, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	l := &ZapLogger{log: built.Sugar(), level: config.Level}
	if prev := current.Swap(l); prev != nil {
		_ = prev.Sync()
	}
	return l, nil
}

func GetLogger() *ZapLogger {
	l := current.Load()
	if l == nil {
		panic("logger not initialized")
	}
	return l
}

// With keeps the caller skip of the package-level helpers minus one, since
// child loggers are called directly.
func (l *ZapLogger) With(values ...any) *ZapLogger {
	return &ZapLogger{log: l.log.WithOptions(zap.AddCallerSkip(-1)).With(values...), level: l.level}
}

// SetLevel accepts zap level names such as debug, info or warn.
func (l *ZapLogger) SetLevel(level string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(parsed)
	return nil
}

func (l *ZapLogger) Level() string {
	return l.level.Level().String()
}

func (l *ZapLogger) Sync() error {
	return l.log.Sync()
}

func (l *ZapLogger) Panic(message string, values ...any) {
	l.log.Panicw(message, values...)
}

func (l *ZapLogger) Fatal(err error, values ...any) {
	l.log.Fatalw(err.Error(), values...)
}

func (l *ZapLogger) Info(message string, values ...any) {
	l.log.Infow(message, values...)
}

func (l *ZapLogger) Warn(message string, values ...any) {
	l.log.Warnw(message, values...)
}

func (l *ZapLogger) Error(message string, values ...any) {
	l.log.Errorw(message, values...)
}

func (l *ZapLogger) Debug(message string, values ...any) {
	l.log.Debugw(message, values...)
}

// Printf lets the logger stand in for fasthttp's server logger.
func (l *ZapLogger) Printf(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}
