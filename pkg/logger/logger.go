package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Info(msg string, values ...any)
	Warn(msg string, values ...any)
	Error(msg string, values ...any)
	Debug(msg string, values ...any)
	Panic(message string, values ...any)
	Fatal(error error, values ...any)
	Printf(format string, args ...interface{})
}

// init gives packages a usable logger before any config is read.
// LOG_ENV and LOG_LEVEL are honoured until Setup replaces it.
func init() {
	if _, err := NewLogger(buildConfig(os.Getenv("LOG_ENV"), os.Getenv("LOG_LEVEL"), "")); err != nil {
		panic(err)
	}
}

// Setup rebuilds the process logger from loaded configuration. Anything but
// a dev or test env gets JSON output.
func Setup(appName, env, level string) error {
	_, err := NewLogger(buildConfig(env, level, appName))
	return err
}

func buildConfig(env, level, appName string) zap.Config {
	var config zap.Config
	switch env {
	case "", "dev", "test":
		config = zap.NewDevelopmentConfig()
	default:
		config = zap.NewProductionConfig()
	}
	if level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			config.Level = zap.NewAtomicLevelAt(parsed)
		}
	}
	if appName != "" {
		config.InitialFields = map[string]any{"app": appName}
	}
	return config
}

func Info(msg string, values ...any) {
	GetLogger().Info(msg, values...)
}

func Warn(msg string, values ...any) {
	GetLogger().Warn(msg, values...)
}

func Error(msg string, values ...any) {
	GetLogger().Error(msg, values...)
}

func Debug(msg string, values ...any) {
	GetLogger().Debug(msg, values...)
}

func Panic(msg string, values ...any) {
	GetLogger().Panic(msg, values...)
}

func Fatal(error error, values ...any) {
	GetLogger().Fatal(error, values...)
}

// With returns a child logger that carries the given key/value pairs on
// every entry, e.g. logger.With("job_id", id).
func With(values ...any) Logger {
	return GetLogger().With(values...)
}
