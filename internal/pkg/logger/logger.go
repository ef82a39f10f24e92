// Package logger is the coffee shop's zap logger.
//
// Every entry carries service=coffeeshop. Event-sourcing code tags entries
// with the helpers in fields.go (aggregate, event, processing group) so one
// event can be followed from append through projection or dead letter. The
// level is atomic and can change while the server runs.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// global is the package-level logger instance.
	global      *zap.Logger
	atomicLevel = zap.NewAtomicLevel()
	once        sync.Once
	nop         = zap.NewNop()
)

// ServiceName is stamped on every entry.
const ServiceName = "coffeeshop"

// KeyService is the field carrying ServiceName.
const KeyService = "service"

// Init builds the process logger once. level is debug, info, warn or error;
// format is json (default) or console.
func Init(level, format string) error {
	var initErr error
	once.Do(func() {
		if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
			initErr = fmt.Errorf("parse log level %q: %w", level, err)
			return
		}

		cfg := buildConfig(format)
		logger, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			initErr = fmt.Errorf("build logger: %w", err)
			return
		}
		global = logger
	})
	return initErr
}

func buildConfig(format string) zap.Config {
	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = atomicLevel
	cfg.InitialFields = map[string]interface{}{KeyService: ServiceName}
	return cfg
}

// SetLevel changes the level of the running logger.
func SetLevel(level string) error {
	return atomicLevel.UnmarshalText([]byte(level))
}

// GetLevel returns the current log level.
func GetLevel() zapcore.Level {
	return atomicLevel.Level()
}

// L returns the global logger. Before Init it returns a no-op logger so that
// library packages can log from tests without wiring.
func L() *zap.Logger {
	if global == nil {
		return nop
	}
	return global
}

// Debug logs a message at DebugLevel.
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info logs a message at InfoLevel.
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn logs a message at WarnLevel.
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error logs a message at ErrorLevel.
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Level exposes the atomic level; it implements http.Handler for
// GET/PUT level changes at runtime.
func Level() *zap.AtomicLevel {
	return &atomicLevel
}

// Sync flushes any buffered log entries.
func Sync() error {
	if global == nil {
		return nil
	}
	return global.Sync()
}
