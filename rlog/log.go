// Package rlog is the structured-logging surface resolvcore's engine and
// its collaborators log through. It mirrors resolver.Logger but carries
// the fuller level set (Warn/Panic/Fatal) that standalone commands need;
// resolver.Logger is satisfied by any rlog.Logger.
package rlog

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging interface used throughout resolvcore.
type Logger interface {
	Debug(fields map[string]any, msg string)
	Info(fields map[string]any, msg string)
	Warn(fields map[string]any, msg string)
	Error(fields map[string]any, msg string)
	Panic(fields map[string]any, msg string)
	Fatal(fields map[string]any, msg string)
}

var global Logger = newZapLogger(false, zapcore.InfoLevel)

// SetLogger replaces the global logger instance.
func SetLogger(l Logger) { global = l }

// GetLogger returns the current global logger instance.
func GetLogger() Logger { return global }

// Configure sets up the global logger for env ("dev" or "prod") and a
// zap level name ("debug", "info", "warn", "error").
func Configure(env, level string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("rlog: invalid log level: %w", err)
	}
	global = newZapLogger(env != "prod", lvl)
	return nil
}

func Debug(fields map[string]any, msg string) { global.Debug(fields, msg) }
func Info(fields map[string]any, msg string)  { global.Info(fields, msg) }
func Warn(fields map[string]any, msg string)  { global.Warn(fields, msg) }
func Error(fields map[string]any, msg string) { global.Error(fields, msg) }

type zapLogger struct {
	base *zap.Logger
}

func newZapLogger(dev bool, level zapcore.Level) Logger {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.LevelKey = "level"

	logger, _ := cfg.Build()
	return &zapLogger{base: logger}
}

func (l *zapLogger) Debug(fields map[string]any, msg string) { l.base.With(zapFields(fields)...).Debug(msg) }
func (l *zapLogger) Info(fields map[string]any, msg string)  { l.base.With(zapFields(fields)...).Info(msg) }
func (l *zapLogger) Warn(fields map[string]any, msg string)  { l.base.With(zapFields(fields)...).Warn(msg) }
func (l *zapLogger) Error(fields map[string]any, msg string) { l.base.With(zapFields(fields)...).Error(msg) }
func (l *zapLogger) Panic(fields map[string]any, msg string) { l.base.With(zapFields(fields)...).Panic(msg) }
func (l *zapLogger) Fatal(fields map[string]any, msg string) { l.base.With(zapFields(fields)...).Fatal(msg) }

func zapFields(m map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(m))
	for k, v := range m {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

type noopLogger struct{}

func (noopLogger) Debug(map[string]any, string) {}
func (noopLogger) Info(map[string]any, string)  {}
func (noopLogger) Warn(map[string]any, string)  {}
func (noopLogger) Error(map[string]any, string) {}
func (noopLogger) Panic(map[string]any, string) {}
func (noopLogger) Fatal(map[string]any, string) {}

// NewNoopLogger returns a Logger that discards all log messages.
func NewNoopLogger() Logger { return noopLogger{} }
