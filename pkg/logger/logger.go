// pkg/logger/logger.go

// Package logger wraps zap for the tracker. Records logged through
// WithContext carry the stream session_id so every line of one
// websocket session can be correlated.
package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	sessionIDKey contextKey = "session_id"
)

// Config selects the minimum level ("debug", "info", "warn", "error";
// empty means info) and the encoding: JSON unless DevMode is set.
type Config struct {
	Level   string
	DevMode bool
}

func (c Config) level() (zapcore.Level, error) {
	if c.Level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return lvl, fmt.Errorf("logger: invalid level %q: %w", c.Level, err)
	}
	return lvl, nil
}

// Logger is the handle every component receives, usually Named after it.
type Logger struct {
	raw *zap.Logger
}

// New builds a Logger from cfg. Call Sync before the process exits.
func New(cfg Config) (*Logger, error) {
	lvl, err := cfg.level()
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.DevMode {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		// the message path can log per frame; keep bursts bounded
		zapCfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	ec := &zapCfg.EncoderConfig
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder

	zl, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("logger: build zap: %w", err)
	}
	return &Logger{raw: zl}, nil
}

// NewNop discards everything.
func NewNop() *Logger { return &Logger{raw: zap.NewNop()} }

// FromZap wraps zl, e.g. an observer core in tests.
func FromZap(zl *zap.Logger) *Logger { return &Logger{raw: zl} }

// Sync flushes buffered entries, ignoring the error stdout/stderr
// return on some platforms.
func (l *Logger) Sync() { _ = l.raw.Sync() }

func (l *Logger) Named(name string) *Logger { return &Logger{raw: l.raw.Named(name)} }

func (l *Logger) With(fields ...zap.Field) *Logger { return &Logger{raw: l.raw.With(fields...)} }

// WithContext attaches the trace and session ids found in ctx. Without
// either it returns l itself.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var fields []zap.Field
	for _, key := range []contextKey{traceIDKey, sessionIDKey} {
		if v, ok := ctx.Value(key).(string); ok {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

func (l *Logger) Sugar() *zap.SugaredLogger { return l.raw.Sugar() }

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.raw.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.raw.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.raw.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.raw.Error(msg, fields...) }

// ContextWithTraceID returns ctx carrying tid for WithContext.
func ContextWithTraceID(ctx context.Context, tid string) context.Context {
	return context.WithValue(ctx, traceIDKey, tid)
}

// ContextWithSessionID returns ctx carrying the websocket session id.
func ContextWithSessionID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sid)
}
