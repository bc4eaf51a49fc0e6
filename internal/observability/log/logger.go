// Package log wraps zap behind the small surface the kernel needs. Logging
// is observation only: nothing a logger does may influence simulation state.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log field.
type Field = zap.Field

// Field constructors, re-exported so call sites never import zap directly.
var (
	String = zap.String
	Int    = zap.Int
	Uint32 = zap.Uint32
	Uint64 = zap.Uint64
	Bool   = zap.Bool
	Any    = zap.Any
	Err    = zap.Error
)

// Logger is a leveled structured logger.
type Logger struct {
	z *zap.Logger
}

// New builds a JSON logger writing to stderr at the given level. Unknown
// level strings fall back to info.
func New(level string) *Logger {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    true,
	}
	z, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return &Logger{z: z}
}

// Nop returns a logger that discards everything. Tests use it.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func (l *Logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields ...Field) *Logger { return &Logger{z: l.z.With(fields...)} }

// Sync flushes buffered entries; call on shutdown.
func (l *Logger) Sync() error { return l.z.Sync() }
