// Package logging provides the zap-backed logger shared by the engine, the runner and the
// bundled nodes.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level names accepted by SetLevel and New.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Logger is the leveled, printf-style logging surface used across the module.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	// Debugw logs a message with alternating key/value pairs.
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// Default writes console-encoded records to stderr at the level set by SetLevel.
var Default Logger = newSugared(zapcore.NewConsoleEncoder(encoderConfig), level)

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "lvl",
	NameKey:        "name",
	CallerKey:      "caller",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.MillisDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

func newSugared(enc zapcore.Encoder, lvl zap.AtomicLevel) *zap.SugaredLogger {
	return zap.New(
		zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), lvl),
		zap.AddCaller(),
	).Sugar()
}

// SetLevel changes the level of Default. Unknown names select info.
func SetLevel(name string) {
	level.SetLevel(parseLevel(name))
}

// New builds an independent logger. format is "json" or "console".
func New(levelName, format string) Logger {
	enc := zapcore.NewConsoleEncoder(encoderConfig)
	if strings.EqualFold(format, "json") {
		enc = zapcore.NewJSONEncoder(encoderConfig)
	}
	return newSugared(enc, zap.NewAtomicLevelAt(parseLevel(levelName)))
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return zap.NewNop().Sugar()
}

// Named returns l scoped to name when l is a zap logger; other implementations are returned
// unchanged.
func Named(l Logger, name string) Logger {
	if s, ok := l.(*zap.SugaredLogger); ok {
		return s.Named(name)
	}
	return l
}

func parseLevel(name string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
