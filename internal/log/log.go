package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger is the logging handle passed to every component. It wraps a zap
// sugared logger but keeps the small key/value API used across the code:
//
//	log.Info("ring", "key", key, "targets", n)
//	log.Error("remote ring failed", err, "host", host)
type Logger struct {
	z *zap.SugaredLogger
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
	defaultMu     sync.RWMutex
)

// New builds a logger writing to stderr with timestamps at the given
// minimum level.
func New(level Level) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoder := zapcore.NewConsoleEncoder(cfg)
	ws := zapcore.Lock(os.Stderr)
	core := zapcore.NewCore(encoder, ws, zap.NewAtomicLevelAt(toZapLevel(level)))

	return &Logger{z: zap.New(core).Sugar()}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

// LevelFor maps the debug switch to a level.
func LevelFor(debug bool) Level {
	if debug {
		return LevelDebug
	}
	return LevelInfo
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
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

// With returns a child logger that always includes the given pairs.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{z: l.z.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) {
	l.z.Debugw(msg, kv...)
}

func (l *Logger) Info(msg string, kv ...any) {
	l.z.Infow(msg, kv...)
}

func (l *Logger) Warn(msg string, kv ...any) {
	l.z.Warnw(msg, kv...)
}

func (l *Logger) Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	l.z.Errorw(msg, extended...)
}

// Sync flushes buffered entries. Errors from syncing stderr are ignored.
func (l *Logger) Sync() {
	_ = l.z.Sync()
}

// Default returns the process-wide logger used before the configured
// handle exists (flag parsing, config loading).
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		if defaultLogger == nil {
			defaultLogger = New(LevelInfo)
		}
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultOnce.Do(func() {})
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

func Debug(msg string, kv ...any) {
	Default().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	Default().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	Default().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	Default().Error(msg, err, kv...)
}
