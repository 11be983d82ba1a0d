package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/nulzo/uniapi/internal/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level, encoding and coloring.
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, console
	EnableColor bool   // console only
}

var (
	globalLogger *zap.Logger
	once         sync.Once
)

// DefaultConfig reads LOG_LEVEL and LOG_FORMAT. Color follows NO_COLOR and
// LOG_COLOR.
func DefaultConfig() Config {
	cfg := Config{Level: "info", Format: "console", EnableColor: cli.Enabled()}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.Level = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("LOG_FORMAT"); ok {
		cfg.Format = strings.ToLower(v)
	}
	return cfg
}

// FromSettings overlays configured level and format on DefaultConfig.
// Empty values keep the environment defaults.
func FromSettings(level, format string) Config {
	cfg := DefaultConfig()
	if level != "" {
		cfg.Level = strings.ToLower(level)
	}
	if format != "" {
		cfg.Format = strings.ToLower(format)
	}
	return cfg
}

// Initialize builds the global logger on stdout. Only the first call has an
// effect.
func Initialize(cfg Config) {
	once.Do(func() {
		globalLogger = New(cfg, zapcore.Lock(os.Stdout))
	})
}

// New builds a standalone logger writing to w.
func New(cfg Config, w zapcore.WriteSyncer) *zap.Logger {
	level := parseLevel(cfg.Level)

	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	switch {
	case cfg.Format == "json":
		enc = zapcore.NewJSONEncoder(ec)
	case cfg.EnableColor:
		ec.EncodeCaller = zapcore.ShortCallerEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = newHighlightEncoder(ec)
	default:
		ec.EncodeCaller = zapcore.ShortCallerEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		enc = zapcore.NewConsoleEncoder(ec)
	}

	opts := []zap.Option{zap.AddCaller()}
	if level == zapcore.DebugLevel {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(zapcore.NewCore(enc, w, level), opts...)
}

// Get returns the global logger, initializing it from the environment when
// Initialize was never called.
func Get() *zap.Logger {
	Initialize(DefaultConfig())
	return globalLogger
}

func Info(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Fatal(msg, fields...)
}

func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

// parseLevel falls back to info for unknown names.
func parseLevel(name string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
