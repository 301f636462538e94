// Package logger is the engine's thin wrapper over zap. Components receive a
// *Logger and scope it with WithFields; the composition root decides level,
// encoding, and destination once at startup.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger carries a configured zap logger.
type Logger struct {
	zap *zap.Logger
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default returns the process-wide logger: info level, console encoding on a
// terminal, JSON otherwise. Used by components constructed before the
// configured logger exists.
func Default() *Logger {
	defaultOnce.Do(func() {
		log, err := New("info", detectFormat(), "stdout")
		if err != nil {
			fallback, _ := zap.NewProduction()
			log = &Logger{zap: fallback}
		}
		defaultLogger = log
	})
	return defaultLogger
}

// SetDefault replaces the process-wide logger with the configured one.
func SetDefault(log *Logger) {
	defaultOnce.Do(func() {})
	defaultLogger = log
}

// New builds a logger. level is debug/info/warn/error; format is "json" or
// "console"/"text"; outputPath is stdout, stderr, or a file appended to.
func New(level, format, outputPath string) (*Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch format {
	case "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer
	switch outputPath {
	case "", "stdout":
		sink = zapcore.AddSync(os.Stdout)
	case "stderr":
		sink = zapcore.AddSync(os.Stderr)
	default:
		file, err := os.OpenFile(outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		sink = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(enc, sink, lvl)
	return &Logger{
		zap: zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)),
	}, nil
}

// detectFormat picks JSON when the process clearly runs non-interactively.
func detectFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTDECK_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "console"
}

// WithFields returns a logger that attaches the fields to every entry.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// Sync flushes buffered entries. Called once on shutdown.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
