package logger

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats accepted by New
const (
	FormatJSON    = "json"
	FormatConsole = "console"
	// FormatAuto picks console on an interactive stderr and JSON otherwise
	FormatAuto = "auto"
)

// Options configures a process logger
type Options struct {
	Debug   bool
	Format  string // FormatJSON (default), FormatConsole or FormatAuto
	Service string // attached to every entry when set
}

// New builds the process logger. JSON output uses ISO8601 timestamps, short
// callers and stack traces from error level up.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	format := opts.Format
	if format == FormatAuto {
		format = FormatJSON
		if stderrIsTerminal() {
			format = FormatConsole
		}
	}

	var config zap.Config
	switch format {
	case "", FormatJSON:
		config = zap.NewProductionConfig()
		config.EncoderConfig = zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
		config.DisableStacktrace = false
	case FormatConsole:
		config = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	config.Level = zap.NewAtomicLevelAt(level)

	l, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	if opts.Service != "" {
		l = l.With(zap.String("service", opts.Service))
	}
	return l, nil
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Sync flushes buffered entries. Errors from syncing stdout/stderr are
// expected on some platforms and dropped.
func Sync(l *zap.Logger) {
	if l == nil {
		return
	}
	_ = l.Sync()
}
