package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

var (
	globalLogger *slog.Logger
	once         sync.Once
)

type Config struct {
	Level   string   `json:"level" yaml:"level"`     // debug/info/warn/error
	Outputs []string `json:"outputs" yaml:"outputs"` // stdout/file path
}

func Init(cfg Config) error {
	var err error
	once.Do(func() {
		level := slog.LevelInfo
		switch cfg.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		outputs := cfg.Outputs
		if len(outputs) == 0 {
			outputs = []string{"stdout"}
		}

		var handlers []slog.Handler
		var fileWriters []io.Writer
		for _, output := range outputs {
			switch output {
			case "", "stdout":
				// Console output gets the tinted handler, colored only
				// when attached to a terminal.
				handlers = append(handlers, tint.NewHandler(os.Stdout, &tint.Options{
					Level:      level,
					TimeFormat: time.DateTime,
					NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
				}))
			default:
				if err = os.MkdirAll(filepath.Dir(output), 0755); err != nil {
					return
				}
				file, ferr := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
				if ferr != nil {
					err = ferr
					return
				}
				fileWriters = append(fileWriters, file)
			}
		}
		if len(fileWriters) > 0 {
			handlers = append(handlers, slog.NewTextHandler(
				io.MultiWriter(fileWriters...),
				&slog.HandlerOptions{Level: level},
			))
		}

		switch len(handlers) {
		case 1:
			globalLogger = slog.New(handlers[0])
		default:
			globalLogger = slog.New(fanoutHandler(handlers))
		}
		slog.SetDefault(globalLogger)
	})
	return err
}

func Debug(msg string, args ...interface{}) {
	Logger().Debug(msg, args...)
}

func Info(msg string, args ...interface{}) {
	Logger().Info(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	Logger().Warn(msg, args...)
}

func Error(msg string, args ...interface{}) {
	Logger().Error(msg, args...)
}

func Logger() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// fanoutHandler duplicates every record to all wrapped handlers.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sub := range h {
		if sub.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, sub := range h {
		if !sub.Enabled(ctx, record.Level) {
			continue
		}
		if err := sub.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, sub := range h {
		out[i] = sub.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, sub := range h {
		out[i] = sub.WithGroup(name)
	}
	return out
}
