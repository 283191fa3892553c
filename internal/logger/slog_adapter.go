package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SlogLogger is the default Logger, a sanitizing front for log/slog. It
// owns its file outputs; children made by With share them.
type SlogLogger struct {
	*entry
	closers []io.Closer
}

// entry does the logging for a SlogLogger and its children
type entry struct {
	logger    *slog.Logger
	sanitizer *Sanitizer
}

// NewSlogLogger builds a logger writing to every configured output.
// Without outputs it writes to stderr.
func NewSlogLogger(config Config) (*SlogLogger, error) {
	out, closers, err := openOutputs(config)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: config.Level.slogLevel()}
	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &SlogLogger{
		entry: &entry{
			logger:    slog.New(handler),
			sanitizer: NewSanitizer(),
		},
		closers: closers,
	}, nil
}

// openOutputs resolves the configured outputs into one writer plus the
// writers Shutdown has to close. Standard streams are never closed.
func openOutputs(config Config) (io.Writer, []io.Closer, error) {
	var writers []io.Writer
	var closers []io.Closer

	stream := func(custom io.Writer, std *os.File) {
		if custom == nil {
			writers = append(writers, std)
			return
		}
		writers = append(writers, custom)
		if c, ok := custom.(io.Closer); ok && c != os.Stdout && c != os.Stderr {
			closers = append(closers, c)
		}
	}

	for _, output := range config.Outputs {
		switch output.Type {
		case OutputStdout:
			stream(output.Writer, os.Stdout)
		case OutputStderr:
			stream(output.Writer, os.Stderr)
		case OutputFile:
			if !config.File.Enabled {
				continue
			}
			fw, err := createFileWriter(config.File)
			if err != nil {
				for _, c := range closers {
					c.Close()
				}
				return nil, nil, fmt.Errorf("failed to create file writer: %w", err)
			}
			writers = append(writers, fw)
			closers = append(closers, fw)
		}
	}

	switch len(writers) {
	case 0:
		return os.Stderr, closers, nil
	case 1:
		return writers[0], closers, nil
	default:
		return io.MultiWriter(writers...), closers, nil
	}
}

// createFileWriter returns a lumberjack writer rotating at MaxSizeMB
func createFileWriter(config FileConfig) (io.WriteCloser, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSizeMB,
		MaxAge:     config.MaxAgeDays,
		MaxBackups: config.MaxBackups,
		Compress:   config.Compress,
	}, nil
}

func (e *entry) log(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !e.logger.Enabled(ctx, level) {
		return
	}
	e.logger.Log(ctx, level, e.sanitizer.Sanitize(msg), e.sanitizer.SanitizeArgs(args)...)
}

func (e *entry) Debug(msg string, args ...any) { e.log(slog.LevelDebug, msg, args) }
func (e *entry) Info(msg string, args ...any)  { e.log(slog.LevelInfo, msg, args) }
func (e *entry) Warn(msg string, args ...any)  { e.log(slog.LevelWarn, msg, args) }
func (e *entry) Error(msg string, args ...any) { e.log(slog.LevelError, msg, args) }

// With returns a child carrying args on every record. Children do not own
// outputs, so shutting one down is a no-op.
func (e *entry) With(args ...any) Logger {
	return &entry{
		logger:    e.logger.With(e.sanitizer.SanitizeArgs(args)...),
		sanitizer: e.sanitizer,
	}
}

// Sync is a no-op; slog handlers and lumberjack write through
func (e *entry) Sync() error { return nil }

func (e *entry) Shutdown() error { return nil }

// Shutdown closes the owned outputs and returns the first error
func (l *SlogLogger) Shutdown() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.closers = nil
	return first
}
