package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// LegacyLogger prints plain lines to stderr. It still sanitizes, and keeps
// the attributes of With so repository context is not lost.
type LegacyLogger struct {
	mu        sync.RWMutex
	level     Level
	out       io.Writer
	sanitizer *Sanitizer
	attrs     []any
}

// NewLegacyLogger returns a legacy logger at LevelInfo
func NewLegacyLogger() *LegacyLogger {
	return &LegacyLogger{
		level:     LevelInfo,
		out:       os.Stderr,
		sanitizer: NewSanitizer(),
	}
}

// SetLevel sets the minimum level
func (l *LegacyLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *LegacyLogger) print(level Level, tag, msg string, args []any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return
	}

	all := append(append([]any{}, l.attrs...), args...)
	line := fmt.Sprintf("[%s] %s", tag, l.sanitizer.Sanitize(msg))
	if len(all) > 0 {
		line += fmt.Sprintf(" %v", l.sanitizer.SanitizeArgs(all))
	}
	fmt.Fprintln(l.out, line)
}

func (l *LegacyLogger) Debug(msg string, args ...any) { l.print(LevelDebug, "DEBUG", msg, args) }
func (l *LegacyLogger) Info(msg string, args ...any)  { l.print(LevelInfo, "INFO", msg, args) }
func (l *LegacyLogger) Warn(msg string, args ...any)  { l.print(LevelWarn, "WARN", msg, args) }
func (l *LegacyLogger) Error(msg string, args ...any) { l.print(LevelError, "ERROR", msg, args) }

// With returns a logger that prefixes args to every line
func (l *LegacyLogger) With(args ...any) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &LegacyLogger{
		level:     l.level,
		out:       l.out,
		sanitizer: l.sanitizer,
		attrs:     append(append([]any{}, l.attrs...), args...),
	}
}

func (l *LegacyLogger) Sync() error     { return nil }
func (l *LegacyLogger) Shutdown() error { return nil }
