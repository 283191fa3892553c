// Package logger provides the sanitizing structured logger used across
// treewagon. Repository addresses, tokens and password hashes are masked
// before they reach any output.
package logger

import (
	"fmt"
	"os"
	"sync"
)

// LegacyEnv switches Init to the plain stderr logger when set to "true"
const LegacyEnv = "TREEWAGON_USE_LEGACY_LOGGER"

var (
	defaultLogger Logger
	mu            sync.RWMutex
	initialized   bool
)

// Init installs the global logger. It fails when a logger is already
// installed; call Shutdown first.
func Init(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return fmt.Errorf("logger already initialized; call Shutdown() before re-initializing")
	}

	if os.Getenv(LegacyEnv) == "true" {
		legacy := NewLegacyLogger()
		legacy.SetLevel(config.Level)
		defaultLogger = legacy
		initialized = true
		return nil
	}

	l, err := NewSlogLogger(config)
	if err != nil {
		return fmt.Errorf("failed to create slog logger: %w", err)
	}
	defaultLogger = l
	initialized = true
	return nil
}

// Get returns the global logger, or a NullLogger before Init
func Get() Logger {
	mu.RLock()
	defer mu.RUnlock()

	if !initialized {
		return &NullLogger{}
	}
	return defaultLogger
}

// With returns a child of the global logger
func With(args ...any) Logger {
	return Get().With(args...)
}

// Sync flushes the global logger
func Sync() error {
	return Get().Sync()
}

// Shutdown closes the global logger's outputs. It is safe to call when no
// logger is installed.
func Shutdown() error {
	mu.Lock()
	if !initialized {
		mu.Unlock()
		return nil
	}
	l := defaultLogger
	initialized = false
	mu.Unlock()

	// Closing may block on the log file; do it without holding mu
	return l.Shutdown()
}

// SetLevel changes the level of a legacy logger; slog handlers keep the
// level they were built with
func SetLevel(level Level) {
	mu.RLock()
	defer mu.RUnlock()

	if legacy, ok := defaultLogger.(*LegacyLogger); ok {
		legacy.SetLevel(level)
	}
}

// NullLogger discards everything
type NullLogger struct{}

func (n *NullLogger) Debug(msg string, args ...any) {}
func (n *NullLogger) Info(msg string, args ...any)  {}
func (n *NullLogger) Warn(msg string, args ...any)  {}
func (n *NullLogger) Error(msg string, args ...any) {}
func (n *NullLogger) With(args ...any) Logger       { return n }
func (n *NullLogger) Sync() error                   { return nil }
func (n *NullLogger) Shutdown() error               { return nil }
