package badgerstore

import (
	"fmt"
	"strings"

	"github.com/Ning0612/Treewagon/internal/logger"
)

// badgerLogger routes Badger's internal messages into the application logger.
// Info and debug chatter is demoted to Debug.
type badgerLogger struct {
	log logger.Logger
}

func newBadgerLogger(log logger.Logger) *badgerLogger {
	return &badgerLogger{log: log.With("component", "badger")}
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(trimf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(trimf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(trimf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(trimf(format, args...))
}

func trimf(format string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
