// Package logging provides the ambient leveled logger used across the
// store: a thin wrapper over logrus, grounded in the context-scoped logger
// of the teacher registry's internal/dcontext package but exposed as a
// package-level default rather than a context value, since the engines
// that use it construct their loggers once at startup.
package logging

import (
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the leveled-logging interface every package in this module
// depends on, never the concrete logrus type, so that call sites stay
// agnostic to the backing implementation.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	WithField(key string, value any) Logger
	WithError(err error) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) Debug(args ...any)                 { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(format string, args ...any)  { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Info(args ...any)                  { l.entry.Info(args...) }
func (l *logrusLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(args ...any)                  { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(args ...any)                 { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
func (l *logrusLogger) WithField(key string, value any) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}
func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = &logrusLogger{
		entry: logrus.StandardLogger().WithField("go.version", runtime.Version()),
	}
)

// Default returns the package-wide logger. Engines and storage backends
// that are not handed a logger explicitly fall back to this one.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the package-wide logger, used by cmd/spfs to wire
// configured level and formatter before any engine runs.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// New wraps a configured logrus.Logger as a Logger.
func New(base *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(base)}
}
