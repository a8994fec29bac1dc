// Package obslog provides the structured logging surface of the engine;
// today its only caller is engine.Start, which logs the error that halted
// a run. The scheduler adapters and the engine's panic recovery do not
// log. It wraps logrus rather than printing with fmt, matching the
// structured, field-tagged diagnostics style used elsewhere in the
// retrieved pack.
package obslog

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the narrow surface the engine depends on. A *logrus.Entry
// satisfies it directly.
type Logger interface {
	WithField(key string, value any) Logger
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type entryLogger struct {
	entry *logrus.Entry
}

func (l entryLogger) WithField(key string, value any) Logger {
	return entryLogger{entry: l.entry.WithField(key, value)}
}
func (l entryLogger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l entryLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l entryLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l entryLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

var (
	baseOnce sync.Once
	base     *logrus.Logger
)

func baseLogger() *logrus.Logger {
	baseOnce.Do(func() {
		base = logrus.New()
		base.SetLevel(logrus.WarnLevel)
	})
	return base
}

// New returns the default logger for a state machine named name.
func New(name string) Logger {
	return entryLogger{entry: baseLogger().WithField("machine", name)}
}

// Discard is a Logger that drops every message. It is not the engine's
// default (that is New); pass it through engine.WithLogger to silence a
// machine.
var Discard Logger = discard{}

type discard struct{}

func (discard) WithField(string, any) Logger { return discard{} }
func (discard) Debugf(string, ...any)        {}
func (discard) Infof(string, ...any)         {}
func (discard) Warnf(string, ...any)         {}
func (discard) Errorf(string, ...any)        {}
