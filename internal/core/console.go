package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// ConsoleSink receives console façade calls from hosted code. Level is
// the console method name ("log", "warn", "table", ...).
type ConsoleSink interface {
	Console(entry LogEntry)
}

// ConsoleFunc adapts a plain function to ConsoleSink.
type ConsoleFunc func(entry LogEntry)

// Console calls f(entry).
func (f ConsoleFunc) Console(entry LogEntry) { f(entry) }

// LogrusSink writes console calls to a logrus logger.
type LogrusSink struct {
	entry *logrus.Entry
}

// NewLogrusSink returns a sink logging through l.
func NewLogrusSink(l *logrus.Logger) *LogrusSink {
	return &LogrusSink{entry: l.WithField("component", "console")}
}

// Console implements ConsoleSink.
func (s *LogrusSink) Console(e LogEntry) {
	s.entry.WithField("method", e.Level).Log(ConsoleLevel(e.Level), e.Message)
}

// ConsoleLevel maps a console method to a logrus level.
func ConsoleLevel(method string) logrus.Level {
	switch method {
	case "error", "assert":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "debug", "trace", "time", "countReset", "groupEnd", "clear":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// BufferSink collects console calls in memory.
type BufferSink struct {
	mu      sync.Mutex
	entries []LogEntry
}

// Console implements ConsoleSink.
func (b *BufferSink) Console(e LogEntry) {
	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
}

// Entries returns a copy of everything collected so far.
func (b *BufferSink) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Reset drops collected entries.
func (b *BufferSink) Reset() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
}
