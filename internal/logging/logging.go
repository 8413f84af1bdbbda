// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the gateway's structured, component-tagged
// logger. It wraps github.com/charmbracelet/log and adds a sink hook so the
// Diagnostics Collector (internal/diagnostics) can mirror every line into
// its in-memory ring buffer without owning the logger itself.
package logging

import (
	"io"
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

var (
	base = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02T15:04:05.000Z07:00",
	})

	sinksMu sync.RWMutex
	sinks   []Sink

	readyMu sync.RWMutex
	ready   bool
)

// Sink receives every log line emitted after AddSink is called, regardless
// of component. Used by the Diagnostics Collector to fill its ring buffer
// and its unbounded startup log.
type Sink func(level string, msg string)

// AddSink registers a sink. Sinks are called synchronously and must not
// block or re-enter the logging package.
func AddSink(s Sink) {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	sinks = append(sinks, s)
}

// MarkReady flips the startup/runtime boundary used by IsStartup.
func MarkReady() {
	readyMu.Lock()
	ready = true
	readyMu.Unlock()
}

// IsStartup reports whether the process has not yet finished its startup
// sequence. The Diagnostics Collector routes lines emitted while this is
// true to its unbounded startup log instead of the bounded ring buffer.
func IsStartup() bool {
	readyMu.RLock()
	defer readyMu.RUnlock()
	return !ready
}

// Logger is a component-tagged, fluent logger.
type Logger struct {
	l *charmlog.Logger
}

// Get returns a Logger tagged with the given component name.
func Get(component string) *Logger {
	return &Logger{l: base.With("component", component)}
}

// With returns a copy of l with additional key/value pairs attached.
func (lg *Logger) With(kv ...any) *Logger {
	return &Logger{l: lg.l.With(kv...)}
}

// WithError returns a copy of l with an "error" field attached.
func (lg *Logger) WithError(err error) *Logger {
	if err == nil {
		return lg
	}
	return &Logger{l: lg.l.With("error", err.Error())}
}

func (lg *Logger) notify(level, msg string) {
	sinksMu.RLock()
	defer sinksMu.RUnlock()
	for _, s := range sinks {
		s(level, msg)
	}
}

// Debug logs at debug level.
func (lg *Logger) Debug(msg string, kv ...any) {
	lg.l.Debug(msg, kv...)
	lg.notify("debug", msg)
}

// Info logs at info level.
func (lg *Logger) Info(msg string, kv ...any) {
	lg.l.Info(msg, kv...)
	lg.notify("info", msg)
}

// Warn logs at warn level.
func (lg *Logger) Warn(msg string, kv ...any) {
	lg.l.Warn(msg, kv...)
	lg.notify("warn", msg)
}

// Error logs at error level.
func (lg *Logger) Error(msg string, kv ...any) {
	lg.l.Error(msg, kv...)
	lg.notify("error", msg)
}

// SetLevel sets the minimum level the base logger emits.
func SetLevel(level string) {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return
	}
	base.SetLevel(lvl)
}

// SetOutput redirects the base logger, letting the process entrypoint
// honor a configured log-file path instead of the os.Stderr default.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}
