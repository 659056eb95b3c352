// log.go - logging backend shared by every core package.
// SPDX-License-Identifier: AGPL-3.0-only

// Package log wraps gopkg.in/op/go-logging.v1 behind a small Backend
// type, the way the teacher's core/log package hands named loggers to
// every component instead of each one configuring its own sink.
package log

import (
	"fmt"
	"io"
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

// Level aliases the underlying logging levels so callers don't need to
// import op/go-logging directly.
type Level = logging.Level

const (
	LevelError   = logging.ERROR
	LevelWarning = logging.WARNING
	LevelInfo    = logging.INFO
	LevelDebug   = logging.DEBUG
)

// Backend owns one or more log writers and hands out named loggers
// that all share the same level and format.
type Backend struct {
	level   Level
	backend logging.LeveledBackend
}

// New constructs a Backend writing to w at the given level. Passing a
// nil writer defaults to os.Stderr.
func New(w io.Writer, level Level) *Backend {
	if w == nil {
		w = os.Stderr
	}
	format := logging.MustStringFormatter(
		`%{time:15:04:05.000} %{level:.4s} %{module}: %{message}`,
	)
	raw := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(raw, format)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, "")
	return &Backend{level: level, backend: leveled}
}

// GetLogger returns a logger scoped to the given module name; all
// loggers from the same Backend share its level and output.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b.backend)
	return l
}

// GetLogWriter returns an io.Writer that logs the bytes of each Write
// call as one entry at the given level, under module. Used to pipe a subprocess's stderr
// into the structured log the way server/cborplugin does for plugins.
func (b *Backend) GetLogWriter(module string, level string) io.Writer {
	l := b.GetLogger(module)
	fn := l.Debugf
	switch level {
	case "ERROR":
		fn = l.Errorf
	case "WARNING":
		fn = l.Warningf
	case "INFO":
		fn = l.Infof
	}
	return &lineWriter{logf: fn}
}

type lineWriter struct {
	logf func(string, ...interface{})
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.logf("%s", fmt.Sprintf("%s", p))
	return len(p), nil
}
