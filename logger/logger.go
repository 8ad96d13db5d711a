// Copyright (C) 2014 Jakob Borg and Contributors (see the CONTRIBUTORS file).
// All rights reserved. Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package logger implements a leveled, handler-based logger used
// throughout the offset resolution engine in place of the bare standard
// library "log" package.
package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
)

// LogLevel is the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Handler receives every message logged at or above the level it was
// registered for.
type Handler func(l LogLevel, msg string)

// Logger wraps a standard library *log.Logger with severity levels and
// pluggable handlers, so that a caller (or a facility, see NewFacility)
// can fan a message out to multiple sinks: stderr, a metrics counter, a
// telemetry reporter, a test assertion.
type Logger struct {
	logger   *log.Logger
	handlers map[LogLevel][]Handler
	mut      sync.Mutex
}

// New constructs a Logger writing to stderr by default.
func New() *Logger {
	return &Logger{
		logger:   log.New(os.Stderr, "", log.Ltime),
		handlers: make(map[LogLevel][]Handler),
	}
}

// NewFacility derives a prefixed child Logger, for a single
// package/subsystem ("extractor", "finder", ...). The child starts with a
// copy of the handlers registered on this Logger so far; handlers added
// to either Logger afterwards are not seen by the other.
func (l *Logger) NewFacility(facility, description string) *Logger {
	child := New()
	child.SetPrefix(facility + ": ")
	child.mut.Lock()
	defer child.mut.Unlock()
	l.mut.Lock()
	defer l.mut.Unlock()
	for lvl, hs := range l.handlers {
		child.handlers[lvl] = append([]Handler(nil), hs...)
	}
	_ = description // carried for documentation/introspection only
	return child
}

// AddHandler registers h to be called for every message logged at level or
// above.
func (l *Logger) AddHandler(level LogLevel, h Handler) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.handlers[level] = append(l.handlers[level], h)
}

// SetFlags mirrors log.Logger.SetFlags.
func (l *Logger) SetFlags(flag int) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.logger.SetFlags(flag)
}

// SetPrefix mirrors log.Logger.SetPrefix.
func (l *Logger) SetPrefix(prefix string) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.logger.SetPrefix(prefix)
}

func (l *Logger) callHandlers(level LogLevel, s string) {
	l.mut.Lock()
	hs := make([]Handler, 0)
	for lvl, handlers := range l.handlers {
		if lvl <= level {
			hs = append(hs, handlers...)
		}
	}
	l.mut.Unlock()
	for _, h := range hs {
		h(level, s)
	}
}

func (l *Logger) log(level LogLevel, vals ...interface{}) {
	s := fmt.Sprintln(vals...)
	l.mut.Lock()
	l.logger.Output(3, s)
	l.mut.Unlock()
	l.callHandlers(level, s[:len(s)-1])
}

func (l *Logger) logf(level LogLevel, format string, vals ...interface{}) {
	s := fmt.Sprintf(format, vals...)
	l.mut.Lock()
	l.logger.Output(3, s)
	l.mut.Unlock()
	l.callHandlers(level, s)
}

func (l *Logger) Debugf(format string, vals ...interface{}) { l.logf(LevelDebug, format, vals...) }
func (l *Logger) Debugln(vals ...interface{})                { l.log(LevelDebug, vals...) }
func (l *Logger) Infof(format string, vals ...interface{})   { l.logf(LevelInfo, format, vals...) }
func (l *Logger) Infoln(vals ...interface{})                  { l.log(LevelInfo, vals...) }
func (l *Logger) Warnf(format string, vals ...interface{})   { l.logf(LevelWarn, format, vals...) }
func (l *Logger) Warnln(vals ...interface{})                  { l.log(LevelWarn, vals...) }
func (l *Logger) Errorf(format string, vals ...interface{})  { l.logf(LevelError, format, vals...) }
func (l *Logger) Errorln(vals ...interface{})                 { l.log(LevelError, vals...) }

// CaptureAndRepanic recovers a panic, writes it plus a stack trace to
// panic-<pid>.log next to the running executable, and re-panics with the
// original value so the process still exits non-zero. It is deferred at
// the top of a goroutine that must never fail silently; no package in
// this module defers it itself.
func (l *Logger) CaptureAndRepanic() {
	r := recover()
	if r == nil {
		return
	}

	bin, err := os.Executable()
	var dir string
	if err == nil {
		dir = filepath.Dir(bin)
	}
	path := filepath.Join(dir, fmt.Sprintf("panic-%d.log", os.Getpid()))

	f, ferr := os.Create(path)
	if ferr == nil {
		fmt.Fprintf(f, "Panic: %v\n\nStack trace:\n%s\n", r, debug.Stack())
		f.Close()
	}

	l.Errorf("Panic at %s: %v", path, r)
	runtime.Gosched()
	panic(r)
}

// DefaultLogger is the process-wide root Logger; facility loggers in this
// module derive from it via NewFacility.
var DefaultLogger = New()
