// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides context-carried logging.
//
// The logger travels in the context.Context. Every package logs with
// log.I(ctx, ...) and builds errors with log.Err(ctx, cause, msg), so the
// key/values bound higher up the call stack (capture id, event id, chunk
// offset) show up on every line.
package log

import (
	"context"
	"fmt"
	"os"

	clog "github.com/containerd/log"
	"github.com/sirupsen/logrus"
)

// V is a set of key/value pairs that can be bound to a context.
type V map[string]interface{}

// Bind returns a new context with the values of v attached to its logger.
func (v V) Bind(ctx context.Context) context.Context {
	return clog.WithLogger(ctx, clog.G(ctx).WithFields(logrus.Fields(v)))
}

// Logger provides a logging interface.
type Logger struct {
	entry *logrus.Entry
}

// From returns a new Logger from the context ctx.
func From(ctx context.Context) *Logger {
	return &Logger{entry: clog.G(ctx)}
}

// Bind returns a new Logger from the context ctx with the additional values in
// v.
func Bind(ctx context.Context, v V) *Logger {
	return From(v.Bind(ctx))
}

// Put returns a new context that logs to entry.
func Put(ctx context.Context, entry *logrus.Entry) context.Context {
	return clog.WithLogger(ctx, entry)
}

// D logs a debug message to the logging target.
func D(ctx context.Context, fmt string, args ...interface{}) { From(ctx).D(fmt, args...) }

// I logs a info message to the logging target.
func I(ctx context.Context, fmt string, args ...interface{}) { From(ctx).I(fmt, args...) }

// W logs a warning message to the logging target.
func W(ctx context.Context, fmt string, args ...interface{}) { From(ctx).W(fmt, args...) }

// E logs a error message to the logging target.
func E(ctx context.Context, fmt string, args ...interface{}) { From(ctx).E(fmt, args...) }

// F logs a fatal message to the logging target.
// If stopProcess is true then the process exits after the message is written.
func F(ctx context.Context, stopProcess bool, fmt string, args ...interface{}) {
	From(ctx).F(stopProcess, fmt, args...)
}

// D logs a debug message to the logging target.
func (l *Logger) D(fmt string, args ...interface{}) { l.entry.Debugf(fmt, args...) }

// I logs a info message to the logging target.
func (l *Logger) I(fmt string, args ...interface{}) { l.entry.Infof(fmt, args...) }

// W logs a warning message to the logging target.
func (l *Logger) W(fmt string, args ...interface{}) { l.entry.Warnf(fmt, args...) }

// E logs a error message to the logging target.
func (l *Logger) E(fmt string, args ...interface{}) { l.entry.Errorf(fmt, args...) }

// F logs a fatal message to the logging target.
func (l *Logger) F(stopProcess bool, msg string, args ...interface{}) {
	l.entry.Errorf(msg, args...)
	if stopProcess {
		os.Exit(1)
	}
}

// Fields returns the key/values bound to the logger.
func (l *Logger) Fields() V { return V(l.entry.Data) }

// Entry returns the logrus entry the logger writes to.
func (l *Logger) Entry() *logrus.Entry { return l.entry }

// Setup configures the process wide logger from a level name ("debug",
// "info", ...) and a format ("text" or "json").
func Setup(level, format string) error {
	if level != "" {
		if err := clog.SetLevel(level); err != nil {
			return fmt.Errorf("log level %q: %v", level, err)
		}
	}
	switch format {
	case "", "text":
		return clog.SetFormat(clog.TextFormat)
	case "json":
		return clog.SetFormat(clog.JSONFormat)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
}
