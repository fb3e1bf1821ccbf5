// Package logging provides the leveled logger shared by every foundry-chat
// component. Callers may supply their own implementation of Logger.
package logging

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// Level defines the level of logging
type Level int

const (
	// LevelError only shows error messages
	LevelError Level = iota
	// LevelWarn shows warning and error messages
	LevelWarn
	// LevelInfo shows info, warning and error messages
	LevelInfo
	// LevelDebug shows all messages except trace
	LevelDebug
	// LevelTrace shows all messages including raw wire traffic
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts a configuration string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger is the interface for logging, it can be overridden by the client code
type Logger interface {
	SetLevel(level Level)
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
	Trace(format string, v ...interface{})
}

// StdLogger writes through the standard library log package.
type StdLogger struct {
	mu     sync.RWMutex
	level  Level
	prefix string
}

// New creates a new logger with the specified log level
func New(level Level) *StdLogger {
	return &StdLogger{level: level}
}

// Named returns a logger sharing nothing but the level, whose messages are
// tagged with the component name.
func (l *StdLogger) Named(component string) *StdLogger {
	return &StdLogger{level: l.getLevel(), prefix: "[" + component + "] "}
}

func (l *StdLogger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *StdLogger) getLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *StdLogger) printf(tag string, format string, v ...interface{}) {
	log.Printf(tag+l.prefix+format, v...)
}

// Error messages are always shown
func (l *StdLogger) Error(format string, v ...interface{}) {
	l.printf("[ERROR] ", format, v...)
}

func (l *StdLogger) Warn(format string, v ...interface{}) {
	if l.getLevel() >= LevelWarn {
		l.printf("[WARN] ", format, v...)
	}
}

func (l *StdLogger) Info(format string, v ...interface{}) {
	if l.getLevel() >= LevelInfo {
		l.printf("[INFO] ", format, v...)
	}
}

func (l *StdLogger) Debug(format string, v ...interface{}) {
	if l.getLevel() >= LevelDebug {
		l.printf("[DEBUG] ", format, v...)
	}
}

func (l *StdLogger) Trace(format string, v ...interface{}) {
	if l.getLevel() >= LevelTrace {
		l.printf("[TRACE] ", format, v...)
	}
}

// OrDefault returns l, or an error-level StdLogger when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return New(LevelError)
	}
	return l
}
