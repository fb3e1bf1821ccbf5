package logging

import (
	"fmt"
	"strings"
	"sync"
)

// Recorder is a Logger that keeps every message in memory. Tests use it to
// assert on what a component reported.
type Recorder struct {
	mu       sync.Mutex
	level    Level
	messages []string
}

// NewRecorder records messages up to and including level.
func NewRecorder(level Level) *Recorder {
	return &Recorder{level: level}
}

func (r *Recorder) SetLevel(level Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.level = level
}

func (r *Recorder) record(level Level, tag, format string, v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if level > r.level && level != LevelError {
		return
	}
	r.messages = append(r.messages, fmt.Sprintf(tag+" "+format, v...))
}

func (r *Recorder) Error(format string, v ...interface{}) { r.record(LevelError, "[ERROR]", format, v...) }
func (r *Recorder) Warn(format string, v ...interface{})  { r.record(LevelWarn, "[WARN]", format, v...) }
func (r *Recorder) Info(format string, v ...interface{})  { r.record(LevelInfo, "[INFO]", format, v...) }
func (r *Recorder) Debug(format string, v ...interface{}) { r.record(LevelDebug, "[DEBUG]", format, v...) }
func (r *Recorder) Trace(format string, v ...interface{}) { r.record(LevelTrace, "[TRACE]", format, v...) }

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Contains reports whether any recorded message contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, msg := range r.Messages() {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// Reset drops recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
