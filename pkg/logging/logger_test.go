package logging

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
)

// captureOutput captures log output for testing
func captureOutput(f func()) string {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	f()
	return buf.String()
}

func TestNew(t *testing.T) {
	logger := New(LevelInfo)
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}
	if logger.getLevel() != LevelInfo {
		t.Errorf("Expected log level %v, got %v", LevelInfo, logger.getLevel())
	}

	logger.SetLevel(LevelDebug)
	if logger.getLevel() != LevelDebug {
		t.Errorf("Log level should be %v after SetLevel, got %v", LevelDebug, logger.getLevel())
	}
}

// TestLevelFiltering checks every method against every configured level.
func TestLevelFiltering(t *testing.T) {
	emit := map[string]func(l *StdLogger, msg string){
		"[ERROR]": func(l *StdLogger, msg string) { l.Error(msg) },
		"[WARN]":  func(l *StdLogger, msg string) { l.Warn(msg) },
		"[INFO]":  func(l *StdLogger, msg string) { l.Info(msg) },
		"[DEBUG]": func(l *StdLogger, msg string) { l.Debug(msg) },
		"[TRACE]": func(l *StdLogger, msg string) { l.Trace(msg) },
	}
	minLevel := map[string]Level{
		"[ERROR]": LevelError,
		"[WARN]":  LevelWarn,
		"[INFO]":  LevelInfo,
		"[DEBUG]": LevelDebug,
		"[TRACE]": LevelTrace,
	}

	for _, level := range []Level{LevelError, LevelWarn, LevelInfo, LevelDebug, LevelTrace} {
		for tag, fn := range emit {
			t.Run(level.String()+tag, func(t *testing.T) {
				logger := New(level)
				output := captureOutput(func() { fn(logger, "hello") })

				shown := strings.Contains(output, tag) && strings.Contains(output, "hello")
				want := level >= minLevel[tag]
				if shown != want {
					t.Errorf("level %v, %s: shown=%v want=%v (output %q)", level, tag, shown, want, output)
				}
			})
		}
	}
}

func TestNamedPrefix(t *testing.T) {
	logger := New(LevelDebug).Named("foundry")
	output := captureOutput(func() {
		logger.Debug("Test %s %d", "string", 42)
	})

	if !strings.Contains(output, "[DEBUG] [foundry] Test string 42") {
		t.Errorf("Unexpected output: %q", output)
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"error", LevelError, false},
		{"WARN", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"", LevelInfo, false},
		{" Debug ", LevelDebug, false},
		{"trace", LevelTrace, false},
		{"loud", LevelInfo, true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) == nil {
		t.Fatal("Expected default logger for nil input")
	}
	l := New(LevelTrace)
	if OrDefault(l) != Logger(l) {
		t.Error("Expected the supplied logger to be returned")
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder(LevelInfo)
	r.Debug("hidden")
	r.Info("shown %d", 1)
	r.Error("always")

	msgs := r.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d: %v", len(msgs), msgs)
	}
	if msgs[0] != "[INFO] shown 1" {
		t.Errorf("Unexpected first message %q", msgs[0])
	}
	if !r.Contains("always") || r.Contains("hidden") {
		t.Errorf("Contains mismatch: %v", msgs)
	}
	r.Reset()
	if len(r.Messages()) != 0 {
		t.Error("Expected no messages after Reset")
	}
}
