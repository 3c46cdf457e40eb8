package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
		{"  debug  ", slog.LevelDebug},
		{"TRACE", LevelTrace},
		{"silent", LevelSilent},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v (output: %s)", err, buf.String())
	}
	return entry
}

func TestComponentLoggerTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("info", "json", &buf)

	Component("auth").Info("login ok", "host", "ts.example.com")

	entry := decodeLine(t, &buf)
	if entry["component"] != "auth" {
		t.Errorf("component = %v, want auth", entry["component"])
	}
	if entry["host"] != "ts.example.com" {
		t.Errorf("host = %v", entry["host"])
	}
	if entry["sdk"] != "visual-embed" {
		t.Errorf("sdk = %v", entry["sdk"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("info", "text", &buf)

	slog.Info("hello text")

	if !strings.Contains(buf.String(), "hello text") {
		t.Errorf("text output should contain message, got: %s", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err == nil {
		t.Errorf("text format should not parse as JSON")
	}
}

func TestLevelFilteringAndRuntimeChange(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("warn", "json", &buf)

	slog.Info("filtered")
	if buf.Len() > 0 {
		t.Fatalf("INFO should be filtered at WARN level, got: %s", buf.String())
	}

	Level.Set(slog.LevelDebug)
	slog.Debug("visible")
	if buf.Len() == 0 {
		t.Fatal("DEBUG should pass after level change")
	}
}

func TestStdlibBridge(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("info", "json", &buf)

	log.Print("legacy message")

	entry := decodeLine(t, &buf)
	if entry["msg"] != "legacy message" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["source"] != "stdlib" {
		t.Errorf("source = %v", entry["source"])
	}
}

func TestSetLevelKeepsLevelWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("warn", "json", &buf)

	SetLevel("")
	if got := Level.Level(); got != slog.LevelWarn {
		t.Fatalf("level = %v, want WARN", got)
	}

	SetLevel("SILENT")
	slog.Error("dropped")
	if buf.Len() != 0 {
		t.Errorf("silent level still logged: %s", buf.String())
	}

	SetLevel("debug")
	slog.Debug("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("debug entry missing: %s", buf.String())
	}
}
