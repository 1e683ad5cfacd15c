package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"  error  ", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q): expected error, got none", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLevel(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestConsoleHandlerFormatsRecord(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newConsoleHandler(&buf, slog.LevelDebug)).With("component", "runner")

	log.Info("evaluation started", "domain", "mock")

	out := buf.String()
	for _, want := range []string{"INFO", "evaluation started", "component=runner", "domain=mock", "\033[36m"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestConsoleHandlerQualifiesGroupKeys(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newConsoleHandler(&buf, slog.LevelDebug)).WithGroup("run")

	log.Info("step completed", "trial", 2)

	if out := buf.String(); !strings.Contains(out, "run.trial=2") {
		t.Errorf("expected group-qualified key in output: %q", out)
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newConsoleHandler(&buf, slog.LevelWarn))

	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info record should be suppressed at warn level: %q", buf.String())
	}

	log.Warn("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("warn record missing from output: %q", buf.String())
	}
}

func TestInitJSONWritesStructuredRecords(t *testing.T) {
	t.Cleanup(func() { Init(slog.LevelInfo, os.Stderr, FormatText) })

	path := filepath.Join(t.TempDir(), "harness.log")
	file, cleanup, err := OpenLogFile(path)
	if err != nil {
		t.Fatalf("OpenLogFile: %v", err)
	}

	Init(slog.LevelInfo, file, FormatJSON)
	slog.Info("harness ready", "port", 8080)
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("log line is not JSON: %v: %q", err, data)
	}
	if record["msg"] != "harness ready" {
		t.Errorf("msg = %v, want %q", record["msg"], "harness ready")
	}
	if record["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", record["level"])
	}
	if record["port"] != float64(8080) {
		t.Errorf("port = %v, want 8080", record["port"])
	}
}

func TestInitTextToFileIsPlain(t *testing.T) {
	t.Cleanup(func() { Init(slog.LevelInfo, os.Stderr, FormatText) })

	path := filepath.Join(t.TempDir(), "harness.log")
	file, cleanup, err := OpenLogFile(path)
	if err != nil {
		t.Fatalf("OpenLogFile: %v", err)
	}

	Init(slog.LevelWarn, file, FormatText)
	slog.Info("should be filtered")
	slog.Warn("disk low")
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	content := string(data)
	if strings.Contains(content, "should be filtered") {
		t.Errorf("info record leaked through warn level: %q", content)
	}
	if !strings.Contains(content, "disk low") {
		t.Errorf("warn record missing: %q", content)
	}
	if strings.Contains(content, "\033[") {
		t.Errorf("file output should not be colorised: %q", content)
	}
}

func TestOpenLogFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.log")

	for _, line := range []string{"first\n", "second\n"} {
		file, cleanup, err := OpenLogFile(path)
		if err != nil {
			t.Fatalf("OpenLogFile: %v", err)
		}
		if _, err := file.WriteString(line); err != nil {
			t.Fatalf("writing log line: %v", err)
		}
		cleanup()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if got := string(data); got != "first\nsecond\n" {
		t.Errorf("log file content = %q, want both lines appended", got)
	}
}
