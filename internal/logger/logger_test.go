package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func capture(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	SetLevel(level)
	SetFormat(format)
	SetWriter(&buf)
	t.Cleanup(func() {
		SetLevel("INFO")
		SetFormat("text")
		SetWriter(os.Stdout)
	})
	return &buf
}

func TestLevels(t *testing.T) {
	buf := capture(t, "WARN", "text")

	Debug("debug %d", 1)
	Info("info %d", 2)
	Warn("warn %d", 3)
	Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("Expected DEBUG and INFO to be filtered, got: %s", out)
	}
	if !strings.Contains(out, "msg=\"warn 3\"") || !strings.Contains(out, "level=WARN") {
		t.Errorf("Expected WARN line, got: %s", out)
	}
	if !strings.Contains(out, "msg=\"error 4\"") {
		t.Errorf("Expected ERROR line, got: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, "debug", "json")

	Debug("fetched %s", "_0.fdt")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("Expected one JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "fetched _0.fdt" {
		t.Errorf("Expected msg 'fetched _0.fdt', got %v", record["msg"])
	}
	if record["level"] != "DEBUG" {
		t.Errorf("Expected level DEBUG, got %v", record["level"])
	}
}

func TestSetOutputFile(t *testing.T) {
	capture(t, "INFO", "text")
	path := filepath.Join(t.TempDir(), "idxcache.log")

	if err := SetOutput(path); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}
	Info("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("Expected log line in file, got: %s", data)
	}
}

func TestSetOutputInvalidPath(t *testing.T) {
	if err := SetOutput(filepath.Join(t.TempDir(), "missing", "dir", "x.log")); err == nil {
		t.Error("Expected error for unwritable log path")
	}
}
