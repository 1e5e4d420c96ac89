package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"finagent/internal/infra/config"
)

func TestJSONHandlerRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LoggerConfig{Level: "info", Format: "json"}))

	log.Info("tool executed", "tool", "web_search")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, buf.String())
	}
	if entry["message"] != "tool executed" {
		t.Errorf("message = %v", entry["message"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("timestamp key missing")
	}
	if _, ok := entry["msg"]; ok {
		t.Error("msg key should have been renamed")
	}
	if entry["tool"] != "web_search" {
		t.Errorf("tool = %v", entry["tool"])
	}
}

func TestRenameKeepsGroupedAttrs(t *testing.T) {
	a := renameJSONKeys([]string{"req"}, slog.String(slog.MessageKey, "x"))
	if a.Key != slog.MessageKey {
		t.Errorf("grouped key renamed to %q", a.Key)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestOpenOutputStreams(t *testing.T) {
	for in, want := range map[string]*os.File{"stdout": os.Stdout, "stderr": os.Stderr, "": os.Stderr} {
		w, closer, err := openOutput(in)
		if err != nil {
			t.Fatalf("openOutput(%q): %v", in, err)
		}
		if w != want {
			t.Errorf("openOutput(%q) returned wrong stream", in)
		}
		_ = closer()
	}
}

func TestOpenOutputInvalidPath(t *testing.T) {
	if _, _, err := openOutput("/nonexistent/dir/log.txt"); err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	app := config.AppConfig{Name: "financial-agent", Environment: "test"}

	log, closer, err := New(app, config.LoggerConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("filtered out")
	log.Info("run completed", "iterations", 3)
	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "filtered out") {
		t.Error("debug message should be filtered at info level")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, out)
	}
	if entry["app"] != "financial-agent" || entry["env"] != "test" {
		t.Errorf("app/env attrs = %v / %v", entry["app"], entry["env"])
	}
}

func TestNewLoggerInvalidOutput(t *testing.T) {
	_, _, err := New(config.AppConfig{}, config.LoggerConfig{Output: "/nonexistent/dir/app.log"})
	if err == nil {
		t.Error("expected error for invalid output path")
	}
}
