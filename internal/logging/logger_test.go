package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nathancread/Moist-Meat/internal/config"
)

func TestNewLogger_prodIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.Config{AppEnv: "prod", LogLevel: slog.LevelInfo}, "1.2.3", "moist-meat")

	logger.Debug("hidden")
	logger.Info("stream opened", "session", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines; want 1 (debug filtered): %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	for k, want := range map[string]string{
		"msg":     "stream opened",
		"app":     "moist-meat",
		"version": "1.2.3",
		"env":     "prod",
		"session": "abc",
	} {
		if rec[k] != want {
			t.Errorf("%s = %v; want %q", k, rec[k], want)
		}
	}
}

func TestNewLogger_devIsText(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.Config{AppEnv: "dev", LogLevel: slog.LevelDebug}, "dev", "moist-meat")

	logger.Debug("sql", "op", "exec")

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Fatalf("dev output is JSON: %q", out)
	}
	if !strings.Contains(out, "sql") || !strings.Contains(out, "op=exec") || !strings.Contains(out, "app=moist-meat") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("output to a buffer is colored: %q", out)
	}
}
