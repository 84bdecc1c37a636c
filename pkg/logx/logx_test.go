package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerWithFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWith(&buf, "INFO").With(String("comp", "ledger"))

	log.Debug("hidden")
	log.Info("recorded", Int("count", 3), Int64("user_id", 42))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["comp"] != "ledger" || m["message"] != "recorded" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["count"] != float64(3) {
		t.Fatalf("count = %v, want 3", m["count"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("expected caller field")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("nothing happens")
	if Nop().IsZero() {
		t.Fatalf("Nop() should not be zero")
	}
}

func TestFormatTelegramLine(t *testing.T) {
	got := formatTelegramLine([]byte(`{"level":"warn","message":"store reset","path":"x.json","time":"t"}`))
	want := "[WARN] store reset\n- path=x.json"
	if got != want {
		t.Fatalf("formatTelegramLine = %q, want %q", got, want)
	}
	if got := formatTelegramLine([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("non-json line = %q", got)
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "debug", "INFO", "warning"} {
		if !ValidLevel(s) {
			t.Fatalf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatalf("ValidLevel(loud) = true")
	}
}

func TestServiceApplyKeepsFileAcrossReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	cfg := Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}

	svc, log := New(cfg, nil)
	defer svc.Close()

	log.Info("first")
	cfg.Level = "debug"
	svc.Apply(cfg)
	log.Debug("second")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, msg := range []string{"first", "second"} {
		if !strings.Contains(string(data), msg) {
			t.Fatalf("log file missing %q: %s", msg, data)
		}
	}
}
