package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	kit "quizbot/internal/transport"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "dispatch"))

	log.Debug("hidden")
	log.Info("job started", String("job", "j1"), Int("fires", 3), Err(errors.New("boom")), Err(nil))
	log.With(String("comp", "override")).Warn("later field wins")

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %s", len(lines), buf.String())
	}
	first := lines[0]
	if first["comp"] != "dispatch" || first["job"] != "j1" || first["fires"] != float64(3) || first["message"] != "job started" {
		t.Fatalf("first line = %v", first)
	}
	if caller, _ := first["caller"].(string); !strings.HasPrefix(caller, "logx_test.go:") {
		t.Fatalf("caller = %q", caller)
	}
	if lines[1]["comp"] != "override" || lines[1]["level"] != "warn" {
		t.Fatalf("second line = %v", lines[1])
	}
}

func TestZeroAndNopLoggers(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	zero.Info("must not panic")
	if Nop().IsZero() {
		t.Fatal("Nop is an explicit logger, not the zero value")
	}
	if Nop().Enabled(LevelError) {
		t.Fatal("Nop should have every level disabled")
	}
}

type chanSender struct {
	out chan kit.ChatTarget
	txt chan string
}

func (c *chanSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.out <- to
	c.txt <- text
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func TestServiceTelegramSink(t *testing.T) {
	t.Parallel()
	sender := &chanSender{out: make(chan kit.ChatTarget, 8), txt: make(chan string, 8)}
	cfg := Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, ThreadID: 3, MinLevel: "warn", RatePerSec: 10},
	}
	svc, _ := New(Config{Level: "debug"}, nil)
	svc.SetSender(sender)
	svc.SetTelegramTarget(-500, 0)
	svc.Apply(cfg)
	defer svc.Close()

	log := svc.Logger().With(String("comp", "test"))
	log.Info("not forwarded")
	log.Warn("delivery failed", String("dest", "-100"))

	select {
	case to := <-sender.out:
		if to != (kit.ChatTarget{ChatID: -500, ThreadID: 3}) {
			t.Fatalf("sent to %v", to)
		}
		text := <-sender.txt
		if !strings.HasPrefix(text, "[WARN] delivery failed") || !strings.Contains(text, "dest=-100") {
			t.Fatalf("text = %q", text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("warn line not forwarded")
	}

	select {
	case to := <-sender.out:
		t.Fatalf("unexpected extra send to %v: %q", to, <-sender.txt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServiceFileSinkFollowsApply(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "quizbot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)

	log.Info("first")
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("dropped after level change")
	log.Error("second")
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := decodeLines(t, b)
	if len(lines) != 2 || lines[0]["message"] != "first" || lines[1]["message"] != "second" {
		t.Fatalf("file lines = %v", lines)
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	got := formatTelegramJSON([]byte(`{"level":"error","time":"x","message":"job ended","job":"j1"}`))
	if got != "[ERROR] job ended\n- job=j1" {
		t.Fatalf("formatted = %q", got)
	}
	if got := formatTelegramJSON([]byte("not json")); got != "not json" {
		t.Fatalf("raw passthrough = %q", got)
	}
	if got := truncate(strings.Repeat("x", 20), 12); got != "xxxxxxxxx..." {
		t.Fatalf("truncate = %q", got)
	}
}
