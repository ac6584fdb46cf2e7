package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/Strob0t/scmrelay/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Logging{Level: "info", Service: "test-svc", Async: true}
	l, closer := NewWithWriter(cfg, &buf)
	l.Info("queued")
	closer.Close()

	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"queued"`)) {
		t.Fatalf("expected record flushed on close, got %q", buf.String())
	}
}

func TestServiceAndRequestIDAttrs(t *testing.T) {
	var buf bytes.Buffer
	l, closer := NewWithWriter(config.Logging{Level: "info", Service: "scmrelay"}, &buf)
	defer closer.Close()

	ctx := WithRequestID(context.Background(), "req-42")
	l.InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["service"] != "scmrelay" {
		t.Errorf("expected service attr, got %v", rec["service"])
	}
	if rec["request_id"] != "req-42" {
		t.Errorf("expected request_id req-42, got %v", rec["request_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, closer := NewWithWriter(config.Logging{Level: "warn"}, &buf)
	defer closer.Close()

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info record should be filtered at warn level, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
}

func TestSensitiveAttrsRedacted(t *testing.T) {
	var buf bytes.Buffer
	l, closer := NewWithWriter(config.Logging{Level: "info", Service: "scmrelay"}, &buf)
	defer closer.Close()

	l.Info("registering", "secret", "hunter2", slog.Group("upstream", "apikey", "k-123"), "repo", "r-1")

	out := buf.String()
	for _, leaked := range []string{"hunter2", "k-123"} {
		if strings.Contains(out, leaked) {
			t.Errorf("log output leaked %q: %s", leaked, out)
		}
	}
	if !strings.Contains(out, `"repo":"r-1"`) {
		t.Errorf("non-sensitive attr missing: %s", out)
	}
}
