package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("solver selected", "solver", "GemmFwd1x1")

	output := buf.String()
	if !strings.Contains(output, `"solver":"GemmFwd1x1"`) {
		t.Fatalf("expected solver attribute in JSON output, got: %s", output)
	}
	if !strings.Contains(output, `"level":"INFO"`) {
		t.Fatalf("expected level INFO in output, got: %s", output)
	}
}

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("should not appear")
	log.Debug("also should not appear")
	if buf.Len() > 0 {
		t.Fatalf("expected no output for info/debug at warn level, got: %s", buf.String())
	}

	log.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected warn message in output, got: %s", buf.String())
	}
}

func TestForFormat(t *testing.T) {
	t.Parallel()
	for _, format := range []string{"", "pretty", "JSON", "text"} {
		var buf bytes.Buffer
		log, err := ForFormat(format, &buf, slog.LevelInfo)
		if err != nil {
			t.Fatalf("ForFormat(%q): %v", format, err)
		}
		log.Info("cache hit", "key", "conv-fwd")
		if !strings.Contains(buf.String(), "cache hit") {
			t.Fatalf("ForFormat(%q) wrote %q", format, buf.String())
		}
	}
	if _, err := ForFormat("xml", &bytes.Buffer{}, slog.LevelInfo); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestPrettyDurations(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelDebug)
	log.Debug("measured", "elapsed", 1500*time.Microsecond, "note", "two words")

	output := buf.String()
	if !strings.Contains(output, "elapsed=1.5ms") {
		t.Fatalf("expected rounded duration, got: %s", output)
	}
	if !strings.Contains(output, `note="two words"`) {
		t.Fatalf("expected quoted string with spaces, got: %s", output)
	}
}

func TestWithAndGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelInfo).With("component", "find").WithGroup("search")
	log.Info("done", "configs", 5)

	output := buf.String()
	if !strings.Contains(output, "component=find") {
		t.Fatalf("expected component attribute, got: %s", output)
	}
	if !strings.Contains(output, "search.configs=5") {
		t.Fatalf("expected grouped attribute, got: %s", output)
	}
}

func TestPrettyHandlerEmptyGroup(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, nil)
	if h.WithGroup("") != slog.Handler(h) {
		t.Fatal("WithGroup empty string should return same handler")
	}
}

func TestFromContextDefaultsToDiscard(t *testing.T) {
	t.Parallel()
	log := FromContext(context.Background())
	if log == nil {
		t.Fatal("FromContext with no logger returned nil")
	}
	log.Error("dropped")
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("roundtrip test")
	if !strings.Contains(buf.String(), "roundtrip test") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.input); got != tc.expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tc.input, tc.expected, got)
		}
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"simple":       false,
		"has space":    true,
		"has\ttab":     true,
		`has"quote`:    true,
		"k=v":          true,
		"":             false,
		"conv-fwd|f32": false,
	}
	for input, expected := range tests {
		if got := needsQuoting(input); got != expected {
			t.Errorf("needsQuoting(%q): expected %v, got %v", input, expected, got)
		}
	}
}
