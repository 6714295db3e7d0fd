package app

import (
	"log/slog"
	"mime"
	"testing"
)

func TestLogLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := logLevel(&Config{LogLevel: tc.raw}); got != tc.want {
			t.Fatalf("logLevel(%q): expected %v, got %v", tc.raw, tc.want, got)
		}
	}
	if got := logLevel(nil); got != slog.LevelInfo {
		t.Fatalf("nil config: expected info, got %v", got)
	}
}

func TestAssetMimeTypesRegistered(t *testing.T) {
	for _, ext := range []string{".css", ".js", ".svg"} {
		if mime.TypeByExtension(ext) == "" {
			t.Fatalf("no MIME type registered for %s", ext)
		}
	}
}
