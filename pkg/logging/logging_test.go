package logging

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestVerboseLevel(t *testing.T) {
	if got := VerboseLevel(slog.LevelInfo, 1); got != slog.LevelDebug {
		t.Errorf("Expected debug after one -v, got %v", got)
	}
	if got := VerboseLevel(slog.LevelInfo, 5); got != LevelTrace {
		t.Errorf("Expected trace floor, got %v", got)
	}
	if got := VerboseLevel(slog.LevelWarn, 0); got != slog.LevelWarn {
		t.Errorf("Expected unchanged level, got %v", got)
	}
}

func TestCompactHandlerFormat(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, &slog.HandlerOptions{Level: LevelTrace}))

	log.With("session", "0123456789abcdef").Log(context.Background(), LevelTrace, "turn started",
		"turn", "fedcba9876543210", "text", "what is go?", "node", 3)

	line := buf.String()
	for _, want := range []string{"[TRACE] ", "turn started |", "session=01234567", "turn=fedcba98", `text="what is go?"`, "node=3"} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected %q in %q", want, line)
		}
	}
}

func TestCompactHandlerTruncates(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, nil))

	log.Info("chunk", "text", strings.Repeat("é", 100))

	if !strings.Contains(buf.String(), "…") {
		t.Errorf("Expected truncated value in %q", buf.String())
	}
	if n := strings.Count(buf.String(), "é"); n >= 100 {
		t.Errorf("Expected fewer than 100 runes, got %d", n)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/clear", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "abc" {
		t.Errorf("Expected request id abc in context, got %q", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("Expected request id header abc, got %q", got)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rec.Code)
	}
}
