package log

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Component: ComponentRecurring, Handler: slog.NewTextHandler(&buf, nil)})

	l.InfoContext(context.Background(), "pass complete", FieldProcessed, 2)

	out := buf.String()
	if !strings.Contains(out, "component=recurring") || !strings.Contains(out, "processed=2") {
		t.Fatalf("unexpected log line: %s", out)
	}
}

func TestMiddlewareStoresLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Component: ComponentApp, Handler: slog.NewTextHandler(&buf, nil)})

	var seen *Logger
	h := Middleware(base, func(*http.Request) string { return "req-1" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if seen == nil || seen.Component() != ComponentHTTP {
		t.Fatalf("expected http component logger in context, got %+v", seen)
	}
	out := buf.String()
	if !strings.Contains(out, "request_id=req-1") || !strings.Contains(out, "status_code=418") {
		t.Fatalf("unexpected log line: %s", out)
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if got := FromContext(context.Background()); got == nil || got.Component() != "unknown" {
		t.Fatalf("expected fallback logger, got %+v", got)
	}
}
