package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	l := Init("exitpro-test", slog.LevelInfo)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	ctx = WithTraceID(ctx, "005930-1700000000000000000")
	if tid := TraceID(ctx); tid != "005930-1700000000000000000" {
		t.Errorf("trace id = %q", tid)
	}
}

func TestEvalTraceID(t *testing.T) {
	ts := time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC)
	tid := EvalTraceID("005930", ts)

	if !strings.HasPrefix(tid, "005930-") {
		t.Errorf("expected symbol prefix, got %s", tid)
	}
	if !strings.HasSuffix(tid, "0") || len(tid) <= len("005930-") {
		t.Errorf("expected nano timestamp suffix, got %s", tid)
	}
}

func TestTrace(t *testing.T) {
	ctx := context.Background()

	if attrs := Trace(ctx); attrs != nil {
		t.Errorf("expected nil attrs without trace id, got %v", attrs)
	}

	ctx = WithTraceID(ctx, "abc-123")
	if attrs := Trace(ctx); len(attrs) == 0 {
		t.Fatal("expected attrs with trace id set")
	}
}
