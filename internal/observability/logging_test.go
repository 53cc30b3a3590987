package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/haneul-labs/tripdesk/internal/config"
	"github.com/haneul-labs/tripdesk/model"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "debug"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should be enabled")
	}
}

func TestNewLogger_invalidLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "chatty"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be disabled after fallback to info")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info level should be enabled")
	}
}

func TestLoggerFrom(t *testing.T) {
	fallback := zap.NewNop()
	stored := zap.NewNop()

	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("empty context should return fallback")
	}

	ctx := WithLogger(context.Background(), stored)
	if got := LoggerFrom(ctx, fallback); got != stored {
		t.Error("context logger should be returned when present")
	}
}

func TestRequestLogger_addsRequestFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID:     "user-1",
		CorrelationID: "corr-1",
		TraceID:       "trace-1",
	})
	ctx = WithLogger(ctx, logger)

	RequestLogger(ctx, zap.NewNop()).Info("request handled")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["subject_id"] != "user-1" {
		t.Errorf("subject_id = %v", fields["subject_id"])
	}
	if fields["correlation_id"] != "corr-1" {
		t.Errorf("correlation_id = %v", fields["correlation_id"])
	}
	if fields["trace_id"] != "trace-1" {
		t.Errorf("trace_id = %v", fields["trace_id"])
	}
}

func TestRequestLogger_noRequestContext(t *testing.T) {
	fallback := zap.NewNop()
	if got := RequestLogger(context.Background(), fallback); got != fallback {
		t.Error("should return fallback unchanged without request context")
	}
}

func TestRedactBody(t *testing.T) {
	body := map[string]any{
		"title":    "Business trip to Busan",
		"password": "hunter2",
		"nested": map[string]any{
			"token":  "tok-123",
			"amount": 2500000,
		},
	}

	got := RedactBody(body, []string{"amount"})

	if got["title"] != "Business trip to Busan" {
		t.Errorf("title = %v, should be untouched", got["title"])
	}
	if got["password"] != "[REDACTED]" {
		t.Errorf("password = %v, want [REDACTED]", got["password"])
	}
	nested := got["nested"].(map[string]any)
	if nested["token"] != "[REDACTED]" {
		t.Errorf("nested token = %v, want [REDACTED]", nested["token"])
	}
	if nested["amount"] != "[REDACTED]" {
		t.Errorf("custom sensitive field amount = %v, want [REDACTED]", nested["amount"])
	}

	// Original body must not be modified.
	if body["password"] != "hunter2" {
		t.Error("RedactBody must not mutate its input")
	}
}

func TestRedactBody_nil(t *testing.T) {
	if got := RedactBody(nil, nil); got != nil {
		t.Errorf("RedactBody(nil) = %v, want nil", got)
	}
}
