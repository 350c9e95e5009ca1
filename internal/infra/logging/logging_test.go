//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestWith_AddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "tr-1")
	ctx = WithAttemptID(ctx, "att-1")
	ctx = WithGateway(ctx, "mobile_money_a")

	With(ctx, &base).Info().Msg("hello")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}
	if got["trace_id"] != "tr-1" || got["attempt_id"] != "att-1" || got["gateway"] != "mobile_money_a" {
		t.Errorf("missing context fields: %v", got)
	}
	if _, ok := got["user_id"]; ok {
		t.Error("user_id must be omitted when not set")
	}
	if TraceID(ctx) != "tr-1" {
		t.Errorf("TraceID() = %q", TraceID(ctx))
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("+22670000000", false); got != "+226...00" {
		t.Errorf("unexpected redaction %q", got)
	}
	if got := Redact("7000", false); got != "***" {
		t.Errorf("short values must be fully masked, got %q", got)
	}
	if got := Redact("+22670000000", true); got != "+22670000000" {
		t.Errorf("dev mode must not redact, got %q", got)
	}
}
