package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"ngoportal.org/internal/auth"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(zerolog.New(&buf))

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithIdentity(ctx, auth.Identity{UserID: 42, Username: "ada1"})

	if err := logger.LogEvent(ctx, "auth.login", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if id, _ := entry["event_id"].(string); len(id) != 26 {
		t.Fatalf("expected a ULID event id, got %v", entry["event_id"])
	}
	if entry["event"] != "auth.login" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != float64(42) {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	var buf bytes.Buffer
	if err := New(zerolog.New(&buf)).LogEvent(context.Background(), " ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written, got %q", buf.String())
	}
}

func TestLogEventWithoutContext(t *testing.T) {
	var buf bytes.Buffer
	if err := New(zerolog.New(&buf)).LogEvent(context.Background(), "auth.register", nil); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if _, ok := entry["request_id"]; ok {
		t.Fatalf("unexpected request id")
	}
	if _, ok := entry["fields"].(map[string]any); !ok {
		t.Fatalf("fields must always be an object: %v", entry["fields"])
	}
}
