package amqp

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped at 30s
		{10, 30 * time.Second}, // capped at 30s
		{40, 30 * time.Second}, // shift overflow also caps
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			result := exponentialBackoff(tt.attempt)
			if result != tt.expected {
				t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"closed connection", errors.New("connection closed by server"), true},
		{"unexpected EOF", errors.New("unexpected EOF"), true},
		{"auth failure", errors.New("ACCESS_REFUSED - login refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.expected {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestLedgerMessageRoundTrip(t *testing.T) {
	msg := NewReversalMessage("t1", "u1", 1500, "fuel", "station", "token_spend",
		time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := LedgerMessageFromJSON(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Op != OpReverse || got.TransactionID != "t1" || got.AmountCents != 1500 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	if _, err := LedgerMessageFromJSON([]byte("{")); err == nil {
		t.Fatal("malformed JSON accepted")
	}
}

func TestNewAppendMessage(t *testing.T) {
	msg := NewAppendMessage("t9")
	if msg.Op != OpAppend || msg.TransactionID != "t9" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.UserID != "" || msg.AmountCents != 0 {
		t.Fatalf("append message must not carry a snapshot: %+v", msg)
	}
}
