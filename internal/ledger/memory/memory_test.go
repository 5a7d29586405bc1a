package memory

import (
	"context"
	"testing"
	"time"

	"tokenjar/internal/ledger"
)

func TestAppendEntry(t *testing.T) {
	store := New()
	ctx := context.Background()

	entries := []ledger.Entry{
		{TransactionID: "t1", UserID: "u1", AmountCents: 1000, Type: "token_spend", At: time.Now()},
		{TransactionID: "t1", UserID: "u1", AmountCents: 1000, Type: "token_spend", At: time.Now(), Reversal: true},
	}
	for _, e := range entries {
		if err := store.AppendEntry(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got := store.Entries()
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if !got[1].Reversal {
		t.Fatal("reversal flag lost")
	}

	// Entries returns a copy.
	got[0].TransactionID = "mutated"
	if store.Entries()[0].TransactionID != "t1" {
		t.Fatal("Entries leaked internal slice")
	}
}
