// Package ledger defines the outbound port for the external transaction
// ledger the worker mirrors spends into.
package ledger

import (
	"context"
	"time"
)

// Entry is one mirrored row. A Reversal entry records the deletion of an
// earlier spend; the ledger itself is append-only.
type Entry struct {
	TransactionID string
	UserID        string
	AmountCents   int64
	CategoryID    string
	Description   string
	Type          string
	At            time.Time
	Reversal      bool
}

// Writer appends entries to the external ledger.
type Writer interface {
	AppendEntry(ctx context.Context, e Entry) error
}
