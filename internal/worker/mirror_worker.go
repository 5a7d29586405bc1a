// Package worker exports the transaction log to the external ledger.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"tokenjar/internal/amqp"
	"tokenjar/internal/core"
	"tokenjar/internal/ledger"
)

// MirrorStore is the slice of the repository the worker needs.
type MirrorStore interface {
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	ListUnmirrored(ctx context.Context, limit int) ([]core.Transaction, error)
	MarkMirrored(ctx context.Context, id string) error
}

// MirrorWorker copies logged spends into the append-only ledger. AMQP
// messages drive the fast path; ProcessPending is the safety net that
// catches anything the queue missed.
type MirrorWorker struct {
	store     MirrorStore
	exporter  ledger.Writer
	batchSize int
}

func NewMirrorWorker(store MirrorStore, exporter ledger.Writer, batchSize int) *MirrorWorker {
	return &MirrorWorker{
		store:     store,
		exporter:  exporter,
		batchSize: batchSize,
	}
}

// HandleMessage processes a single mirror request from AMQP.
func (w *MirrorWorker) HandleMessage(ctx context.Context, msg *amqp.LedgerMessage) error {
	slog.InfoContext(ctx, "Processing ledger message",
		"op", msg.Op,
		"transaction_id", msg.TransactionID)

	switch msg.Op {
	case amqp.OpAppend:
		return w.mirrorAppend(ctx, msg.TransactionID)
	case amqp.OpReverse:
		return w.mirrorReversal(ctx, msg)
	default:
		// Unknown ops are dropped, not requeued; requeueing would loop forever.
		slog.WarnContext(ctx, "Unknown ledger op, dropping message",
			"op", msg.Op, "transaction_id", msg.TransactionID)
		return nil
	}
}

// mirrorAppend fetches the transaction row and appends it to the ledger.
func (w *MirrorWorker) mirrorAppend(ctx context.Context, id string) error {
	txn, err := w.store.GetTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("get transaction %s: %w", id, err)
	}
	return w.export(ctx, ledger.Entry{
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		AmountCents:   txn.AmountCents,
		CategoryID:    txn.CategoryID,
		Description:   txn.Description,
		Type:          string(txn.Type),
		At:            txn.CreatedAt,
	}, true)
}

// mirrorReversal appends a counter-entry built from the message snapshot.
// The database row is already deleted, so the snapshot is all there is.
func (w *MirrorWorker) mirrorReversal(ctx context.Context, msg *amqp.LedgerMessage) error {
	return w.export(ctx, ledger.Entry{
		TransactionID: msg.TransactionID,
		UserID:        msg.UserID,
		AmountCents:   msg.AmountCents,
		CategoryID:    msg.CategoryID,
		Description:   msg.Description,
		Type:          msg.Type,
		At:            msg.Timestamp,
		Reversal:      true,
	}, false)
}

func (w *MirrorWorker) export(ctx context.Context, e ledger.Entry, mark bool) error {
	if err := w.exporter.AppendEntry(ctx, e); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	if mark {
		if err := w.store.MarkMirrored(ctx, e.TransactionID); err != nil {
			// The export itself worked; the sweep will just retry a row
			// that is already in the ledger.
			slog.ErrorContext(ctx, "Failed to mark transaction mirrored",
				"transaction_id", e.TransactionID, "error", err)
		}
	}
	slog.InfoContext(ctx, "Ledger entry exported",
		"transaction_id", e.TransactionID,
		"reversal", e.Reversal,
		"amount_cents", e.AmountCents)
	return nil
}

// ProcessPending exports transactions the queue missed. Errors on
// individual rows are logged and skipped so one bad row cannot stall
// the sweep.
func (w *MirrorWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.store.ListUnmirrored(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list unmirrored transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing unmirrored transactions", "count", len(pending))
	for _, txn := range pending {
		if err := w.mirrorAppend(ctx, txn.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror transaction",
				"transaction_id", txn.ID, "error", err)
		}
	}
	return nil
}

// StartupSync drains the backlog accumulated while the worker was down.
func (w *MirrorWorker) StartupSync(ctx context.Context) error {
	pending, err := w.store.ListUnmirrored(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("list unmirrored transactions at startup: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No unmirrored transactions found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found unmirrored transactions on startup, processing...",
		"count", len(pending))

	exported := 0
	failed := 0
	for _, txn := range pending {
		if err := w.mirrorAppend(ctx, txn.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror transaction during startup",
				"transaction_id", txn.ID, "error", err)
			failed++
			continue
		}
		exported++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"exported", exported,
		"errors", failed)
	return nil
}
