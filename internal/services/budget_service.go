// Package services orchestrates the budget engines against the state
// store and the ledger mirror queue.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tokenjar/internal/amqp"
	"tokenjar/internal/core"
	"tokenjar/internal/plan"
)

// ErrBadDayBoundary rejects malformed spent-today queries: an unknown
// timezone or a rollover hour outside 0-23.
var ErrBadDayBoundary = errors.New("invalid day boundary")

// Store is the persistence port the service drives. Implemented by
// storage.SQLiteRepository.
type Store interface {
	LoadState(ctx context.Context, userID string) (core.BudgetState, error)
	SaveState(ctx context.Context, state core.BudgetState) error
	SaveStateAndAppend(ctx context.Context, state core.BudgetState, txn core.Transaction) error
	AppendTransaction(ctx context.Context, txn core.Transaction) error
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]core.Transaction, error)
	DeleteTransactionAndSave(ctx context.Context, id string, state *core.BudgetState) error
	SpentSince(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	AnnualIncome(ctx context.Context, userID string) (int64, error)
}

// Publisher queues ledger mirror messages. May be nil when AMQP is not
// configured; mirroring then relies on the worker's periodic sweep.
type Publisher interface {
	Publish(ctx context.Context, msg *amqp.LedgerMessage) error
}

// BudgetService owns every user-facing mutation of the weekly budget:
// spends, the weekly rollover, plan saves and the debug operations.
type BudgetService struct {
	store     Store
	publisher Publisher
	now       func() time.Time
}

func NewBudgetService(store Store, publisher Publisher) *BudgetService {
	return &BudgetService{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// GetState loads the user's snapshot, creating it from the canonical plan
// on first access. A missing row is a first run, not an error.
func (s *BudgetService) GetState(ctx context.Context, userID string) (core.BudgetState, error) {
	if userID == "" {
		return core.BudgetState{}, core.ErrUnauthenticated
	}
	state, err := s.store.LoadState(ctx, userID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.BudgetState{}, fmt.Errorf("load state: %w", err)
	}

	state, err = plan.InitialState(userID, s.now())
	if err != nil {
		return core.BudgetState{}, fmt.Errorf("build initial state: %w", err)
	}
	if err := s.store.SaveState(ctx, state); err != nil {
		return core.BudgetState{}, fmt.Errorf("save initial state: %w", err)
	}
	slog.InfoContext(ctx, "Initialized budget state from canonical plan", "user_id", userID)
	return state, nil
}

// SpendToken marks one token spent and logs the spend. The token flip and
// the log append commit together; a token that is already spent is
// rejected and nothing is logged.
func (s *BudgetService) SpendToken(ctx context.Context, userID, categoryID, tokenID string) (core.Transaction, error) {
	state, err := s.GetState(ctx, userID)
	if err != nil {
		return core.Transaction{}, err
	}

	cat, tok, err := state.FindToken(categoryID, tokenID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("token %s/%s: %w", categoryID, tokenID, err)
	}
	if tok.Spent {
		return core.Transaction{}, fmt.Errorf("token %s: %w", tokenID, core.ErrTokenSpent)
	}
	tok.Spent = true

	txn := core.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		AmountCents: tok.ValueCents,
		CategoryID:  cat.ID,
		TokenID:     tok.ID,
		Type:        core.TokenSpend,
		CreatedAt:   s.now(),
	}
	if err := s.store.SaveStateAndAppend(ctx, state, txn); err != nil {
		return core.Transaction{}, fmt.Errorf("record token spend: %w", err)
	}

	s.publishMirror(ctx, amqp.NewAppendMessage(txn.ID))
	return txn, nil
}

// SpendCustom logs a spend that is not backed by a token. With a category
// or description it is a custom spend, otherwise a generic one.
func (s *BudgetService) SpendCustom(ctx context.Context, userID string, amountCents int64, categoryID, description string) (core.Transaction, error) {
	if userID == "" {
		return core.Transaction{}, core.ErrUnauthenticated
	}

	txnType := core.GenericSpend
	if categoryID != "" || description != "" {
		txnType = core.CustomSpend
	}
	txn := core.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		AmountCents: amountCents,
		CategoryID:  categoryID,
		Description: description,
		Type:        txnType,
		CreatedAt:   s.now(),
	}
	if err := txn.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := s.store.AppendTransaction(ctx, txn); err != nil {
		return core.Transaction{}, fmt.Errorf("record spend: %w", err)
	}

	s.publishMirror(ctx, amqp.NewAppendMessage(txn.ID))
	return txn, nil
}

// Rollover runs the user-triggered weekly reset: reconcile the finished
// week against the canonical plan and persist the new period atomically.
func (s *BudgetService) Rollover(ctx context.Context, userID string) (core.RolloverResult, error) {
	state, err := s.GetState(ctx, userID)
	if err != nil {
		return core.RolloverResult{}, err
	}
	canonical, err := plan.Canonical()
	if err != nil {
		return core.RolloverResult{}, fmt.Errorf("load canonical plan: %w", err)
	}

	result, err := core.Rollover(state, canonical)
	if err != nil {
		return core.RolloverResult{}, fmt.Errorf("rollover: %w", err)
	}
	if err := s.store.SaveState(ctx, result.NextState(userID, s.now())); err != nil {
		return core.RolloverResult{}, fmt.Errorf("save rollover state: %w", err)
	}

	slog.InfoContext(ctx, "Weekly rollover completed",
		"user_id", userID,
		"surplus_cents", result.TotalSurplusCents,
		"deficit_cents", result.TotalDeficitCents,
		"fund_cents", result.FundCents)
	return result, nil
}

// SaveAllocation recomputes the plan from the user's stored annual income
// and the submitted rules, and persists it. Over-allocated plans are
// rejected, never saved.
func (s *BudgetService) SaveAllocation(ctx context.Context, userID string, modules []core.Module) (core.AllocationResult, error) {
	state, err := s.GetState(ctx, userID)
	if err != nil {
		return core.AllocationResult{}, err
	}
	income, err := s.store.AnnualIncome(ctx, userID)
	if err != nil {
		return core.AllocationResult{}, fmt.Errorf("load annual income: %w", err)
	}

	result, err := core.AllocatePlan(income, modules)
	if err != nil {
		return core.AllocationResult{}, err
	}
	if result.OverAllocated {
		return result, fmt.Errorf("allocated %s against pool %s: %w",
			core.FormatCents(result.TotalAllocatedCents),
			core.FormatCents(result.WeeklyPoolCents),
			core.ErrOverAllocated)
	}

	state.Modules = result.Modules
	if err := s.store.SaveState(ctx, state); err != nil {
		return core.AllocationResult{}, fmt.Errorf("save allocation: %w", err)
	}
	return result, nil
}

// DeleteTransaction removes a log entry. When the entry spent a token the
// token flips back in the same write, so snapshot and log cannot drift.
func (s *BudgetService) DeleteTransaction(ctx context.Context, userID, id string) error {
	if userID == "" {
		return core.ErrUnauthenticated
	}
	txn, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if txn.UserID != userID {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}

	var statePtr *core.BudgetState
	if txn.Type == core.TokenSpend && txn.TokenID != "" {
		state, err := s.GetState(ctx, userID)
		if err != nil {
			return err
		}
		// Token ids restart at 1 on every regeneration, so an entry from
		// before the last reset points at a previous token generation. Only
		// current-period entries have a token left to reverse; older ones
		// just disappear from the log.
		if !txn.CreatedAt.Before(state.LastReset) {
			if _, tok, err := state.FindToken(txn.CategoryID, txn.TokenID); err == nil && tok.Spent {
				tok.Spent = false
				statePtr = &state
			}
		}
	}

	if err := s.store.DeleteTransactionAndSave(ctx, id, statePtr); err != nil {
		return err
	}

	s.publishMirror(ctx, amqp.NewReversalMessage(txn.ID, txn.UserID, txn.AmountCents,
		txn.CategoryID, txn.Description, string(txn.Type), txn.CreatedAt))
	return nil
}

// ListTransactions returns the user's spend log, newest first.
func (s *BudgetService) ListTransactions(ctx context.Context, userID string, limit int) ([]core.Transaction, error) {
	if userID == "" {
		return nil, core.ErrUnauthenticated
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListTransactions(ctx, userID, limit)
}

// SpentToday sums the user's spend since their configured day boundary:
// a rollover hour in the user's timezone, not midnight UTC.
func (s *BudgetService) SpentToday(ctx context.Context, userID, timezone string, rolloverHour int) (int64, error) {
	if userID == "" {
		return 0, core.ErrUnauthenticated
	}
	if rolloverHour < 0 || rolloverHour > 23 {
		return 0, fmt.Errorf("rollover hour %d: %w", rolloverHour, ErrBadDayBoundary)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return 0, fmt.Errorf("timezone %q: %w", timezone, ErrBadDayBoundary)
	}

	cutoff := dayCutoff(s.now(), loc, rolloverHour)
	return s.store.SpentSince(ctx, userID, cutoff)
}

// ResetAll is the debug escape hatch: every token unspent, fund zeroed,
// base values untouched.
func (s *BudgetService) ResetAll(ctx context.Context, userID string) (core.BudgetState, error) {
	state, err := s.GetState(ctx, userID)
	if err != nil {
		return core.BudgetState{}, err
	}
	for mi := range state.Modules {
		for ci := range state.Modules[mi].Categories {
			tokens := state.Modules[mi].Categories[ci].Tokens
			for ti := range tokens {
				tokens[ti].Spent = false
			}
		}
	}
	state.FundCents = 0
	if err := s.store.SaveState(ctx, state); err != nil {
		return core.BudgetState{}, fmt.Errorf("save reset state: %w", err)
	}
	return state, nil
}

// RestoreInitial replaces the modules wholesale with the canonical plan,
// discarding any customization. The fund survives. Idempotent.
func (s *BudgetService) RestoreInitial(ctx context.Context, userID string) (core.BudgetState, error) {
	state, err := s.GetState(ctx, userID)
	if err != nil {
		return core.BudgetState{}, err
	}
	modules, err := plan.Modules()
	if err != nil {
		return core.BudgetState{}, fmt.Errorf("load canonical plan: %w", err)
	}
	state.Modules = modules
	if err := s.store.SaveState(ctx, state); err != nil {
		return core.BudgetState{}, fmt.Errorf("save restored state: %w", err)
	}
	return state, nil
}

// SetFund overwrites the fund balance and touches nothing else.
func (s *BudgetService) SetFund(ctx context.Context, userID string, cents int64) (core.BudgetState, error) {
	if cents < 0 {
		return core.BudgetState{}, core.ErrInvalidAmount
	}
	state, err := s.GetState(ctx, userID)
	if err != nil {
		return core.BudgetState{}, err
	}
	state.FundCents = cents
	if err := s.store.SaveState(ctx, state); err != nil {
		return core.BudgetState{}, fmt.Errorf("save fund: %w", err)
	}
	return state, nil
}

// publishMirror queues a ledger export. Failures are logged and never
// fail the request: the spend is already safe in SQLite and the worker's
// periodic sweep picks up whatever the queue missed.
func (s *BudgetService) publishMirror(ctx context.Context, msg *amqp.LedgerMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger message",
			"op", msg.Op, "transaction_id", msg.TransactionID, "error", err)
	}
}

// dayCutoff is the most recent occurrence of rolloverHour in loc at or
// before now.
func dayCutoff(now time.Time, loc *time.Location, rolloverHour int) time.Time {
	local := now.In(loc)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), rolloverHour, 0, 0, 0, loc)
	if cutoff.After(local) {
		cutoff = cutoff.AddDate(0, 0, -1)
	}
	return cutoff
}
