package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tokenjar/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "tokenjar.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testState(userID string) core.BudgetState {
	return core.BudgetState{
		UserID: userID,
		Modules: []core.Module{{ID: "m1", Name: "Main", Categories: []core.Category{{
			ID: "fuel", Name: "Fuel", BaseCents: 4000, Mode: core.Fixed, Denomination: 10,
			Tokens: []core.Token{
				{ID: "fuel-1", ValueCents: 1000},
				{ID: "fuel-2", ValueCents: 1000},
				{ID: "fuel-3", ValueCents: 1000},
				{ID: "fuel-4", ValueCents: 1000},
			},
		}}}},
		FundCents: 2500,
		LastReset: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func TestReopenMigratedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenjar.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	ctx := context.Background()
	if err := repo.SaveState(ctx, testState("u1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Second open finds the schema already current and must not fail.
	repo, err = NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer repo.Close()
	got, err := repo.LoadState(ctx, "u1")
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if got.FundCents != 2500 {
		t.Fatalf("fund = %d, want 2500", got.FundCents)
	}
}

func TestLoadStateFirstRun(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.LoadState(context.Background(), "nobody")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndLoadState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	want := testState("u1")

	if err := repo.SaveState(ctx, want); err != nil {
		t.Fatalf("save state: %v", err)
	}
	got, err := repo.LoadState(ctx, "u1")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if got.FundCents != want.FundCents || !got.LastReset.Equal(want.LastReset) {
		t.Fatalf("got fund=%d reset=%v, want fund=%d reset=%v",
			got.FundCents, got.LastReset, want.FundCents, want.LastReset)
	}
	if len(got.Modules) != 1 || got.Modules[0].Categories[0].TokenCents() != 4000 {
		t.Fatalf("modules did not round-trip: %+v", got.Modules)
	}

	// Upsert: saving again overwrites the whole snapshot.
	want.FundCents = 9999
	if err := repo.SaveState(ctx, want); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, err = repo.LoadState(ctx, "u1")
	if err != nil {
		t.Fatalf("reload state: %v", err)
	}
	if got.FundCents != 9999 {
		t.Fatalf("fund = %d, want 9999", got.FundCents)
	}
}

func TestSaveStateAndAppendIsAtomic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	state := testState("u1")
	state.Modules[0].Categories[0].Tokens[0].Spent = true

	txn := core.Transaction{
		ID: "t1", UserID: "u1", AmountCents: 1000,
		CategoryID: "fuel", TokenID: "fuel-1",
		Type: core.TokenSpend, CreatedAt: time.Now(),
	}
	if err := repo.SaveStateAndAppend(ctx, state, txn); err != nil {
		t.Fatalf("save+append: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "t1")
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if got.TokenID != "fuel-1" || got.Type != core.TokenSpend {
		t.Fatalf("transaction did not round-trip: %+v", got)
	}

	// A duplicate transaction id must fail and leave the snapshot untouched.
	state.FundCents = 1
	if err := repo.SaveStateAndAppend(ctx, state, txn); err == nil {
		t.Fatal("duplicate transaction id accepted")
	}
	reloaded, err := repo.LoadState(ctx, "u1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.FundCents == 1 {
		t.Fatal("snapshot write survived a failed log write")
	}
}

func TestDeleteTransactionAndSave(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	state := testState("u1")
	state.Modules[0].Categories[0].Tokens[0].Spent = true
	txn := core.Transaction{
		ID: "t1", UserID: "u1", AmountCents: 1000,
		CategoryID: "fuel", TokenID: "fuel-1",
		Type: core.TokenSpend, CreatedAt: time.Now(),
	}
	if err := repo.SaveStateAndAppend(ctx, state, txn); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reversed := state
	reversed.Modules[0].Categories[0].Tokens[0].Spent = false
	if err := repo.DeleteTransactionAndSave(ctx, "t1", &reversed); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetTransaction(ctx, "t1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	got, err := repo.LoadState(ctx, "u1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Modules[0].Categories[0].Tokens[0].Spent {
		t.Fatal("token flip was not reversed with the deletion")
	}

	if err := repo.DeleteTransactionAndSave(ctx, "missing", nil); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing id, got %v", err)
	}
}

func TestSpentSince(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i, at := range []time.Time{base.Add(-30 * time.Hour), base.Add(-2 * time.Hour), base.Add(-time.Hour)} {
		txn := core.Transaction{
			ID: string(rune('a' + i)), UserID: "u1", AmountCents: 1000,
			Type: core.GenericSpend, CreatedAt: at,
		}
		if err := repo.AppendTransaction(ctx, txn); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := repo.SpentSince(ctx, "u1", base.Add(-3*time.Hour))
	if err != nil {
		t.Fatalf("spent since: %v", err)
	}
	if got != 2000 {
		t.Fatalf("spent = %d, want 2000", got)
	}
}

func TestSetAnnualIncomeByEmail(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateUser(ctx, "u1", "sam@example.com"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := repo.SetAnnualIncomeByEmail(ctx, "sam@example.com", 5500000); err != nil {
		t.Fatalf("set income: %v", err)
	}
	got, err := repo.AnnualIncome(ctx, "u1")
	if err != nil {
		t.Fatalf("get income: %v", err)
	}
	if got != 5500000 {
		t.Fatalf("income = %d, want 5500000", got)
	}

	if err := repo.SetAnnualIncomeByEmail(ctx, "nobody@example.com", 1); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Unknown users read as zero income, which is a valid first-run value.
	got, err = repo.AnnualIncome(ctx, "stranger")
	if err != nil || got != 0 {
		t.Fatalf("stranger income = %d (err=%v), want 0", got, err)
	}
}

func TestMirrorQueue(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	txn := core.Transaction{ID: "t1", UserID: "u1", AmountCents: 700, Type: core.CustomSpend, CreatedAt: time.Now()}
	if err := repo.AppendTransaction(ctx, txn); err != nil {
		t.Fatalf("append: %v", err)
	}

	pending, err := repo.ListUnmirrored(ctx, 10)
	if err != nil {
		t.Fatalf("list unmirrored: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "t1" {
		t.Fatalf("pending = %+v, want [t1]", pending)
	}

	if err := repo.MarkMirrored(ctx, "t1"); err != nil {
		t.Fatalf("mark mirrored: %v", err)
	}
	pending, err = repo.ListUnmirrored(ctx, 10)
	if err != nil {
		t.Fatalf("list unmirrored: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after mark = %+v, want none", pending)
	}
}
