package core

import (
	"testing"
	"time"
)

func spentTokens(categoryID string, values ...int64) []Token {
	tokens := make([]Token, len(values))
	for i, v := range values {
		tokens[i] = Token{ID: categoryID + "-" + string(rune('1'+i)), ValueCents: v, Spent: true}
	}
	return tokens
}

func stateOf(fund int64, cats ...Category) BudgetState {
	return BudgetState{
		UserID:    "u1",
		Modules:   []Module{{ID: "m1", Name: "Main", Categories: cats}},
		FundCents: fund,
	}
}

func TestRolloverSurplusPoolsIntoFund(t *testing.T) {
	cat := Category{
		ID: "groceries", Name: "Groceries", BaseCents: 5000, Mode: Fixed, Denomination: 10,
		Tokens: []Token{
			{ID: "groceries-1", ValueCents: 1000, Spent: true},
			{ID: "groceries-2", ValueCents: 1000, Spent: true},
			{ID: "groceries-3", ValueCents: 1000},
			{ID: "groceries-4", ValueCents: 1000},
			{ID: "groceries-5", ValueCents: 1000},
		},
	}
	canonical := NewCanonicalIndex([]Module{{ID: "m1", Categories: []Category{
		{ID: "groceries", BaseCents: 5000},
	}}})

	res, err := Rollover(stateOf(1500, cat), canonical)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalSurplusCents != 3000 {
		t.Fatalf("surplus = %d, want 3000", res.TotalSurplusCents)
	}
	if res.FundCents != 4500 {
		t.Fatalf("fund = %d, want 4500", res.FundCents)
	}
	out := res.Modules[0].Categories[0]
	// Surplus restarts at the original base, not base+surplus.
	if out.BaseCents != 5000 {
		t.Fatalf("base = %d, want 5000", out.BaseCents)
	}
	for _, tok := range out.Tokens {
		if tok.Spent {
			t.Fatalf("token %s still spent after rollover", tok.ID)
		}
	}
	if len(res.Briefings) != 1 || res.Briefings[0].DifferenceCents != 3000 {
		t.Fatalf("briefings = %+v, want one surplus entry of 3000", res.Briefings)
	}
}

func TestRolloverDeficitDamping(t *testing.T) {
	// Base 50, spent 70 -> difference -20 -> next week's base 40.
	cat := Category{
		ID: "eatingout", Name: "Eating out", BaseCents: 7000, Mode: Fixed, Denomination: 10,
		Tokens: spentTokens("eatingout", 2000, 2000, 2000, 1000),
	}
	canonical := NewCanonicalIndex([]Module{{ID: "m1", Categories: []Category{
		{ID: "eatingout", BaseCents: 5000},
	}}})

	res, err := Rollover(stateOf(0, cat), canonical)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalDeficitCents != 2000 {
		t.Fatalf("deficit = %d, want 2000", res.TotalDeficitCents)
	}
	// Deficits never touch the fund.
	if res.FundCents != 0 {
		t.Fatalf("fund = %d, want 0", res.FundCents)
	}
	out := res.Modules[0].Categories[0]
	if out.BaseCents != 4000 {
		t.Fatalf("new base = %d, want 4000", out.BaseCents)
	}
	if out.TokenCents() != 4000 {
		t.Fatalf("tokens sum to %d, want 4000", out.TokenCents())
	}
	if len(res.Briefings) != 1 {
		t.Fatalf("briefings = %+v, want one deficit entry", res.Briefings)
	}
	b := res.Briefings[0]
	if b.DifferenceCents != -2000 || b.NewBaseCents != 4000 {
		t.Fatalf("briefing = %+v, want difference -2000 and new base 4000", b)
	}
}

func TestRolloverDeficitFloorsAtZero(t *testing.T) {
	cat := Category{
		ID: "impulse", Name: "Impulse", BaseCents: 1000, Mode: Fixed, Denomination: 5,
		Tokens: spentTokens("impulse", 500, 500, 2500),
	}
	canonical := NewCanonicalIndex(nil)

	res, err := Rollover(stateOf(0, cat), canonical)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// No canonical match: falls back to the current base of 10, spent 35,
	// deficit 25, clawback 12.50 -> base floors via max(0, 10-12.50) = 0.
	out := res.Modules[0].Categories[0]
	if out.BaseCents != 0 {
		t.Fatalf("new base = %d, want 0", out.BaseCents)
	}
	if len(out.Tokens) != 0 {
		t.Fatalf("expected no tokens at zero base, got %d", len(out.Tokens))
	}
}

func TestRolloverExactZeroReportsNothing(t *testing.T) {
	cat := Category{
		ID: "fuel", Name: "Fuel", BaseCents: 4000, Mode: Fixed, Denomination: 10,
		Tokens: spentTokens("fuel", 1000, 1000, 1000, 1000),
	}
	canonical := NewCanonicalIndex([]Module{{ID: "m1", Categories: []Category{
		{ID: "fuel", BaseCents: 4000},
	}}})

	res, err := Rollover(stateOf(700, cat), canonical)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Briefings) != 0 {
		t.Fatalf("exact zero must not brief, got %+v", res.Briefings)
	}
	if res.FundCents != 700 {
		t.Fatalf("fund = %d, want 700 unchanged", res.FundCents)
	}
	out := res.Modules[0].Categories[0]
	if out.BaseCents != 4000 || out.SpentCents() != 0 {
		t.Fatalf("expected unchanged base and reset tokens, got base=%d spent=%d", out.BaseCents, out.SpentCents())
	}
}

func TestRolloverConservationWithoutDeficit(t *testing.T) {
	cats := []Category{
		{ID: "a", Name: "A", BaseCents: 3000, Mode: Fixed, Denomination: 10, Tokens: []Token{
			{ID: "a-1", ValueCents: 1000, Spent: true},
			{ID: "a-2", ValueCents: 1000},
			{ID: "a-3", ValueCents: 1000},
		}},
		{ID: "b", Name: "B", BaseCents: 2000, Mode: Fixed, Denomination: 10, Tokens: []Token{
			{ID: "b-1", ValueCents: 1000},
			{ID: "b-2", ValueCents: 1000},
		}},
	}
	canonical := NewCanonicalIndex([]Module{{ID: "m1", Categories: []Category{
		{ID: "a", BaseCents: 3000},
		{ID: "b", BaseCents: 2000},
	}}})

	res, err := Rollover(stateOf(100, cats...), canonical)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// newFund == oldFund + sum(base - spent) and baselines unchanged.
	if res.FundCents != 100+2000+2000 {
		t.Fatalf("fund = %d, want 4100", res.FundCents)
	}
	var newBases int64
	for _, c := range res.Modules[0].Categories {
		newBases += c.BaseCents
	}
	if newBases != 5000 {
		t.Fatalf("sum of new bases = %d, want 5000", newBases)
	}
}

func TestRolloverNextState(t *testing.T) {
	res := RolloverResult{FundCents: 42, Modules: []Module{{ID: "m1"}}}
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	st := res.NextState("u1", at)
	if st.UserID != "u1" || st.FundCents != 42 || !st.LastReset.Equal(at) {
		t.Fatalf("unexpected state: %+v", st)
	}
}
