package core

import "time"

// CanonicalIndex looks up canonical initial category definitions by id.
// Lookup misses are explicit; the fallback policy (use the category's own
// current base value) lives in the rollover routine, not in the index.
type CanonicalIndex map[string]Category

// NewCanonicalIndex flattens the canonical module set into an id index.
func NewCanonicalIndex(modules []Module) CanonicalIndex {
	idx := make(CanonicalIndex)
	for _, m := range modules {
		for _, c := range m.Categories {
			idx[c.ID] = c
		}
	}
	return idx
}

// Lookup returns the canonical definition for a category id, if any.
func (idx CanonicalIndex) Lookup(id string) (Category, bool) {
	c, ok := idx[id]
	return c, ok
}

// BriefingEntry is one line of the human-readable rollover report.
// DifferenceCents is positive for surplus, negative for deficit.
type BriefingEntry struct {
	CategoryID      string `json:"category_id"`
	CategoryName    string `json:"category_name"`
	DifferenceCents int64  `json:"difference_cents"`
	NewBaseCents    int64  `json:"new_base_cents"`
}

// RolloverResult is the full outcome of a weekly reset: the regenerated
// modules (every token unspent), the new fund balance and the briefing.
type RolloverResult struct {
	Modules           []Module        `json:"modules"`
	FundCents         int64           `json:"fund_cents"`
	TotalSpentCents   int64           `json:"total_spent_cents"`
	TotalBudgetCents  int64           `json:"total_budget_cents"`
	TotalSurplusCents int64           `json:"total_surplus_cents"`
	TotalDeficitCents int64           `json:"total_deficit_cents"`
	Briefings         []BriefingEntry `json:"briefings"`
}

// Rollover reconciles a finished week into the next one.
//
// Per category, against its canonical base value (falling back to the
// current base when the canonical plan has no match):
//
//   - surplus pools into the fund; the category restarts at its original
//     base. Surplus is never kept per category.
//   - deficit claws back half from next week's base (floored at zero); the
//     other half is absorbed without consequence. The odd cent is forgiven.
//   - an exact zero difference resets tokens and reports nothing.
//
// Deficits never reduce the fund. The caller persists the result in a
// single atomic write together with the new reset date.
func Rollover(state BudgetState, canonical CanonicalIndex) (RolloverResult, error) {
	res := RolloverResult{FundCents: state.FundCents}

	res.Modules = make([]Module, len(state.Modules))
	for mi, mod := range state.Modules {
		out := Module{ID: mod.ID, Name: mod.Name, Categories: make([]Category, len(mod.Categories))}
		for ci, cat := range mod.Categories {
			base := cat.BaseCents
			if canon, ok := canonical.Lookup(cat.ID); ok {
				base = canon.BaseCents
			}
			spent := cat.SpentCents()
			diff := base - spent

			res.TotalSpentCents += spent
			res.TotalBudgetCents += base

			newBase := base
			switch {
			case diff > 0:
				res.TotalSurplusCents += diff
				res.Briefings = append(res.Briefings, BriefingEntry{
					CategoryID:      cat.ID,
					CategoryName:    cat.Name,
					DifferenceCents: diff,
					NewBaseCents:    newBase,
				})
			case diff < 0:
				deficit := -diff
				res.TotalDeficitCents += deficit
				newBase = base - deficit/2
				if newBase < 0 {
					newBase = 0
				}
				res.Briefings = append(res.Briefings, BriefingEntry{
					CategoryID:      cat.ID,
					CategoryName:    cat.Name,
					DifferenceCents: diff,
					NewBaseCents:    newBase,
				})
			}

			denom := cat.Denomination
			if denom == 0 {
				denom = AutoDenomination(newBase)
			}
			tokens, err := GenerateTokens(cat.ID, newBase, denom)
			if err != nil {
				return RolloverResult{}, err
			}

			cat.BaseCents = newBase
			cat.Tokens = tokens
			out.Categories[ci] = cat
		}
		res.Modules[mi] = out
	}

	res.FundCents = state.FundCents + res.TotalSurplusCents
	return res, nil
}

// NextState assembles the persisted snapshot from a rollover outcome.
func (r RolloverResult) NextState(userID string, at time.Time) BudgetState {
	return BudgetState{
		UserID:    userID,
		Modules:   r.Modules,
		FundCents: r.FundCents,
		LastReset: at,
	}
}
