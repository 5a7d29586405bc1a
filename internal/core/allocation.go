package core

import "math"

// WeeksPerYear is the calendar constant used to derive the weekly pool
// from annual income. Fixed, never recomputed per year.
const WeeksPerYear = 52.17

// Percentage and monthly targets snap to the nearest multiple of five
// currency units so they tokenize cleanly.
const roundingStepCents = 500

// AllocationResult carries the allocated plan and its aggregates.
//
// TotalDustCents is the signed sum of rounding remainders discarded while
// snapping targets to the token grid. It is surfaced for visibility and
// deliberately not redistributed anywhere.
type AllocationResult struct {
	Modules             []Module `json:"modules"`
	WeeklyPoolCents     int64    `json:"weekly_pool_cents"`
	TotalAllocatedCents int64    `json:"total_allocated_cents"`
	TotalDustCents      int64    `json:"total_dust_cents"`
	OverAllocated       bool     `json:"over_allocated"`
}

// AllocatePlan converts an annual income and a set of per-category rules
// into concrete weekly base values and regenerated token sets.
//
// Rules, per category:
//   - monthly frequency: monthly amount / 4 (fixed four-weeks-per-month
//     approximation), snapped to the token grid
//   - percentage mode: weekly pool * percent, snapped to the token grid
//   - fixed mode: the stored base value passes through untouched
//
// A zero income is not an error: the pool is zero and every percentage or
// monthly category allocates zero tokens. Callers must treat an
// OverAllocated result as unsaveable.
func AllocatePlan(annualIncomeCents int64, modules []Module) (AllocationResult, error) {
	if annualIncomeCents < 0 {
		return AllocationResult{}, ErrInvalidAmount
	}

	res := AllocationResult{
		WeeklyPoolCents: int64(math.Round(float64(annualIncomeCents) / WeeksPerYear)),
	}

	res.Modules = make([]Module, len(modules))
	for mi, mod := range modules {
		out := Module{ID: mod.ID, Name: mod.Name, Categories: make([]Category, len(mod.Categories))}
		for ci, cat := range mod.Categories {
			if err := cat.Validate(); err != nil {
				return AllocationResult{}, err
			}
			allocated, dust, err := allocateCategory(res.WeeklyPoolCents, cat)
			if err != nil {
				return AllocationResult{}, err
			}
			res.TotalAllocatedCents += allocated.BaseCents
			res.TotalDustCents += dust
			out.Categories[ci] = allocated
		}
		res.Modules[mi] = out
	}

	res.OverAllocated = res.TotalAllocatedCents > res.WeeklyPoolCents
	return res, nil
}

func allocateCategory(poolCents int64, cat Category) (Category, int64, error) {
	var target, rounded int64
	switch {
	case cat.Frequency == EveryMonth:
		target = halfUpDiv(cat.MonthlyCents, 4)
		rounded = snapToStep(target)
	case cat.Mode == Percentage:
		// Basis points keep the percentage math integral.
		bps := int64(math.Round(cat.Percent * 100))
		target = halfUpDiv(poolCents*bps, 10000)
		rounded = snapToStep(target)
	default: // fixed: pass-through, no recomputation, no dust
		target = cat.BaseCents
		rounded = target
	}

	denom := cat.Denomination
	if denom == 0 {
		denom = AutoDenomination(rounded)
	}
	tokens, err := GenerateTokens(cat.ID, rounded, denom)
	if err != nil {
		return Category{}, 0, err
	}

	cat.BaseCents = rounded
	cat.Tokens = tokens
	return cat, target - rounded, nil
}

// snapToStep rounds to the nearest multiple of five currency units,
// half up. Inputs are non-negative by the time they reach here.
func snapToStep(cents int64) int64 {
	return (cents + roundingStepCents/2) / roundingStepCents * roundingStepCents
}

// halfUpDiv divides non-negative cents with half-up rounding.
func halfUpDiv(cents, by int64) int64 {
	return (cents + by/2) / by
}
