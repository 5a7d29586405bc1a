package core

import "strconv"

// Denominations a token set may be built from, in whole currency units.
const (
	DenomSmall  int64 = 5
	DenomMedium int64 = 10
	DenomLarge  int64 = 20
)

// ValidateDenomination accepts only the three supported token sizes.
func ValidateDenomination(units int64) error {
	switch units {
	case DenomSmall, DenomMedium, DenomLarge:
		return nil
	}
	return ErrInvalidDenomination
}

// AutoDenomination picks a token size for an allocated amount when the
// category has no explicit preference: small budgets get small tokens,
// large budgets get large ones.
func AutoDenomination(baseCents int64) int64 {
	switch {
	case baseCents < 3000:
		return DenomSmall
	case baseCents >= 10000:
		return DenomLarge
	default:
		return DenomMedium
	}
}

// GenerateTokens builds the token set for one category: greedy tokens of
// the given denomination, then at most one remainder token carrying
// whatever is left. The values always sum exactly to totalCents.
//
// Token ids are {categoryID}-{seq} with seq restarting at 1 on every
// regeneration; a week's token set is only ever replaced wholesale, never
// appended to.
func GenerateTokens(categoryID string, totalCents, denomUnits int64) ([]Token, error) {
	if err := ValidateDenomination(denomUnits); err != nil {
		return nil, err
	}
	if totalCents < 0 {
		return nil, ErrInvalidAmount
	}
	denomCents := denomUnits * 100

	var tokens []Token
	seq := 1
	remaining := totalCents
	for remaining >= denomCents {
		tokens = append(tokens, Token{
			ID:         categoryID + "-" + strconv.Itoa(seq),
			ValueCents: denomCents,
		})
		seq++
		remaining -= denomCents
	}
	if remaining >= 1 {
		tokens = append(tokens, Token{
			ID:         categoryID + "-" + strconv.Itoa(seq),
			ValueCents: remaining,
		})
	}
	return tokens, nil
}
