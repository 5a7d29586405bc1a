package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Fixed      AllocationMode = "fixed"
	Percentage AllocationMode = "percentage"
)

const (
	EveryWeek  Frequency = "weekly"
	EveryMonth Frequency = "monthly"
)

const (
	TokenSpend   TransactionType = "token_spend"
	CustomSpend  TransactionType = "custom_spend"
	GenericSpend TransactionType = "generic_spend"
)

type (
	AllocationMode  string
	Frequency       string
	TransactionType string

	Money struct {
		Cents int64
	}

	// Token is a discrete spendable unit of a category's weekly budget.
	// Its value never changes after generation; Spent flips false->true
	// exactly once and only a reset brings it back.
	Token struct {
		ID         string `json:"id"`
		ValueCents int64  `json:"value_cents"`
		Spent      bool   `json:"spent"`
	}

	// Category holds the week's target allocation, the allocation rule that
	// produced it, and the live token set. The token values sum to BaseCents
	// except transiently while a plan is being edited.
	Category struct {
		ID           string         `json:"id"`
		Name         string         `json:"name"`
		Tokens       []Token        `json:"tokens"`
		BaseCents    int64          `json:"base_cents"`
		Mode         AllocationMode `json:"mode"`
		Percent      float64        `json:"percent,omitempty"`
		Frequency    Frequency      `json:"frequency,omitempty"`
		MonthlyCents int64          `json:"monthly_cents,omitempty"`
		// Denomination in whole currency units (5, 10 or 20); 0 means
		// auto-select from the allocated amount.
		Denomination int64 `json:"denomination,omitempty"`
	}

	// Module is a named grouping of categories with no computed state of
	// its own.
	Module struct {
		ID         string     `json:"id"`
		Name       string     `json:"name"`
		Categories []Category `json:"categories"`
	}

	// BudgetState is the single mutable snapshot persisted per user:
	// live modules, the pooled fund, and the last weekly reset.
	BudgetState struct {
		UserID    string    `json:"user_id"`
		Modules   []Module  `json:"modules"`
		FundCents int64     `json:"fund_cents"`
		LastReset time.Time `json:"last_reset"`
	}

	// Transaction is one append-only spend record. TokenID is set for
	// token spends so a later deletion can reverse the token flip.
	Transaction struct {
		ID          string          `json:"id"`
		UserID      string          `json:"user_id"`
		AmountCents int64           `json:"amount_cents"`
		CategoryID  string          `json:"category_id,omitempty"`
		TokenID     string          `json:"token_id,omitempty"`
		Description string          `json:"description,omitempty"`
		Type        TransactionType `json:"type"`
		CreatedAt   time.Time       `json:"created_at"`
	}
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidPercentage   = errors.New("invalid percentage")
	ErrInvalidDenomination = errors.New("invalid denomination")
	ErrOverAllocated       = errors.New("plan exceeds weekly pool")
	ErrTokenSpent          = errors.New("token already spent")
	ErrUnauthenticated     = errors.New("no active user")
)

// SpentCents sums the values of the category's spent tokens.
func (c Category) SpentCents() int64 {
	var sum int64
	for _, t := range c.Tokens {
		if t.Spent {
			sum += t.ValueCents
		}
	}
	return sum
}

// TokenCents sums the values of all tokens, spent or not.
func (c Category) TokenCents() int64 {
	var sum int64
	for _, t := range c.Tokens {
		sum += t.ValueCents
	}
	return sum
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("empty category id")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("empty category name")
	}
	switch c.Mode {
	case Fixed, Percentage:
	default:
		return errors.New("invalid allocation mode")
	}
	switch c.Frequency {
	case "", EveryWeek, EveryMonth:
	default:
		return errors.New("invalid frequency")
	}
	if c.Percent < 0 || c.Percent > 100 {
		return ErrInvalidPercentage
	}
	if c.MonthlyCents < 0 || c.BaseCents < 0 {
		return ErrInvalidAmount
	}
	if c.Denomination != 0 {
		if err := ValidateDenomination(c.Denomination); err != nil {
			return err
		}
	}
	return nil
}

// TotalBudgetCents is the effective weekly total: the sum of every
// category's base value across all modules. Derived, never persisted.
func (s BudgetState) TotalBudgetCents() int64 {
	var sum int64
	for _, m := range s.Modules {
		for _, c := range m.Categories {
			sum += c.BaseCents
		}
	}
	return sum
}

// FindToken locates a token by category and token id. The returned pointers
// alias the state's slices so callers can flip the spent flag in place.
func (s *BudgetState) FindToken(categoryID, tokenID string) (*Category, *Token, error) {
	for mi := range s.Modules {
		for ci := range s.Modules[mi].Categories {
			cat := &s.Modules[mi].Categories[ci]
			if cat.ID != categoryID {
				continue
			}
			for ti := range cat.Tokens {
				if cat.Tokens[ti].ID == tokenID {
					return cat, &cat.Tokens[ti], nil
				}
			}
			return nil, nil, ErrNotFound
		}
	}
	return nil, nil, ErrNotFound
}

func (t Transaction) Validate() error {
	if t.AmountCents <= 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(t.UserID) == "" {
		return errors.New("empty user id")
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	switch t.Type {
	case TokenSpend, CustomSpend, GenericSpend:
	default:
		return errors.New("invalid transaction type")
	}
	return nil
}
