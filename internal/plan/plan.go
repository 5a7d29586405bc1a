// Package plan provides the canonical initial module definitions: the
// budget a user starts from on first access and the reference the weekly
// rollover reconciles against.
package plan

import (
	_ "embed"
	"fmt"
	"math"
	"time"

	"github.com/BurntSushi/toml"

	"tokenjar/internal/core"
)

//go:embed plan.toml
var planTOML []byte

type planFile struct {
	Modules []moduleDef `toml:"modules"`
}

type moduleDef struct {
	ID         string        `toml:"id"`
	Name       string        `toml:"name"`
	Categories []categoryDef `toml:"categories"`
}

type categoryDef struct {
	ID           string  `toml:"id"`
	Name         string  `toml:"name"`
	Mode         string  `toml:"mode"`
	Base         float64 `toml:"base"`
	Percent      float64 `toml:"percent"`
	Frequency    string  `toml:"frequency"`
	Monthly      float64 `toml:"monthly"`
	Denomination int64   `toml:"denomination"`
}

// Modules decodes the embedded plan into materialized modules: base values
// in cents and a fresh unspent token set per category. Each call returns
// an independent copy, so callers may mutate the result freely.
func Modules() ([]core.Module, error) {
	var f planFile
	if err := toml.Unmarshal(planTOML, &f); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(f.Modules) == 0 {
		return nil, fmt.Errorf("plan defines no modules")
	}

	modules := make([]core.Module, len(f.Modules))
	for mi, md := range f.Modules {
		mod := core.Module{ID: md.ID, Name: md.Name, Categories: make([]core.Category, len(md.Categories))}
		for ci, cd := range md.Categories {
			cat := core.Category{
				ID:           cd.ID,
				Name:         cd.Name,
				Mode:         core.AllocationMode(cd.Mode),
				Percent:      cd.Percent,
				Frequency:    core.Frequency(cd.Frequency),
				BaseCents:    toCents(cd.Base),
				MonthlyCents: toCents(cd.Monthly),
				Denomination: cd.Denomination,
			}
			if err := cat.Validate(); err != nil {
				return nil, fmt.Errorf("plan category %q: %w", cd.ID, err)
			}
			denom := cat.Denomination
			if denom == 0 {
				denom = core.AutoDenomination(cat.BaseCents)
			}
			tokens, err := core.GenerateTokens(cat.ID, cat.BaseCents, denom)
			if err != nil {
				return nil, fmt.Errorf("plan category %q: %w", cd.ID, err)
			}
			cat.Tokens = tokens
			mod.Categories[ci] = cat
		}
		modules[mi] = mod
	}
	return modules, nil
}

// InitialState is the first-run snapshot: canonical modules, empty fund.
func InitialState(userID string, at time.Time) (core.BudgetState, error) {
	modules, err := Modules()
	if err != nil {
		return core.BudgetState{}, err
	}
	return core.BudgetState{
		UserID:    userID,
		Modules:   modules,
		FundCents: 0,
		LastReset: at,
	}, nil
}

// Canonical builds the rollover lookup index from the embedded plan.
func Canonical() (core.CanonicalIndex, error) {
	modules, err := Modules()
	if err != nil {
		return nil, err
	}
	return core.NewCanonicalIndex(modules), nil
}

func toCents(units float64) int64 {
	return int64(math.Round(units * 100))
}
