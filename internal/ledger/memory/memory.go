// Package memory is an in-memory ledger for tests and deployments
// without a spreadsheet configured.
package memory

import (
	"context"
	"sync"

	"tokenjar/internal/ledger"
)

type Store struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

var _ ledger.Writer = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// AppendEntry records the entry.
func (s *Store) AppendEntry(_ context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of everything appended so far.
func (s *Store) Entries() []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
