package policy

import "github.com/opd-ai/dispersy-go/store"

// FullSync keeps every accepted message indefinitely (spec.md §4.6).
// It exists mainly for symmetry with LastN/Sequence: there is no
// eviction decision to make, so Apply is a thin wrapper over
// store.InsertRow.
type FullSync struct{}

// Apply inserts newRow unconditionally.
func (FullSync) Apply(s *store.Store, newRow *store.Row) (*Result, error) {
	if _, err := s.InsertRow(newRow); err != nil {
		return nil, err
	}
	return &Result{Outcome: Stored}, nil
}
