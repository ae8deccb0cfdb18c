package policy

import (
	"sort"

	"github.com/opd-ai/dispersy-go/store"
)

// Outcome is a LastN policy's verdict for one arriving row.
type Outcome uint8

const (
	// Stored means the row was inserted (possibly evicting another).
	Stored Outcome = iota
	// Rejected means the row was older than or tied with the smallest
	// currently-kept row; Correction carries the newest kept packet to
	// send back to the offender (spec.md §4.6).
	Rejected
)

// Result is the outcome of applying a LastN policy to one row.
type Result struct {
	Outcome    Outcome
	Evicted    *store.Row // nil unless a row was evicted to make room
	Correction []byte     // the newest kept packet, set only when Rejected
}

// LastNSingle keeps at most N rows per (community, member, meta-message)
// for single-member authentication (spec.md §4.6).
type LastNSingle struct {
	N int
}

// Apply decides whether newRow should be stored under a LastNSingle
// policy, given the rows currently kept for the same
// (community, member, meta-message) key. It performs the store
// mutation itself (insert and, if needed, evict) so the decision and
// the write happen together.
func (p *LastNSingle) Apply(s *store.Store, newRow *store.Row) (*Result, error) {
	existing, err := s.FetchByMember(newRow.Community, newRow.Member, newRow.MetaMessage)
	if err != nil {
		return nil, err
	}
	if len(existing) < p.N {
		if _, err := s.InsertRow(newRow); err != nil {
			return nil, err
		}
		return &Result{Outcome: Stored}, nil
	}

	sort.Slice(existing, func(i, j int) bool { return existing[i].GlobalTime < existing[j].GlobalTime })
	smallest := existing[0]
	newest := existing[len(existing)-1]

	// Tie-break (SPEC_FULL.md Open Question #3): when newRow would
	// itself be the smallest (including a tie), it is the one dropped.
	if newRow.GlobalTime <= smallest.GlobalTime {
		return &Result{Outcome: Rejected, Correction: newest.Packet}, nil
	}

	if err := s.DeleteRow(smallest.ID); err != nil {
		return nil, err
	}
	if _, err := s.InsertRow(newRow); err != nil {
		return nil, err
	}
	return &Result{Outcome: Stored, Evicted: smallest}, nil
}

// LastNDouble keeps at most N rows per
// (community, ordered-member-pair, meta-message) for double-member
// authentication (spec.md §4.6). member1/member2 must be passed in the
// same order used when the row's double_signed_sync reference was
// recorded.
type LastNDouble struct {
	N int
}

// Apply mirrors LastNSingle.Apply, keyed by the member combination.
// newRow is inserted via the store's plain InsertRow; the caller is
// responsible for recording the double_signed_sync reference
// afterward (InsertDoubleSignedRef), since Store has no combination
// concept of its own.
func (p *LastNDouble) Apply(s *store.Store, newRow *store.Row, member1, member2 int64) (*Result, error) {
	existing, err := s.FetchByCombination(newRow.Community, newRow.MetaMessage, member1, member2)
	if err != nil {
		return nil, err
	}
	if len(existing) < p.N {
		id, err := s.InsertRow(newRow)
		if err != nil {
			return nil, err
		}
		newRow.ID = id
		if err := s.InsertDoubleSignedRef(id, member1, member2); err != nil {
			return nil, err
		}
		return &Result{Outcome: Stored}, nil
	}

	sort.Slice(existing, func(i, j int) bool { return existing[i].GlobalTime < existing[j].GlobalTime })
	smallest := existing[0]
	newest := existing[len(existing)-1]

	if newRow.GlobalTime <= smallest.GlobalTime {
		return &Result{Outcome: Rejected, Correction: newest.Packet}, nil
	}

	if err := s.DeleteRow(smallest.ID); err != nil {
		return nil, err
	}
	id, err := s.InsertRow(newRow)
	if err != nil {
		return nil, err
	}
	newRow.ID = id
	if err := s.InsertDoubleSignedRef(id, member1, member2); err != nil {
		return nil, err
	}
	return &Result{Outcome: Stored, Evicted: smallest}, nil
}
