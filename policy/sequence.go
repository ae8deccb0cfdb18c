package policy

import "github.com/opd-ai/dispersy-go/store"

// Sequence implements sequence-numbered distribution (spec.md §4.6): a
// dense per-(meta, member) sequence 1, 2, … with replacement and
// orphan-drop semantics.
type Sequence struct{}

// SeqResult extends Result with the sequence-specific bookkeeping a
// replacement performs.
type SeqResult struct {
	Result
	OrphansDropped []*store.Row
}

// Apply decides the fate of a row carrying sequence number seq for
// (community, member, meta-message), per spec.md §4.6's three rules:
// accept the next dense sequence if its global_time advances the
// community clock; replace an existing sequence position with an
// earlier-global_time version (dropping everything built on top of
// it); otherwise reject.
func (Sequence) Apply(s *store.Store, newRow *store.Row, seq uint32) (*SeqResult, error) {
	maxSeq, err := s.MaxSequence(newRow.Community, newRow.Member, newRow.MetaMessage)
	if err != nil {
		return nil, err
	}
	var lastGlobalTime uint64
	if maxSeq > 0 {
		last, err := s.FetchBySequence(newRow.Community, newRow.Member, newRow.MetaMessage, maxSeq)
		if err != nil {
			return nil, err
		}
		lastGlobalTime = last.GlobalTime
	}

	newRow.Sequence = seq

	switch {
	case seq == maxSeq+1:
		if newRow.GlobalTime <= lastGlobalTime {
			return nil, ErrSequenceConflict
		}
		if _, err := s.InsertRow(newRow); err != nil {
			return nil, err
		}
		return &SeqResult{Result: Result{Outcome: Stored}}, nil

	case seq <= maxSeq && seq >= 1:
		existing, err := s.FetchBySequence(newRow.Community, newRow.Member, newRow.MetaMessage, seq)
		if err != nil {
			return nil, err
		}
		if newRow.GlobalTime >= existing.GlobalTime {
			return nil, ErrSequenceConflict
		}
		orphans, err := s.FetchSequenceGreaterThan(newRow.Community, newRow.Member, newRow.MetaMessage, seq)
		if err != nil {
			return nil, err
		}
		for _, orphan := range orphans {
			if err := s.DeleteRow(orphan.ID); err != nil {
				return nil, err
			}
		}
		if err := s.DeleteRow(existing.ID); err != nil {
			return nil, err
		}
		if _, err := s.InsertRow(newRow); err != nil {
			return nil, err
		}
		return &SeqResult{Result: Result{Outcome: Stored, Evicted: existing}, OrphansDropped: orphans}, nil

	default:
		return nil, ErrSequenceGap
	}
}
