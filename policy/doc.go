// Package policy implements Dispersy's distribution policies (spec.md
// §4.6): FullSync, LastN (single- and double-member keyed), InOrder,
// OutOrder, and Sequence-numbered. Every policy advances the
// community's global_time on acceptance; that bookkeeping lives in the
// root dispersy package, since only it tracks per-community state.
// Policy types here decide whether an already-verified, timeline-
// accepted message is stored, evicts another row, or is itself
// rejected, and provide InOrder/OutOrder sort helpers (SortInOrder,
// SortOutOrder, SyncResponseOrder). The anti-entropy responder does not
// call them: antientropy.CollectSyncResponse answers oldest first.
package policy

import "errors"

// Error kinds this package distinguishes (spec.md §7).
var (
	// ErrOlderThanLastN indicates a message's global_time is not newer
	// than the smallest currently-kept row under a LastN policy.
	ErrOlderThanLastN = errors.New("policy: older than last-N window")
	// ErrSequenceGap indicates a sequence-numbered message's seq does
	// not equal the expected next value.
	ErrSequenceGap = errors.New("policy: sequence gap")
	// ErrSequenceConflict indicates a sequence-numbered message repeats
	// or precedes an already-accepted sequence at an equal or earlier
	// global_time.
	ErrSequenceConflict = errors.New("policy: sequence conflict")
)
