// Package undo implements Dispersy's undo/revoke engine (spec.md §4.8):
// marking a prior message undone — by its own author or by a party
// holding the undo permission — detecting the malicious double-undo
// case, and cascading the community's timeline-permission changes back
// over already-stored messages.
package undo

import "errors"

var (
	// ErrNotPermitted is returned when the caller lacks the permission
	// required to undo the target message.
	ErrNotPermitted = errors.New("undo: caller not permitted to undo target")
	// ErrTargetNotFound is returned when the target row doesn't exist.
	ErrTargetNotFound = errors.New("undo: target row not found")
	// ErrAlreadyUndoneByOther marks the non-malicious case: someone else
	// already undid this target, and that first undo stands.
	ErrAlreadyUndoneByOther = errors.New("undo: target already undone by a different packet")
)

// MaliciousDoubleUndo is returned (alongside the blacklist/purge side
// effects already applied) when the same author tries to undo the same
// target twice — spec.md §4.8's "double-undo by the same author on the
// same target is malicious" rule.
type MaliciousDoubleUndo struct {
	Community []byte
	Member    int64
}

func (e *MaliciousDoubleUndo) Error() string {
	return "undo: double-undo by the same author is malicious"
}
