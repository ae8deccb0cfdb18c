package dispersy

import (
	"errors"
	"fmt"
)

// Facade-level sentinel errors (spec.md §7). The remaining error kinds
// (InvalidSignature, InvalidIdentity, Duplicate, OlderThanLastN,
// SequenceGap, SequenceConflict, DelayByProof, DelayByMissingMessage,
// PermissionDenied, MalformedPacket, MaliciousMember) are owned by the
// subpackage that detects them (crypto, member, wire, store, timeline,
// policy, undo) and declared in that subpackage's doc.go. They reach
// callers unwrapped; NewCoreError is available to add operation and
// community context.
var (
	ErrCommunityDestroyed = errors.New("community destroyed")
	ErrTimeout            = errors.New("operation timed out")
)

// CoreError wraps one of the sentinel error kinds above with the
// operation and community that produced it, supporting errors.Is and
// errors.As.
type CoreError struct {
	Op        string // e.g. "batch.flush", "timeline.check", "store.insert"
	Community string // cid hex, empty if not community-scoped
	Err       error
}

func (e *CoreError) Error() string {
	if e.Community != "" {
		return fmt.Sprintf("dispersy %s [%s]: %v", e.Op, e.Community, e.Err)
	}
	return fmt.Sprintf("dispersy %s: %v", e.Op, e.Err)
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewCoreError wraps err with operation and community context.
func NewCoreError(op, community string, err error) *CoreError {
	return &CoreError{Op: op, Community: community, Err: err}
}
