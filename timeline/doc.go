// Package timeline implements the per-community permission state
// machine (spec.md §4.4): which member may perform which action on
// which meta-message, as a function of global_time, with every grant
// traceable back to the community's master member.
//
// The master member holds every permission from the community's
// creation onward without an explicit grant record; every other
// member's permission exists only because some already-authorized
// member (recursively, up to master) issued an authorize event naming
// it. Check answers "can this action happen at this global_time" by
// scanning the recorded grant ranges; the recursive proof
// requirement is enforced once, when the grant is applied, not on
// every subsequent check.
package timeline

import "errors"

// Error kinds this package distinguishes (spec.md §7).
var (
	// ErrPermissionDenied indicates the granter of an authorize/revoke
	// event did not itself hold the authorizing permission at the
	// event's global_time.
	ErrPermissionDenied = errors.New("timeline: permission denied")
	// ErrNoProofChain indicates MinimumProofChain found no grant path
	// for the requested (member, meta, action, global_time).
	ErrNoProofChain = errors.New("timeline: no proof chain")
)
