// Package antientropy implements Dispersy's bloom-filter sync round
// (spec.md §4.7): a requester summarizes what it already holds for a
// community in a sliding (low_global_time, modulo, offset, bloom) filter,
// sends it as an introduction/sync request, and the responder walks its
// store answering with whatever the filter says is missing.
//
// It also covers the "dispersy-missing-*" request/response pairs that
// fill in gaps the bloom round can't close on its own: a missing proof
// in the permission chain, a missing message referenced by sequence or
// hash, a missing sequence range, and a missing identity.
package antientropy

import "errors"

var (
	// ErrFilterExhausted is returned by UnmarshalSyncFilter when the
	// encoded filter is shorter than its header or its declared bloom
	// length.
	ErrFilterExhausted = errors.New("antientropy: sync filter exhausted")
	// ErrRateLimited is returned when a peer's sync response would
	// exceed the configured rate limit.
	ErrRateLimited = errors.New("antientropy: sync response rate limited")
)
