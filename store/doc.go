// Package store implements Dispersy's persisted state: an append-only
// log of accepted messages keyed by (community, member, global_time),
// plus the auxiliary tables the core needs for last-N double-member
// policies and malicious-member proof retention (spec.md §3, §4.3, §6).
//
// The backing engine is a single modernc.org/sqlite database file,
// chosen for its pure-Go, cgo-free build (no C toolchain requirement on
// the peer host, mirroring the teacher's own avoidance of cgo outside
// its optional C bindings). Store does not interpret message payloads;
// it enforces the uniqueness and undo invariants spec.md §3 requires
// and leaves policy-specific eviction (last-N pruning, sequence
// replacement) to the policy package, which composes these primitives.
package store

import (
	"errors"
)

// Error kinds this package distinguishes (spec.md §7 — the subset
// detected at the storage layer).
var (
	// ErrDuplicate indicates an insert violated the
	// (community, member, global_time) uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate row")
	// ErrNotFound indicates a fetch found no matching row.
	ErrNotFound = errors.New("store: row not found")
	// ErrClosed indicates an operation on a closed Store.
	ErrClosed = errors.New("store: closed")
)
