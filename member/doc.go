// Package member implements Dispersy member identities: the binding
// between a public key and the short identifier (mid) used everywhere
// else in the core to name an author without repeating the full key.
//
// A Member is created the first time its public key is observed (in an
// identity message, an authorization proof, or a locally generated
// my_member identity) and persists for the community's lifetime in the
// store's member table. Tags (Ignore, Blacklist) are mutable local
// annotations; they never travel on the wire.
package member

import (
	"crypto/sha1" //nolint:gosec // wire-format compatible short identifier, not a security boundary
	"fmt"
)

// MIDSize is the length in bytes of a member identifier, fixed by the
// wire format (spec.md §3: "derived mid = 20-byte hash").
const MIDSize = sha1.Size

// MID is the short identifier for a member: sha1(public key).
type MID [MIDSize]byte

// String renders the mid as a hex string for logging and debugging.
func (m MID) String() string {
	return fmt.Sprintf("%x", [MIDSize]byte(m))
}

// DeriveMID computes the member identifier for a public key.
func DeriveMID(publicKey []byte) MID {
	return MID(sha1.Sum(publicKey))
}

// Tag is a local, non-wire annotation describing how the local peer
// treats a member.
type Tag uint8

const (
	// TagNone is the default: no special handling.
	TagNone Tag = 0
	// TagIgnore hides a member's messages from the application without
	// refusing to store or forward them.
	TagIgnore Tag = 1 << iota
	// TagBlacklist stops storage of a member's messages entirely; set
	// when the undo engine detects malicious behavior (spec.md §4.8).
	TagBlacklist
)

// Has reports whether t includes the given tag bit.
func (t Tag) Has(bit Tag) bool { return t&bit != 0 }

// Member is a keyed identity observed within one or more communities.
// ID is the store row id (cross-references between community, member,
// and message are represented as stable numeric ids resolved through
// the store, not as in-memory pointers).
type Member struct {
	ID        int64
	PublicKey []byte
	Level     int // crypto.SecurityLevel, stored as int to avoid an import cycle
	Tags      Tag
}

// Mid returns the member's derived identifier.
func (m *Member) Mid() MID {
	return DeriveMID(m.PublicKey)
}

// IsIgnored reports whether the local peer hides this member's messages.
func (m *Member) IsIgnored() bool {
	return m.Tags.Has(TagIgnore)
}

// IsBlacklisted reports whether the local peer refuses to store this
// member's messages.
func (m *Member) IsBlacklisted() bool {
	return m.Tags.Has(TagBlacklist)
}
