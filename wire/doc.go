// Package wire implements the Dispersy packet codec: deterministic
// encoding and decoding of the fixed-layout sections spec.md §4.2 and §6
// define.
//
// A packet is the concatenation:
//
//	community_prefix(20) || meta_marker(2) || auth || distribution || destination || payload || signature(s)
//
// All integers are big-endian; global_time is an unsigned 64-bit integer.
// Encoding the same logical message always produces identical bytes
// (spec.md §4.2: "Encoding is deterministic"). Decoding recovers the
// meta-message selector, the author(s), the distribution fields, the
// payload, and the trailing signature(s) without needing the community's
// meta-message catalog — that catalog is consulted by the caller to
// interpret MetaMessageID and to select authentication/distribution
// variants for encoding.
//
// Signature placement follows spec.md §4.2 exactly: a single-member
// packet's one signature trails the packet. A double-member packet
// carries the co-signer's signature (sigB) first and the first signer's
// closing signature (sigA) last; sigA's signed region covers everything
// up to its own offset, including sigB, so the first signer's signature
// is the one that finalizes the fully double-signed packet. A
// request-for-signature packet carries sigA as all-zero bytes until the
// co-signer responds.
package wire

import "errors"

// Errors the codec can return. These map to the core's error kinds
// (spec.md §7); Drop-on-failure is the caller's responsibility, not the
// codec's.
var (
	// ErrMalformedPacket indicates the byte slice is too short or its
	// internal length fields are inconsistent with the buffer size.
	ErrMalformedPacket = errors.New("wire: malformed packet")
	// ErrUnknownAuthType indicates an AuthenticationType byte this build
	// does not implement.
	ErrUnknownAuthType = errors.New("wire: unknown authentication type")
	// ErrUnknownDestinationType indicates a DestinationType byte this
	// build does not implement.
	ErrUnknownDestinationType = errors.New("wire: unknown destination type")
)
