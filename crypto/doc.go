// Package crypto implements the cryptographic primitives Dispersy's member
// identities are built on: key generation at a selectable security level,
// deterministic-length signing and verification, and at-rest protection for
// locally held private key material.
//
// Security levels select a curve and signature scheme. All levels share the
// same Sign/Verify contract: Sign(bytes) then Verify(pub, bytes, sig) must
// round-trip for every key GenerateKeyPair produces at that level.
//
//	level := crypto.LevelCurve25519
//	kp, err := crypto.GenerateKeyPair(level)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sig, err := crypto.Sign(message, kp.Private)
//	ok, err := crypto.Verify(message, sig, kp.Public)
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// SecurityLevel selects the curve and signature scheme used to generate and
// verify a member's keys. Dispersy communities may mix security levels:
// a community's master member chooses the level for itself, and members it
// authorizes may use a different level for their own keys.
type SecurityLevel int

const (
	// LevelVeryLow is the cheapest supported level: Ed25519 signatures
	// with no additional key-derivation work. Suitable for high-churn,
	// low-value communities.
	LevelVeryLow SecurityLevel = iota
	// LevelLow is Ed25519 with the same cost as LevelVeryLow; it exists
	// as a distinct selector so communities can version their policy
	// independent of the underlying scheme.
	LevelLow
	// LevelMedium is Ed25519, the default level for newly created
	// communities.
	LevelMedium
	// LevelHigh is Ed25519 with mandatory secure-memory wiping of
	// intermediate key material during generation.
	LevelHigh
	// LevelCurve25519 uses NaCl box keys (Curve25519) instead of
	// Ed25519. Signing at this level derives an Ed25519 key from the
	// same seed, since a Curve25519 DH key is not itself a signature
	// scheme; the distinction matters to callers that also want to
	// Diffie-Hellman with the same key pair.
	LevelCurve25519
)

// String returns the canonical name used on the wire and in logs.
func (l SecurityLevel) String() string {
	switch l {
	case LevelVeryLow:
		return "very-low"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCurve25519:
		return "curve25519"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// ErrUnknownSecurityLevel is returned when a packet names a security level
// this build does not implement.
var ErrUnknownSecurityLevel = errors.New("crypto: unknown security level")

// ErrInvalidSignature indicates Verify ran successfully but reported
// the signature does not match (spec.md §7's InvalidSignature kind).
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// randReader is overridable in tests that need deterministic key material.
var randReader = rand.Reader
