package member

import "errors"

// ErrInvalidIdentity is returned when an identity message's public-key
// bytes are not a valid point for the declared security level (spec.md
// §4.1): the enclosing packet must be dropped without storing.
var ErrInvalidIdentity = errors.New("member: invalid identity")

// keyLengthForLevel mirrors crypto.KeyPair's on-wire public key size:
// every level currently fixes a 32-byte public key, but the check is
// kept explicit (rather than a bare len==32) so a future variable-length
// level fails loudly instead of silently validating garbage.
func keyLengthForLevel(level int) (int, bool) {
	const (
		levelVeryLow = iota
		levelLow
		levelMedium
		levelHigh
		levelCurve25519
	)
	switch level {
	case levelVeryLow, levelLow, levelMedium, levelHigh, levelCurve25519:
		return 32, true
	default:
		return 0, false
	}
}

// ValidateIdentity reports whether publicKey is well-formed for level.
// It does not verify that the key is on-curve (the signature scheme
// itself rejects an invalid point on first use); it enforces the
// length/non-zero invariants the wire format requires before a Member
// is ever constructed from untrusted bytes.
func ValidateIdentity(publicKey []byte, level int) error {
	length, known := keyLengthForLevel(level)
	if !known {
		return ErrInvalidIdentity
	}
	if len(publicKey) != length {
		return ErrInvalidIdentity
	}
	allZero := true
	for _, b := range publicKey {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return ErrInvalidIdentity
	}
	return nil
}

// NewMember constructs a Member from a validated public key.
func NewMember(publicKey []byte, level int) (*Member, error) {
	if err := ValidateIdentity(publicKey, level); err != nil {
		return nil, err
	}
	return &Member{PublicKey: publicKey, Level: level}, nil
}
