package crypto

import (
	"crypto/ed25519"
	"errors"
)

// SignatureSize is the size in bytes of a signature produced at any
// SecurityLevel this package implements; every level is Ed25519-backed,
// so the wire codec can treat the signature tail of a packet as a
// fixed-size field regardless of the signer's declared level.
const SignatureSize = ed25519.SignatureSize

// Signature is a detached signature over a message.
type Signature [SignatureSize]byte

// SignatureLength returns the signature length a given security level
// produces. Every currently supported level is Ed25519-backed and shares
// SignatureSize; callers should still go through this function rather
// than hard-coding the constant, per spec.md §4.1's requirement that
// signature length be a deterministic function of the curve.
func SignatureLength(level SecurityLevel) (int, error) {
	switch level {
	case LevelVeryLow, LevelLow, LevelMedium, LevelHigh, LevelCurve25519:
		return SignatureSize, nil
	default:
		return 0, ErrUnknownSecurityLevel
	}
}

// Sign creates a signature over message using the 32-byte seed privateKey.
func Sign(message []byte, privateKey [32]byte) (Signature, error) {
	if len(message) == 0 {
		return Signature{}, errors.New("empty message")
	}

	// Convert the 32-byte private key to the format expected by ed25519
	// Ed25519 private keys are 64 bytes (32 bytes seed + 32 bytes public key)
	edPrivateKey := ed25519.NewKeyFromSeed(privateKey[:])

	// Sign the message
	signatureBytes := ed25519.Sign(edPrivateKey, message)

	var signature Signature
	copy(signature[:], signatureBytes)

	return signature, nil
}

// Verify checks a signature over message against the 32-byte public key.
func Verify(message []byte, signature Signature, publicKey [32]byte) (bool, error) {
	if len(message) == 0 {
		return false, errors.New("empty message")
	}

	// Convert the 32-byte public key to the format expected by ed25519
	var edPublicKey [ed25519.PublicKeySize]byte
	copy(edPublicKey[:], publicKey[:])

	// Verify the signature
	return ed25519.Verify(edPublicKey[:], message, signature[:]), nil
}
