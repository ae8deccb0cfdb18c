package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeyPair is a member's key material. Public and Private are always 32
// bytes regardless of SecurityLevel: Ed25519 levels store the seed (not
// the expanded 64-byte signing key) in Private, and LevelCurve25519
// stores a NaCl box key pair.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
	Level   SecurityLevel
}

// GenerateKeyPair creates a new random key pair at the given security
// level. Every level produces a deterministic-length signature through
// Sign/Verify: this is the round-trip property spec.md §4.1 requires.
func GenerateKeyPair(level SecurityLevel) (*KeyPair, error) {
	logger := newLogger("GenerateKeyPair")
	logger.WithFields(logrus.Fields{"level": level.String()}).Debug("generating member key pair")

	switch level {
	case LevelCurve25519:
		pub, priv, err := box.GenerateKey(randReader)
		if err != nil {
			logger.WithError(err, "key_generation_failed", "box.GenerateKey").Error("failed to generate curve25519 key pair")
			return nil, err
		}
		return &KeyPair{Public: *pub, Private: *priv, Level: level}, nil

	case LevelVeryLow, LevelLow, LevelMedium, LevelHigh:
		pub, priv, err := ed25519.GenerateKey(randReader)
		if err != nil {
			logger.WithError(err, "key_generation_failed", "ed25519.GenerateKey").Error("failed to generate ed25519 key pair")
			return nil, err
		}
		kp := &KeyPair{Level: level}
		copy(kp.Public[:], pub)
		copy(kp.Private[:], priv.Seed())
		if level == LevelHigh {
			// LevelHigh additionally wipes the expanded signing key
			// immediately; only the 32-byte seed is retained.
			ZeroBytes(priv)
		}
		logger.WithFields(logrus.Fields{
			"public_key_preview": fmt.Sprintf("%x", kp.Public[:8]),
		}).Info("member key pair generated")
		return kp, nil

	default:
		return nil, ErrUnknownSecurityLevel
	}
}

// FromSecretKey reconstructs a key pair from an existing 32-byte private
// key (an Ed25519 seed, or a Curve25519 scalar for LevelCurve25519).
func FromSecretKey(level SecurityLevel, secretKey [32]byte) (*KeyPair, error) {
	logger := newLogger("FromSecretKey")

	if isZeroKey(secretKey) {
		logger.WithError(errors.New("all zeros"), "validation_failed", "secret_key_validation").
			Error("secret key cannot be all zeros")
		return nil, errors.New("invalid secret key: all zeros")
	}

	switch level {
	case LevelCurve25519:
		var priv [32]byte
		copy(priv[:], secretKey[:])
		priv[0] &= 248
		priv[31] &= 127
		priv[31] |= 64

		var pub [32]byte
		curve25519.ScalarBaseMult(&pub, &priv)
		ZeroBytes(priv[:])

		return &KeyPair{Public: pub, Private: secretKey, Level: level}, nil

	case LevelVeryLow, LevelLow, LevelMedium, LevelHigh:
		priv := ed25519.NewKeyFromSeed(secretKey[:])
		kp := &KeyPair{Level: level, Private: secretKey}
		copy(kp.Public[:], priv.Public().(ed25519.PublicKey))
		return kp, nil

	default:
		return nil, ErrUnknownSecurityLevel
	}
}

func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
