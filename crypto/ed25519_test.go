package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	levels := []SecurityLevel{LevelVeryLow, LevelLow, LevelMedium, LevelHigh, LevelCurve25519}

	for _, level := range levels {
		t.Run(level.String(), func(t *testing.T) {
			kp, err := GenerateKeyPair(level)
			require.NoError(t, err)

			message := []byte("dispersy-authorize global_time=12")
			sig, err := Sign(message, kp.Private)
			require.NoError(t, err)

			n, err := SignatureLength(level)
			require.NoError(t, err)
			assert.Equal(t, n, len(sig))

			ok, err := Verify(message, sig, kp.Public)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, err := GenerateKeyPair(LevelMedium)
	require.NoError(t, err)

	sig, err := Sign([]byte("original"), kp.Private)
	require.NoError(t, err)

	ok, err := Verify([]byte("tampered"), sig, kp.Public)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignatureLengthUnknownLevel(t *testing.T) {
	_, err := SignatureLength(SecurityLevel(42))
	assert.ErrorIs(t, err, ErrUnknownSecurityLevel)
}
