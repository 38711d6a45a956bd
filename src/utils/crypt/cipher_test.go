package crypt

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestSealOpenRoundTrip(t *testing.T) {
	cipher, err := NewAesGcmCipher(testKeyHex)
	assert.NoError(t, err)

	sealed, err := cipher.Seal([]byte("ACCOUNT-123"))
	assert.NoError(t, err)
	assert.NotEqual(t, []byte("ACCOUNT-123"), sealed)

	opened, err := cipher.Open(sealed)
	assert.NoError(t, err)
	assert.Equal(t, []byte("ACCOUNT-123"), opened)
}

func TestSealIsRandomized(t *testing.T) {
	cipher, err := NewAesGcmCipher(testKeyHex)
	assert.NoError(t, err)

	first, err := cipher.Seal([]byte("ACCOUNT-123"))
	assert.NoError(t, err)
	second, err := cipher.Seal([]byte("ACCOUNT-123"))
	assert.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	cipher, err := NewAesGcmCipher(testKeyHex)
	assert.NoError(t, err)

	sealed, err := cipher.Seal([]byte("ACCOUNT-123"))
	assert.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = cipher.Open(sealed)
	assert.Error(t, err)
}

func TestRejectsBadKeys(t *testing.T) {
	_, err := NewAesGcmCipher("not-hex")
	assert.Error(t, err)

	_, err = NewAesGcmCipher(hex.EncodeToString([]byte("short")))
	assert.Error(t, err)
}
