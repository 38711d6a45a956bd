package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
)

// Cipher protects recipient accounts at rest.
// The key never leaves the configuration, rows only carry ciphertext.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

type AesGcmCipher struct {
	aead cipher.AEAD
}

// NewAesGcmCipher expects a hex-encoded 256 bit key
func NewAesGcmCipher(keyHex string) (self *AesGcmCipher, err error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return
	}
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return
	}

	self = new(AesGcmCipher)
	self.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return
}

func (self *AesGcmCipher) Seal(plaintext []byte) (out []byte, err error) {
	nonce := make([]byte, self.aead.NonceSize())
	_, err = io.ReadFull(rand.Reader, nonce)
	if err != nil {
		return
	}

	// Nonce is prepended to the ciphertext
	return self.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (self *AesGcmCipher) Open(ciphertext []byte) (out []byte, err error) {
	if len(ciphertext) < self.aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:self.aead.NonceSize()]
	return self.aead.Open(nil, nonce, ciphertext[self.aead.NonceSize():], nil)
}

// NoopCipher stores values as-is. Only meant for tests and development.
type NoopCipher struct{}

func (NoopCipher) Seal(plaintext []byte) ([]byte, error) {
	return plaintext, nil
}

func (NoopCipher) Open(ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}
