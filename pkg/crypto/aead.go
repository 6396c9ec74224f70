package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

// KeySize is the AES-256 key length used for stream and end-to-end keys
const KeySize = 32

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// GenerateAESKey generates a random AES-256 key
func GenerateAESKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// AEAD seals and opens messages with AES-GCM. The random nonce is prepended
// to each ciphertext.
type AEAD struct {
	gcm cipher.AEAD
}

// NewAEAD builds an AES-GCM cipher from a 16, 24 or 32 byte key
func NewAEAD(key []byte) (*AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &AEAD{gcm: gcm}, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext||tag
func (a *AEAD) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.gcm.NonceSize(), a.gcm.NonceSize()+len(plaintext)+a.gcm.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return a.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts a value produced by Seal
func (a *AEAD) Open(data []byte) ([]byte, error) {
	nonceSize := a.gcm.NonceSize()
	if len(data) < nonceSize+a.gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := a.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
