package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// E2EEInfo is the HKDF info string binding derived keys to direct messages
const E2EEInfo = "securechat-e2ee-v1"

var ErrInvalidPublicKey = errors.New("invalid peer public key")

// EphemeralKeyPair is a one-off X25519 key pair for a peer session handshake
type EphemeralKeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateEphemeral creates a fresh X25519 key pair
func GenerateEphemeral() (*EphemeralKeyPair, error) {
	var kp EphemeralKeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return nil, err
	}

	// Clamp private key
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return &kp, nil
}

// DeriveSessionKey computes the X25519 shared secret with the peer's public
// contribution and stretches it into an AES-256 key. Both ends derive the same
// key regardless of who initiated.
func (kp *EphemeralKeyPair) DeriveSessionKey(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != 32 {
		return nil, ErrInvalidPublicKey
	}

	shared, err := curve25519.X25519(kp.Private[:], peerPublic)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}

	key := make([]byte, KeySize)
	reader := hkdf.New(sha256.New, shared, nil, []byte(E2EEInfo))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
