package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
)

// DefaultRSABits is the relay identity key size
const DefaultRSABits = 2048

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// GenerateRSAKeyPair generates a new RSA key pair. bits <= 0 selects DefaultRSABits.
func GenerateRSAKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits <= 0 {
		bits = DefaultRSABits
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

// ExportPublicKeyDER encodes the public key as PKIX DER, the form sent in the
// first handshake frame
func ExportPublicKeyDER(key *rsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(key)
}

// ImportPublicKeyDER parses a PKIX DER public key received during the handshake
func ImportPublicKeyDER(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, ErrInvalidKey
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return rsaPub, nil
}

// ExportPrivateKeyPEM exports private key to PEM format
func ExportPrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// ImportPrivateKeyPEM imports private key from PEM format
func ImportPrivateKeyPEM(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKey
	}

	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// LoadOrGenerateKey reads a PEM private key from path, or generates one and
// stores it there when the file does not exist. An empty path always
// generates an ephemeral key.
func LoadOrGenerateKey(path string, bits int) (*rsa.PrivateKey, bool, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			key, err := ImportPrivateKeyPEM(data)
			return key, false, err
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, err
		}
	}

	key, err := GenerateRSAKeyPair(bits)
	if err != nil {
		return nil, false, err
	}

	if path != "" {
		if err := os.WriteFile(path, ExportPrivateKeyPEM(key), 0600); err != nil {
			return nil, false, err
		}
	}

	return key, true, nil
}

// RSAEncrypt encrypts data with RSA public key using OAEP
func RSAEncrypt(data []byte, publicKey *rsa.PublicKey) ([]byte, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, publicKey, data, nil)
	if err != nil {
		return nil, ErrEncryptionFailed
	}
	return ciphertext, nil
}

// RSADecrypt decrypts data with RSA private key using OAEP
func RSADecrypt(ciphertext []byte, privateKey *rsa.PrivateKey) ([]byte, error) {
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, privateKey, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
