package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// HashPassword returns the hex SHA-256 digest clients send in place of the
// raw password
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// FileChecksum streams the file at path through SHA-256 and returns the lower
// case hex digest
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumEqual compares two hex digests ignoring case
func ChecksumEqual(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
