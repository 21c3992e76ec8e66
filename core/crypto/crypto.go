package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// GenerateNonce generates a cryptographically secure random value and returns
// it as a base64-encoded string. The length parameter specifies the number of
// random bytes to generate.
func GenerateNonce(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("nonce length must be positive, got %d", length)
	}

	nonce := make([]byte, length)
	_, err := rand.Read(nonce)
	if err != nil {
		return "", fmt.Errorf("failed to generate random nonce: %w", err)
	}

	encodedNonce := base64.StdEncoding.EncodeToString(nonce)
	return encodedNonce, nil
}

// RandomMemoHash returns a base64-encoded 32-byte value suitable for use as a
// SEP-12 hash memo. Anchors use it to disambiguate logical parties (sender vs
// receiver) that share one ledger account.
func RandomMemoHash() (string, error) {
	return GenerateNonce(32)
}

// HashSHA256 computes the SHA256 hash of the provided data and returns it as a byte slice.
func HashSHA256(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}
