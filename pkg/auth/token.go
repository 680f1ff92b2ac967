package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// tokenRandomBytes is the entropy drawn per issuance; the random bytes
// alone provide the full 256 bits of unpredictability. The secret and
// timestamp only diversify against weak RNG seeding.
const tokenRandomBytes = 32

// tokenPrefixLen is how much of a token is safe to surface in logs
const tokenPrefixLen = 8

// generateTokenValue derives an opaque token:
// lowercase hex of SHA-256(secret || random || big_endian(now)).
func generateTokenValue(secret string, now int64) (string, error) {
	random := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now))

	hasher := sha256.New()
	hasher.Write([]byte(secret))
	hasher.Write(random)
	hasher.Write(ts[:])

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// TokenPrefix returns the leading characters of a token for audit lines;
// never log the full value.
func TokenPrefix(token string) string {
	if len(token) <= tokenPrefixLen {
		return token
	}
	return token[:tokenPrefixLen]
}
