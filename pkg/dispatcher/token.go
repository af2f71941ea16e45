package dispatcher

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashToken returns the stored form of an execution token.
func HashToken(token string) string {
	hasher := blake3.New()
	_, _ = hasher.Write([]byte(token))

	return hex.EncodeToString(hasher.Sum(nil))
}

// VerifyToken compares token against the stored hash in constant time.
func VerifyToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(hash)) == 1
}

// GenerateToken returns a new random execution token and its hash. Only
// the hash is persisted.
func GenerateToken() (token, hash string, err error) {
	buf := make([]byte, 32)

	_, err = rand.Read(buf)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate execution token: %w", err)
	}

	token = "npx_" + base64.RawURLEncoding.EncodeToString(buf)

	return token, HashToken(token), nil
}
