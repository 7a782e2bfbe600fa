package login

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

const otpDigits = 6

// generateCode produces a zero-padded 6-digit code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate one-time code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// hashCode digests a code for storage; plaintext codes are never persisted.
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// codeMatches compares a submitted code against the stored digest in
// constant time.
func codeMatches(code, storedHash string) bool {
	h := hashCode(code)
	return subtle.ConstantTimeCompare([]byte(h), []byte(storedHash)) == 1
}
