package hash

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// CodeAlphabet leaves out characters that are easy to misread (0/O, 1/I/L).
const CodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const CodeLength = 8

// GenerateCode returns a random short code drawn from CodeAlphabet.
func GenerateCode() (string, error) {
	max := big.NewInt(int64(len(CodeAlphabet)))
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode upper-cases a user-typed code and strips separators so
// "abcd-efgh" and "ABCDEFGH" refer to the same code.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// Digest is what gets stored for a code. Codes are never persisted in plain.
func Digest(code string) string {
	sum := blake2b.Sum256([]byte(NormalizeCode(code)))
	return hex.EncodeToString(sum[:])
}
