// Package tokens: helpers de material aleatorio y hashing para tokens.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// GenerateNonce genera un nonce aleatorio (base64url sin padding).
// 16 bytes => 128 bits.
func GenerateNonce(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SHA256Hex devuelve sha256(input) en hexadecimal.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// Hash16 devuelve los primeros 16 hex del SHA-256: suficiente para
// correlacionar sin poder reconstruir el input.
func Hash16(s string) string {
	return SHA256Hex(s)[:16]
}
