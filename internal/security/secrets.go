package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashSecretSHA256 is how station passwords are stored.
func HashSecretSHA256(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func ConstantTimeEqualHex(aHex, bHex string) bool {
	a, err1 := hex.DecodeString(aHex)
	b, err2 := hex.DecodeString(bHex)
	if err1 != nil || err2 != nil {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// VerifySecret checks a presented secret against its stored hash. An empty
// stored hash never matches.
func VerifySecret(storedHash, presented string) bool {
	if storedHash == "" {
		return false
	}
	return ConstantTimeEqualHex(storedHash, HashSecretSHA256(presented))
}

// ConstantTimeEqual compares tokens without leaking where they differ.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
