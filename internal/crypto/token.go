package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// rawTokenBytes sizes the bearer token for the signing link. 24 bytes of
// entropy encode to 48 hex characters.
const rawTokenBytes = 24

// CertificatePrefix is the fixed prefix of every certificate identifier.
const CertificatePrefix = "DW"

// HashToken returns the lowercase hex SHA-256 digest of a raw bearer token.
// Only the digest is ever persisted; lookups re-hash the presented token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewRawToken generates an opaque bearer secret for a buyer signing link.
func NewRawToken() (string, error) {
	b, err := RandBytes(rawTokenBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewCertificateID generates a human-readable certificate id of the form
// DW-####-####, each group drawn independently from 1000-9999. Uniqueness is
// probabilistic; collisions are not checked against existing certificates.
func NewCertificateID() (string, error) {
	seg := func() (int64, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(9000))
		if err != nil {
			return 0, err
		}
		return 1000 + n.Int64(), nil
	}
	a, err := seg()
	if err != nil {
		return "", err
	}
	b, err := seg()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%d", CertificatePrefix, a, b), nil
}
