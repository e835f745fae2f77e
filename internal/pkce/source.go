// Package pkce generates proof key for code exchange pairs (RFC 7636).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const MethodS256 = "S256"

// verifierBytes gives a 43 character verifier, the RFC 7636 minimum.
const verifierBytes = 32

type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

type Source struct{}

func (p Source) randBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)

	return b
}

func (p Source) PKCE() PKCE {
	verifier := base64.RawURLEncoding.EncodeToString(p.randBytes(verifierBytes))

	return PKCE{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		Method:    MethodS256,
	}
}

// Challenge derives the S256 code challenge of a verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
