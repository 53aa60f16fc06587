package auth

import (
	"crypto/rand"
	"errors"
)

// DefaultTokenAlphabet is the character set used for opaque token material.
const DefaultTokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// TokenGenerator produces fixed-length opaque strings drawn uniformly from a
// configured alphabet, backed by crypto/rand.
type TokenGenerator struct {
	alphabet string
}

// NewTokenGenerator constructs a generator over the given alphabet. An empty
// alphabet falls back to DefaultTokenAlphabet.
func NewTokenGenerator(alphabet string) (*TokenGenerator, error) {
	if alphabet == "" {
		alphabet = DefaultTokenAlphabet
	}
	if len(alphabet) > 256 {
		return nil, errors.New("auth: token alphabet too large")
	}
	return &TokenGenerator{alphabet: alphabet}, nil
}

// Generate returns a string of exactly length characters from the alphabet.
// Rejection sampling keeps the distribution uniform when the alphabet does
// not divide 256.
func (g *TokenGenerator) Generate(length int) string {
	if length <= 0 {
		return ""
	}
	out := make([]byte, 0, length)
	// Largest multiple of len(alphabet) below 256; bytes at or above it are
	// discarded to avoid modulo bias.
	limit := byte(256 - 256%len(g.alphabet))
	buf := make([]byte, length)
	for len(out) < length {
		rand.Read(buf) // never fails as of go1.24; see crypto/rand docs
		for _, b := range buf {
			if limit != 0 && b >= limit {
				continue
			}
			out = append(out, g.alphabet[int(b)%len(g.alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out)
}
