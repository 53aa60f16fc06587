package users

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Digest is the one-way hash used for password storage and out-of-band code
// derivation. Implementations must be deterministic and produce fixed-length
// output.
type Digest interface {
	Sum(input string) string
}

const (
	// DigestSchemeSHA256 selects the fast reference digest. It exists for
	// compatibility with records written by earlier deployments and is not an
	// acceptable choice for new password material.
	DigestSchemeSHA256 = "sha256"
	// DigestSchemeArgon2id selects the memory-hard production digest.
	DigestSchemeArgon2id = "argon2id"
)

// ErrUnknownDigestScheme indicates a digest scheme outside the supported set.
var ErrUnknownDigestScheme = errors.New("users: unknown digest scheme")

// ErrMissingDigestPepper indicates the argon2id scheme was selected without
// key material.
var ErrMissingDigestPepper = errors.New("users: digest pepper required")

// NewDigest constructs the digest strategy named by scheme.
func NewDigest(scheme string, pepper []byte) (Digest, error) {
	switch scheme {
	case DigestSchemeSHA256, "":
		return SHA256Digest{}, nil
	case DigestSchemeArgon2id:
		if len(pepper) == 0 {
			return nil, ErrMissingDigestPepper
		}
		return NewArgon2Digest(pepper), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDigestScheme, scheme)
	}
}

// SHA256Digest is the fast reference digest: hex-encoded SHA-256, 64
// characters.
type SHA256Digest struct{}

// Sum returns the hex SHA-256 of input.
func (SHA256Digest) Sum(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// Argon2Digest derives password material with Argon2id. The salt is a
// deployment-level pepper rather than per-record randomness: the entity
// recomputes digests during comparison, so output must be deterministic for a
// given input. Output is hex encoded, 64 characters, matching the record's
// fixed-length invariant.
type Argon2Digest struct {
	pepper []byte
}

// NewArgon2Digest constructs an Argon2id digest keyed by pepper.
func NewArgon2Digest(pepper []byte) Argon2Digest {
	return Argon2Digest{pepper: append([]byte(nil), pepper...)}
}

// Sum returns the hex Argon2id key for input.
func (d Argon2Digest) Sum(input string) string {
	key := argon2.IDKey([]byte(input), d.pepper, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return hex.EncodeToString(key)
}
