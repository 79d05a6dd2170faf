// Package credentials issues and verifies long-lived bearer tokens.
//
// A token is <class prefix> plus 43 characters of unpadded URL-safe base64
// covering 32 random bytes. The plaintext is returned to the caller exactly
// once; storage keeps only an argon2id hash and the first 8 characters for
// indexed lookup.
package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/goliatone/go-errors"
)

// Class identifies the credential class embedded in the token prefix.
type Class string

const (
	// ClassAccess is a personal access token.
	ClassAccess Class = "access"
	// ClassRefresh is a refresh token.
	ClassRefresh Class = "refresh"
	// ClassUnknown is any string that is not a recognized token.
	ClassUnknown Class = ""
)

const (
	// AccessPrefix marks access tokens.
	AccessPrefix = "gwa_"
	// RefreshPrefix marks refresh tokens. It is a strict superstring of
	// AccessPrefix, so classification must test it first.
	RefreshPrefix = "gwa_ref_"

	// LookupPrefixLen is how many leading characters are stored for O(1)
	// lookup before the expensive hash comparison.
	LookupPrefixLen = 8

	secretBytes = 32
	// 32 bytes of raw URL-safe base64 without padding.
	encodedSecretLen = 43
)

// Generate draws a fresh credential of the given class. The returned string
// is the only copy of the secret that will ever exist.
func Generate(class Class) (string, error) {
	prefix := ""
	switch class {
	case ClassAccess:
		prefix = AccessPrefix
	case ClassRefresh:
		prefix = RefreshPrefix
	default:
		return "", errors.New("unknown credential class", errors.CategoryBadInput)
	}

	raw := make([]byte, secretBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to read random bytes")
	}

	return prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Classify reports the credential class of an arbitrary string. It is pure
// and total: any input, including the empty string, yields a result without
// panicking. Matching is case-sensitive, and the refresh prefix is tested
// first because the access prefix is a prefix of it.
func Classify(token string) Class {
	if hasPrefix(token, RefreshPrefix) {
		return ClassRefresh
	}
	if hasPrefix(token, AccessPrefix) {
		return ClassAccess
	}
	return ClassUnknown
}

// ExtractPrefix returns the leading characters used for stored-hash lookup.
// Inputs shorter than the lookup width are returned unchanged.
func ExtractPrefix(token string) string {
	if len(token) <= LookupPrefixLen {
		return token
	}
	return token[:LookupPrefixLen]
}

// IsWellFormed reports whether a string is shaped like a credential of a
// known class. A matching prefix is not enough: truncated or corrupted values
// shorter than a full secret are rejected.
func IsWellFormed(token string) bool {
	switch Classify(token) {
	case ClassRefresh:
		return len(token) >= len(RefreshPrefix)+encodedSecretLen
	case ClassAccess:
		return len(token) >= len(AccessPrefix)+encodedSecretLen
	default:
		return false
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
