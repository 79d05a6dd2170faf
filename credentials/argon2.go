package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-errors"
	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

// HashParams tunes the memory-hard hash applied to tokens before storage.
type HashParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultHashParams are the production cost settings: 64 MiB memory, 3
// iterations, 4-way parallelism, 32-byte output.
func DefaultHashParams() HashParams {
	return HashParams{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes tokens with argon2id and verifies candidates against stored
// PHC-format strings.
type Hasher struct {
	params HashParams
}

// NewHasher validates the cost parameters and returns a Hasher.
func NewHasher(params HashParams) (*Hasher, error) {
	if params.Memory == 0 || params.Time == 0 || params.Parallelism == 0 {
		return nil, errors.New("argon2 cost parameters must be non-zero", errors.CategoryBadInput)
	}
	if params.SaltLength < 16 || params.KeyLength < 16 {
		return nil, errors.New("argon2 salt and key lengths must be at least 16 bytes", errors.CategoryBadInput)
	}

	return &Hasher{params: params}, nil
}

// Hash derives the storage form of a token. Each call uses a fresh salt, so
// hashing the same token twice yields different strings.
func (h *Hasher) Hash(token string) (string, error) {
	if token == "" {
		return "", errors.New("cannot hash an empty token", errors.CategoryBadInput)
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to read salt")
	}

	key := argon2.IDKey(
		[]byte(token),
		salt,
		h.params.Time,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify compares a candidate token against a stored hash in constant time.
// It collapses every failure mode, including a malformed stored hash or an
// algorithm mismatch, to false: verification sits on the request path and
// must never panic or leak the token through an error value.
func (h *Hasher) Verify(token, encodedHash string) bool {
	if token == "" || encodedHash == "" {
		return false
	}

	memory, time, parallelism, salt, want, ok := parseEncodedHash(encodedHash)
	if !ok {
		return false
	}

	got := argon2.IDKey([]byte(token), salt, time, memory, parallelism, uint32(len(want)))

	return subtle.ConstantTimeCompare(got, want) == 1
}

// parseEncodedHash decodes a $argon2id$v=..$m=..,t=..,p=..$salt$hash string.
// It reports ok=false for anything it cannot parse rather than erroring, so
// the caller can treat malformed storage as a plain verification failure.
func parseEncodedHash(encoded string) (memory, time uint32, parallelism uint8, salt, hash []byte, ok bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return 0, 0, 0, nil, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, false
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return 0, 0, 0, nil, nil, false
	}
	if m == 0 || t == 0 || p == 0 {
		return 0, 0, 0, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return 0, 0, 0, nil, nil, false
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return 0, 0, 0, nil, nil, false
	}

	return m, t, p, salt, hash, true
}
