// Package secrets provides authenticated encryption for credentials at rest.
//
// Values are sealed with AES-256-GCM and persisted as a (ciphertext, nonce)
// pair. Rows written before encryption was introduced carry only a plaintext
// column; StoredSecret models both forms so readers never break during key
// rotation or migration.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/goliatone/go-errors"
)

// KeySize is the required key length for AES-256.
const KeySize = 32

const (
	textCodeDecryptionFailed = "secret_decryption_failed"
	textCodeSecretMissing    = "secret_missing"
)

// ErrDecryptionFailed is returned for tampered ciphertext, a foreign key, or
// a malformed nonce. The offending ciphertext is never attached.
var ErrDecryptionFailed = errors.New("secret decryption failed", errors.CategoryInternal).
	WithTextCode(textCodeDecryptionFailed)

// ErrSecretMissing is returned when a record holds neither a decryptable
// ciphertext pair nor a legacy plaintext value.
var ErrSecretMissing = errors.New("secret not available", errors.CategoryNotFound).
	WithTextCode(textCodeSecretMissing)

// Encryptor seals and opens secrets with AES-256-GCM.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from a 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, errors.New("encryption key must be 32 bytes", errors.CategoryBadInput)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to initialize cipher")
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to initialize GCM")
	}

	return &Encryptor{aead: aead}, nil
}

// KeyFromConfig selects the encryption key material. When a dedicated 32-byte
// key is configured it is used as-is. When absent, a deterministic fallback is
// derived from the application secret; derived reports that case so callers
// can log a warning. The fallback keeps existing deployments decrypting but is
// not acceptable for new ones.
func KeyFromConfig(encryptionKey, appSecret []byte) (key []byte, derived bool, err error) {
	if len(encryptionKey) == KeySize {
		return encryptionKey, false, nil
	}

	if len(encryptionKey) != 0 {
		return nil, false, errors.New("encryption key must be 32 bytes", errors.CategoryBadInput)
	}

	if len(appSecret) == 0 {
		return nil, false, errors.New("no encryption key or application secret configured", errors.CategoryBadInput)
	}

	sum := sha256.Sum256(appSecret)
	return sum[:], true, nil
}

// Encrypt seals plaintext under a fresh random nonce. Repeated calls with the
// same plaintext produce distinct ciphertext.
func (e *Encryptor) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	if e == nil || e.aead == nil {
		return nil, nil, errors.New("encryptor is not configured", errors.CategoryInternal)
	}

	nonce = make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, errors.Wrap(err, errors.CategoryInternal, "failed to read nonce")
	}

	ciphertext = e.aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens a ciphertext/nonce pair. It fails closed: any tampering, key
// mismatch, or malformed nonce yields ErrDecryptionFailed without exposing
// the payload.
func (e *Encryptor) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if e == nil || e.aead == nil {
		return nil, errors.New("encryptor is not configured", errors.CategoryInternal)
	}

	if len(nonce) != e.aead.NonceSize() {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// LooksEncrypted is a heuristic for values that may already be ciphertext:
// long enough to contain a GCM tag and restricted to the base64 charset. It
// supports transparent migration of legacy columns.
func LooksEncrypted(value string) bool {
	// 16-byte GCM tag alone encodes to 24 base64 characters.
	if len(value) < 24 {
		return false
	}

	for _, c := range value {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '+' || c == '/' || c == '-' || c == '_' || c == '=':
		default:
			return false
		}
	}

	return true
}
