package secrets

// StoredSecret is the at-rest representation of a credential: either an
// encrypted (ciphertext, nonce) pair or a legacy plaintext value, possibly
// both during migration.
type StoredSecret struct {
	Ciphertext []byte
	Nonce      []byte
	Legacy     string
}

// IsEncrypted reports whether the secret carries the encrypted field pair.
func (s StoredSecret) IsEncrypted() bool {
	return len(s.Ciphertext) > 0 && len(s.Nonce) > 0
}

// IsEmpty reports whether the secret holds no value in either form.
func (s StoredSecret) IsEmpty() bool {
	return !s.IsEncrypted() && s.Legacy == ""
}

// Seal encrypts plaintext into a StoredSecret. The legacy field is left empty
// so callers migrating a row drop the plaintext column content.
func Seal(enc *Encryptor, plaintext string) (StoredSecret, error) {
	if plaintext == "" {
		return StoredSecret{}, nil
	}

	ciphertext, nonce, err := enc.Encrypt([]byte(plaintext))
	if err != nil {
		return StoredSecret{}, err
	}

	return StoredSecret{Ciphertext: ciphertext, Nonce: nonce}, nil
}

// Resolve returns the plaintext secret. Encryption here is best effort, fail
// open to legacy: a failed decryption falls back to the plaintext column when
// one exists, because token retrieval must not block authenticated calls
// during key rotation. Only when no fallback exists does a decryption failure
// surface, and an absent secret resolves to ErrSecretMissing.
func (s StoredSecret) Resolve(enc *Encryptor) (string, error) {
	if s.IsEncrypted() {
		plaintext, err := enc.Decrypt(s.Ciphertext, s.Nonce)
		if err == nil {
			return string(plaintext), nil
		}

		if s.Legacy != "" {
			return s.Legacy, nil
		}

		return "", err
	}

	if s.Legacy != "" {
		return s.Legacy, nil
	}

	return "", ErrSecretMissing
}
