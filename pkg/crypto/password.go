package crypto

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrSecretMismatch is returned when a plaintext secret does not match its hash.
var ErrSecretMismatch = errors.New("crypto: secret mismatch")

// HashSecret hashes plaintext using bcrypt and returns the encoded hash.
func HashSecret(plain string) (string, error) {
	if strings.TrimSpace(plain) == "" {
		return "", errors.New("crypto: empty secret")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CompareSecret compares plaintext to an encoded bcrypt hash.
func CompareSecret(hash, plain string) error {
	if hash == "" || plain == "" {
		return ErrSecretMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrSecretMismatch
		}
		return err
	}
	return nil
}
