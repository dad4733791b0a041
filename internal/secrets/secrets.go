package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Format is $booking-v1$salt$nonce$ciphertext with base64 raw-std segments.
// The version segment guards against decrypting values written by an
// incompatible key-derivation or cipher configuration.
const formatVersion = "booking-v1"

// Argon2idParams tunes the key derivation applied to the shared secret.
type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2idParams mirrors the interactive-login cost profile.
var DefaultArgon2idParams = Argon2idParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// DecryptionError reports that a stored ciphertext could not be opened:
// wrong secret, tampered payload, version mismatch, or malformed segments.
type DecryptionError struct {
	Reason string
}

// Error implements the error interface.
func (e *DecryptionError) Error() string {
	return fmt.Sprintf("secrets: decryption failed: %s", e.Reason)
}

// IsDecryptionError reports whether err is a DecryptionError.
func IsDecryptionError(err error) bool {
	var target *DecryptionError
	return errors.As(err, &target)
}

// Encrypt seals plaintext under a key derived from secret with argon2id,
// using AES-256-GCM. Every call draws a fresh salt and nonce, so identical
// plaintexts never produce identical ciphertexts.
func Encrypt(plaintext, secret string) (string, error) {
	params := DefaultArgon2idParams

	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	gcm, err := buildAEAD(secret, salt, params)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$%s$%s$%s$%s",
		formatVersion,
		b64.EncodeToString(salt),
		b64.EncodeToString(nonce),
		b64.EncodeToString(sealed),
	), nil
}

// Decrypt opens a ciphertext produced by Encrypt. All failure modes are
// reported as DecryptionError so callers can treat the resolution attempt
// as fatal without inspecting the cause.
func Decrypt(ciphertext, secret string) (string, error) {
	parts := strings.Split(ciphertext, "$")
	if len(parts) != 5 || parts[0] != "" {
		return "", &DecryptionError{Reason: "malformed ciphertext segments"}
	}
	if parts[1] != formatVersion {
		return "", &DecryptionError{Reason: fmt.Sprintf("unsupported format version %q", parts[1])}
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[2])
	if err != nil {
		return "", &DecryptionError{Reason: "undecodable salt segment"}
	}
	nonce, err := b64.DecodeString(parts[3])
	if err != nil {
		return "", &DecryptionError{Reason: "undecodable nonce segment"}
	}
	sealed, err := b64.DecodeString(parts[4])
	if err != nil {
		return "", &DecryptionError{Reason: "undecodable payload segment"}
	}

	gcm, err := buildAEAD(secret, salt, DefaultArgon2idParams)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", &DecryptionError{Reason: "nonce length mismatch"}
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed"}
	}
	return string(plaintext), nil
}

func buildAEAD(secret string, salt []byte, params Argon2idParams) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(secret), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
