// Package credentials derives a per-process encryption key via scrypt and
// uses it to seal and open AES-256-GCM envelopes around per-user exchange
// secrets before they are handed to vault.Client for storage. The executor
// holds the opened secret only for the duration of one decision cycle.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/scrypt"
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	derivedKeyLen = 32
)

// Envelope seals and opens AES-256-GCM ciphertext envelopes under one
// derived key.
type Envelope struct {
	key []byte
}

// NewEnvelope derives a 256-bit key from the named environment variable's
// passphrase and a fixed, operator-configured salt (also read from the
// environment), using scrypt rather than a raw truncation so a short or
// low-entropy passphrase still yields a key resistant to offline brute
// force.
func NewEnvelope(masterKeyEnv, saltEnv string) (*Envelope, error) {
	passphrase := os.Getenv(masterKeyEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("credentials: %s is not set", masterKeyEnv)
	}
	salt := os.Getenv(saltEnv)
	if salt == "" {
		return nil, fmt.Errorf("credentials: %s is not set", saltEnv)
	}

	key, err := scrypt.Key([]byte(passphrase), []byte(salt), scryptN, scryptR, scryptP, derivedKeyLen)
	if err != nil {
		return nil, fmt.Errorf("credentials: deriving key: %w", err)
	}

	return &Envelope{key: key}, nil
}

// Seal encrypts plaintext and returns a base64-encoded nonce||ciphertext
// envelope.
func (e *Envelope) Seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("credentials: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("credentials: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("credentials: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a base64-encoded nonce||ciphertext envelope produced by
// Seal.
func (e *Envelope) Open(envelope string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("credentials: decoding envelope: %w", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("credentials: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("credentials: creating GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("credentials: envelope too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("credentials: opening envelope: %w", err)
	}
	return string(plaintext), nil
}

// Zero clears a secret once the executor is done with it for this decision
// cycle (spec §5: "never held longer than one cycle") by setting *secret to
// the empty string. Go strings are immutable: the loop below zeroes a copy,
// and the bytes of the original string value are not overwritten.
func Zero(secret *string) {
	if secret == nil {
		return
	}
	b := []byte(*secret)
	for i := range b {
		b[i] = 0
	}
	*secret = ""
}
