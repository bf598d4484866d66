// Package secrets encrypts issuer credential material at rest.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/lotefact/lotefact/internal/config"
	"go.uber.org/fx"
	"golang.org/x/crypto/chacha20poly1305"
)

var ErrInvalidCiphertext = errors.New("invalid_ciphertext")

// Cipher seals and opens small secrets (PEM certificates and keys) with
// XChaCha20-Poly1305. The key is derived from the configured passphrase.
type Cipher struct {
	key []byte
}

func NewCipher(cfg config.Config) (*Cipher, error) {
	if cfg.SecretsKey == "" {
		return nil, errors.New("secrets key is required")
	}
	sum := sha256.Sum256([]byte(cfg.SecretsKey))
	return &Cipher{key: sum[:]}, nil
}

func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *Cipher) Open(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrInvalidCiphertext
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return plaintext, nil
}

// Module provides the credential cipher.
var Module = fx.Module("secrets",
	fx.Provide(NewCipher),
)
