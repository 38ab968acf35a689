// Package tenant implements the tenant registry: lookup by slug, API-key
// hash, or webhook identifier, plus authenticated encryption of per-tenant
// CRM credentials. The encryption key lives only in process environment;
// ciphertext in the registry is opaque.
package tenant

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// ErrConfigDecrypt is returned when CRM config cannot be decrypted:
// missing process key, truncated ciphertext, or failed authentication.
var ErrConfigDecrypt = errors.New("crm config decrypt failed")

// Cipher seals and opens tenant CRM configs with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from 32 bytes of key material.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// EncryptConfig serializes and seals a CRM config. Output layout is
// nonce ∥ ciphertext.
func (c *Cipher) EncryptConfig(cfg models.CRMConfig) ([]byte, error) {
	plain, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

// DecryptConfig opens sealed CRM config bytes. Any failure maps to
// ErrConfigDecrypt; the underlying cause is never surfaced to clients
// because it can leak key state.
func (c *Cipher) DecryptConfig(sealed []byte) (models.CRMConfig, error) {
	if len(sealed) < c.aead.NonceSize() {
		return nil, ErrConfigDecrypt
	}
	nonce, body := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrConfigDecrypt
	}
	var cfg models.CRMConfig
	if err := json.Unmarshal(plain, &cfg); err != nil {
		return nil, ErrConfigDecrypt
	}
	return cfg, nil
}
