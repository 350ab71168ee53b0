package tokencipher

import (
	"context"
	"encoding/base64"

	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/logging"
)

// Static is AES-256-CBC with one key and one IV shared by every value. Equal
// plaintexts produce equal ciphertexts. It exists to read and write rows
// produced by the legacy application.
type Static struct {
	key []byte
	iv  []byte
	err error
}

// NewStatic returns a static cipher over raw key material.
func NewStatic(key, iv []byte) *Static {
	return &Static{key: key, iv: iv}
}

// Validate checks the key and IV lengths.
func (c *Static) Validate() error {
	if c.err != nil {
		return c.err
	}
	if err := checkKey(c.key); err != nil {
		return err
	}
	return checkIV(c.iv)
}

// Encrypt returns base64(AES-CBC(plaintext)).
func (c *Static) Encrypt(ctx context.Context, plaintext string) (string, bool) {
	if plaintext == "" {
		return "", true
	}
	if err := c.Validate(); err != nil {
		logging.Errorw(ctx, "tokencipher: cannot encrypt", "error", err)
		return "", false
	}
	out, err := encryptCBC(c.key, c.iv, []byte(plaintext))
	if err != nil {
		logging.Errorw(ctx, "tokencipher: encryption failed", "error", err)
		return "", false
	}
	return base64.StdEncoding.EncodeToString(out), true
}

// Decrypt reverses Encrypt.
func (c *Static) Decrypt(ctx context.Context, ciphertext string) (string, bool) {
	if ciphertext == "" {
		return "", true
	}
	if err := c.Validate(); err != nil {
		logging.Errorw(ctx, "tokencipher: cannot decrypt", "error", err)
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		logging.Warnw(ctx, "tokencipher: decryption failed", "error", errors.Mark(ErrMalformed, 0).Append(err.Error()))
		return "", false
	}
	out, err := decryptCBC(c.key, c.iv, raw)
	if err != nil {
		logging.Warnw(ctx, "tokencipher: decryption failed", "error", err)
		return "", false
	}
	return string(out), true
}
