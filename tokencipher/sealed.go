package tokencipher

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/logging"
)

// SealedPrefix marks ciphertexts produced by Sealed.
const SealedPrefix = "v2:"

// Sealed is AES-256-CBC with a fresh random IV per value. The IV is stored in
// front of the ciphertext: "v2:" + base64(iv || ciphertext).
//
// Values without the prefix are handed to the legacy static cipher, when one
// is configured, so existing rows stay readable.
type Sealed struct {
	key    []byte
	legacy *Static
	err    error
}

// NewSealed returns a sealed cipher. legacy may be nil.
func NewSealed(key []byte, legacy *Static) *Sealed {
	return &Sealed{key: key, legacy: legacy}
}

// Validate checks the key length, and the legacy key and IV when legacy
// reads are configured.
func (c *Sealed) Validate() error {
	if c.err != nil {
		return c.err
	}
	if err := checkKey(c.key); err != nil {
		return err
	}
	if c.legacy != nil {
		return c.legacy.Validate()
	}
	return nil
}

func (c *Sealed) Encrypt(ctx context.Context, plaintext string) (string, bool) {
	if plaintext == "" {
		return "", true
	}
	if err := c.Validate(); err != nil {
		logging.Errorw(ctx, "tokencipher: cannot encrypt", "error", err)
		return "", false
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		logging.Errorw(ctx, "tokencipher: no randomness for iv", "error", err)
		return "", false
	}
	out, err := encryptCBC(c.key, iv, []byte(plaintext))
	if err != nil {
		logging.Errorw(ctx, "tokencipher: encryption failed", "error", err)
		return "", false
	}
	return SealedPrefix + base64.StdEncoding.EncodeToString(append(iv, out...)), true
}

func (c *Sealed) Decrypt(ctx context.Context, ciphertext string) (string, bool) {
	if ciphertext == "" {
		return "", true
	}
	if !strings.HasPrefix(ciphertext, SealedPrefix) {
		if c.legacy == nil {
			logging.Warnw(ctx, "tokencipher: decryption failed", "error", errors.Mark(ErrUnsupportedFormat, 0))
			return "", false
		}
		return c.legacy.Decrypt(ctx, ciphertext)
	}
	if err := c.Validate(); err != nil {
		logging.Errorw(ctx, "tokencipher: cannot decrypt", "error", err)
		return "", false
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, SealedPrefix))
	if err != nil || len(raw) <= IVSize {
		logging.Warnw(ctx, "tokencipher: decryption failed", "error", errors.Mark(ErrMalformed, 0))
		return "", false
	}
	out, err := decryptCBC(c.key, raw[:IVSize], raw[IVSize:])
	if err != nil {
		logging.Warnw(ctx, "tokencipher: decryption failed", "error", err)
		return "", false
	}
	return string(out), true
}
