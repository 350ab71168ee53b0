// Package tokencipher protects OAuth tokens and webhook URLs at rest with
// AES-256-CBC.
//
// Ciphers never return errors from Encrypt or Decrypt. A failure is logged on
// the context logger and reported through the boolean, and callers must treat
// it as "no value". Empty input is passed through unchanged.
package tokencipher

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"

	"github.com/rush86999/atomagent/errors"
	"golang.org/x/crypto/pbkdf2"
	"google.golang.org/grpc/codes"
)

const (
	KeySize = 32
	IVSize  = aes.BlockSize

	pbkdf2Iterations = 10000
)

var (
	ErrInvalidKey        = errors.NewC("tokencipher: key must be 32 bytes", codes.FailedPrecondition)
	ErrInvalidIV         = errors.NewC("tokencipher: iv must be 16 bytes", codes.FailedPrecondition)
	ErrMalformed         = errors.NewC("tokencipher: malformed ciphertext", codes.InvalidArgument)
	ErrUnsupportedFormat = errors.NewC("tokencipher: unsupported ciphertext format", codes.InvalidArgument)
)

// Cipher encrypts and decrypts secret strings.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, bool)
	Decrypt(ctx context.Context, ciphertext string) (string, bool)
}

// Options select and configure a Cipher.
type Options struct {
	// Mode is "sealed" (default) or "static".
	Mode string

	// Key and IV are base64 encoded.
	Key string
	IV  string

	// When Passphrase is set the key is derived from it and the base64 Salt.
	Passphrase string
	Salt       string
}

// New builds the cipher described by o. Bad key material does not fail here;
// every call on the returned cipher will fail and log instead. Use Validate
// to surface problems at startup.
func New(o Options) Cipher {
	key, keyErr := o.key()
	iv, ivErr := decodeBase64("iv", o.IV)

	static := &Static{key: key, iv: iv, err: errors.Join(keyErr, ivErr)}
	if o.Mode == "static" {
		return static
	}

	sealed := &Sealed{key: key, err: keyErr}
	if o.IV != "" {
		sealed.legacy = static
	}
	return sealed
}

func (o Options) key() ([]byte, error) {
	if o.Passphrase != "" {
		salt, err := decodeBase64("salt", o.Salt)
		if err != nil {
			return nil, err
		}
		return DeriveKey(o.Passphrase, salt), nil
	}
	return decodeBase64("key", o.Key)
}

// DeriveKey turns a passphrase and salt into a 32 byte key with
// PBKDF2-SHA256.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, KeySize, sha256.New)
}

// Validate reports whether c can encrypt. Ciphers from other packages are
// assumed valid.
func Validate(c Cipher) error {
	if v, ok := c.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}

// EncryptPtr encrypts an optional value. A nil input, or a failed
// encryption, yields nil.
func EncryptPtr(ctx context.Context, c Cipher, plaintext *string) *string {
	if plaintext == nil {
		return nil
	}
	out, ok := c.Encrypt(ctx, *plaintext)
	if !ok {
		return nil
	}
	return &out
}

// DecryptPtr decrypts an optional value. A nil input, or a failed
// decryption, yields nil.
func DecryptPtr(ctx context.Context, c Cipher, ciphertext *string) *string {
	if ciphertext == nil {
		return nil
	}
	out, ok := c.Decrypt(ctx, *ciphertext)
	if !ok {
		return nil
	}
	return &out
}

func decodeBase64(name, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.WrapPrefix(err, "tokencipher: "+name+" is not valid base64", 0).WithCode(codes.FailedPrecondition)
	}
	return b, nil
}

func checkKey(key []byte) error {
	if len(key) != KeySize {
		return errors.Mark(ErrInvalidKey, 1)
	}
	return nil
}

func checkIV(iv []byte) error {
	if len(iv) != IVSize {
		return errors.Mark(ErrInvalidIV, 1)
	}
	return nil
}

func encryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func decryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.Mark(ErrMalformed, 0).Append("length is not a multiple of the block size")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.Mark(ErrMalformed, 0).Append("empty block")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.Mark(ErrMalformed, 0).Append("bad padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.Mark(ErrMalformed, 0).Append("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
