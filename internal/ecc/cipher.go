package ecc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	apperr "github.com/pliu/cipherchat/internal/errors"
)

const (
	KeySize = 32
	IVSize  = aes.BlockSize
)

// Envelope is one AES-256-CBC ciphertext with its IV, both base64.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// DeriveSharedSecret is plain ECDH: the X coordinate of priv*pub.
// derive(a, B) == derive(b, A).
//
// The same secret is reused for every message of a pair; there is no ratchet,
// so one leaked private key exposes the whole history with that peer.
func DeriveSharedSecret(priv *PrivateKey, pub *PublicKey) []byte {
	return secp256k1.GenerateSharedSecret(priv, pub)
}

// Encrypt seals plaintext with the first 32 bytes of secret under a fresh IV.
func Encrypt(plaintext, secret []byte) (Envelope, error) {
	block, err := newBlock(secret)
	if err != nil {
		return Envelope{}, apperr.Wrap(apperr.CodeCrypto, apperr.MessageOf(apperr.ErrEncryption), err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, apperr.Wrap(apperr.CodeCrypto, apperr.MessageOf(apperr.ErrEncryption), err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(out),
		IV:         base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// Decrypt reverses Encrypt. Any key, IV or padding mismatch is ErrDecryption.
func Decrypt(env Envelope, secret []byte) ([]byte, error) {
	fail := func(cause error) error {
		return apperr.Wrap(apperr.CodeCrypto, apperr.MessageOf(apperr.ErrDecryption), cause)
	}
	block, err := newBlock(secret)
	if err != nil {
		return nil, fail(err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fail(fmt.Errorf("ciphertext encoding: %w", err))
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fail(fmt.Errorf("iv encoding: %w", err))
	}
	if len(iv) != IVSize {
		return nil, fail(fmt.Errorf("iv must be %d bytes, got %d", IVSize, len(iv)))
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fail(errors.New("ciphertext is not a whole number of blocks"))
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return nil, fail(err)
	}
	return plain, nil
}

func newBlock(secret []byte) (cipher.Block, error) {
	if len(secret) < KeySize {
		return nil, fmt.Errorf("secret must be at least %d bytes, got %d", KeySize, len(secret))
	}
	return aes.NewCipher(secret[:KeySize])
}

func pkcs7Pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 || len(data)%size != 0 {
		return nil, errors.New("bad padding")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, errors.New("bad padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("bad padding")
		}
	}
	return data[:len(data)-n], nil
}
