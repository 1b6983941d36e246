// Package cryptutil implements the per-entry encryption MKAR applies after
// compression: a PBKDF2-HMAC-SHA256 derived AES-128-CBC key, with the key
// index, salt and IV carried alongside the ciphertext.
package cryptutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/xerrors"
)

const (
	SaltSize   = 16
	IVSize     = 16
	KeySize    = 16
	Iterations = 100000
)

// headerSize is the byte length of the kix/salt/iv prefix before ciphertext.
const headerSize = 4 + SaltSize + IVSize

// deriveKey runs PBKDF2-HMAC-SHA256 over password and salt.
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New)
}

// Encrypt derives a key from password, generates a random salt and IV, and
// returns LE(kix,4) || salt(16) || iv(16) || PKCS7(AES-128-CBC(plaintext)).
func Encrypt(plaintext []byte, kix uint32, password string) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Errorf("cryptutil: new cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, headerSize+len(ciphertext))
	binary.LittleEndian.PutUint32(out[0:4], kix)
	copy(out[4:4+SaltSize], salt)
	copy(out[4+SaltSize:headerSize], iv)
	copy(out[headerSize:], ciphertext)
	return out, nil
}

// KeyIndex extracts the key index from an encrypted payload without
// decrypting it, so callers can look up the right password.
func KeyIndex(in []byte) (uint32, error) {
	if len(in) < headerSize {
		return 0, xerrors.Errorf("cryptutil: encrypted payload too short")
	}
	return binary.LittleEndian.Uint32(in[0:4]), nil
}

// ErrIncorrectPassword is returned by Decrypt when PKCS7 unpadding fails,
// the canonical signal (in the absence of an AEAD tag) that the derived key
// was wrong.
var ErrIncorrectPassword = xerrors.New("cryptutil: incorrect password")

// Decrypt reverses Encrypt given the same password.
func Decrypt(in []byte, password string) ([]byte, error) {
	if len(in) < headerSize {
		return nil, xerrors.Errorf("cryptutil: encrypted payload too short")
	}
	salt := in[4 : 4+SaltSize]
	iv := in[4+SaltSize : headerSize]
	ciphertext := in[headerSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, xerrors.Errorf("cryptutil: ciphertext length %d not block-aligned", len(ciphertext))
	}

	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Errorf("cryptutil: new cipher: %w", err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded)
	if err != nil {
		return nil, ErrIncorrectPassword
	}
	return plaintext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, xerrors.Errorf("cryptutil: empty padded data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, xerrors.Errorf("cryptutil: invalid padding length %d", padLen)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, xerrors.Errorf("cryptutil: invalid padding byte")
		}
	}
	return data[:len(data)-padLen], nil
}
