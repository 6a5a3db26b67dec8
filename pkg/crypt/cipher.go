package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	SizeOfIV   int = aes.BlockSize
	SizeOfHMAC int = sha256.Size
	SizeOfKey  int = 32
)

var (
	infoEncryptionKey = []byte("courier/message/aes-256-cbc")
	infoMACKey        = []byte("courier/message/hmac-sha256")
)

var (
	ErrDecryption     = errors.New("decryption failed")
	ErrInvalidKeySize = fmt.Errorf("key must be %d bytes", SizeOfKey)
)

// Cipher encrypts message bodies with AES-256-CBC and authenticates them with
// HMAC-SHA256 over iv||body (encrypt-then-MAC). A Cipher holds only immutable
// key material and is safe for concurrent use.
type Cipher struct {
	block  cipher.Block
	macKey []byte
}

// NewCipher derives the encryption and MAC subkeys from the 32 byte master key.
func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) != SizeOfKey {
		return nil, ErrInvalidKeySize
	}

	encKey, err := deriveKey(masterKey, infoEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}
	macKey, err := deriveKey(masterKey, infoMACKey)
	if err != nil {
		return nil, fmt.Errorf("deriving mac key: %w", err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	return &Cipher{block: block, macKey: macKey}, nil
}

func deriveKey(masterKey, info []byte) ([]byte, error) {
	key := make([]byte, SizeOfKey)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, info), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt returns the ciphertext (body followed by its MAC) and the fresh random
// IV it was produced with. The ciphertext is never empty, even for "".
func (c *Cipher) Encrypt(plaintext string) ([]byte, []byte, error) {
	iv := make([]byte, SizeOfIV)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("creating AES IV: %w", err)
	}

	body := pad([]byte(plaintext))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(body, body)

	ciphertext := make([]byte, 0, len(body)+SizeOfHMAC)
	ciphertext = append(ciphertext, body...)
	ciphertext = append(ciphertext, c.mac(iv, body)...)

	return ciphertext, iv, nil
}

// Decrypt verifies and decrypts a ciphertext produced by Encrypt. Every failure
// matches ErrDecryption.
func (c *Cipher) Decrypt(ciphertext, iv []byte) (string, error) {
	if len(iv) != SizeOfIV {
		return "", fmt.Errorf("%w: invalid IV length %d", ErrDecryption, len(iv))
	}
	bodyLen := len(ciphertext) - SizeOfHMAC
	if bodyLen < aes.BlockSize || bodyLen%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: invalid ciphertext length %d", ErrDecryption, len(ciphertext))
	}

	body, tag := ciphertext[:bodyLen], ciphertext[bodyLen:]
	if !hmac.Equal(tag, c.mac(iv, body)) {
		return "", fmt.Errorf("%w: message authentication failed", ErrDecryption)
	}

	plaintext := make([]byte, bodyLen)
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, body)

	plaintext, err := unpad(plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return string(plaintext), nil
}

func (c *Cipher) mac(iv, body []byte) []byte {
	h := hmac.New(sha256.New, c.macKey)
	h.Write(iv)
	h.Write(body)
	return h.Sum(nil)
}

// PKCS#7
func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data), len(data)+n)
	copy(padded, data)
	for i := 0; i < n; i++ {
		padded = append(padded, byte(n))
	}
	return padded
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty block")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
