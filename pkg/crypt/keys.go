package crypt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/rakutentech/jwk-go/jwk"
)

// GenerateKey returns a random master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, SizeOfKey)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// ParseKey accepts the master key either as hex or as a JWK document with kty "oct".
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "{") {
		return decodeKeyJWK(encoded)
	}

	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding hex key: %w", err)
	}
	if len(key) != SizeOfKey {
		return nil, ErrInvalidKeySize
	}
	return key, nil
}

func EncodeKeyJWK(key []byte, keyID string) (string, error) {
	ks := jwk.NewSpec(key)
	rawJWK, err := ks.ToJWK()
	if err != nil {
		return "", fmt.Errorf("creating JWK: %w", err)
	}

	rawJWK.Use = "enc"
	rawJWK.Kid = keyID

	keyData, err := rawJWK.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshalling JWK: %w", err)
	}
	return string(keyData), nil
}

func decodeKeyJWK(encoded string) ([]byte, error) {
	keySpec, err := jwk.Parse(encoded)
	if err != nil {
		return nil, fmt.Errorf("parsing JWK: %w", err)
	}

	key, ok := keySpec.Key.([]byte)
	if !ok {
		return nil, fmt.Errorf("unsupported JWK key type %T", keySpec.Key)
	}
	if len(key) != SizeOfKey {
		return nil, ErrInvalidKeySize
	}
	return key, nil
}
