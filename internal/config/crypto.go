package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Secret values in the config file may be sealed as "enc:<base64>" so the
// file can be committed next to a deployment without leaking keys.
const (
	encPrefix = "enc:"

	SecretKeyEnv     = EnvPrefix + "_SECRET_KEY"
	SecretKeyFileEnv = EnvPrefix + "_SECRET_KEY_FILE"
)

var ErrNoSecretKey = fmt.Errorf("sealed config value found but neither %s nor %s is set", SecretKeyEnv, SecretKeyFileEnv)

// SecretKey seals and opens config secrets with AES-256-GCM.
type SecretKey struct {
	aead cipher.AEAD
}

// LoadSecretKey derives the key from PHARMAFLOW_SECRET_KEY, or reads it from
// the file named by PHARMAFLOW_SECRET_KEY_FILE (a mounted secret in a worker
// container). The passphrase is hashed so any length works.
func LoadSecretKey() (*SecretKey, error) {
	passphrase := os.Getenv(SecretKeyEnv)
	if passphrase == "" {
		path := os.Getenv(SecretKeyFileEnv)
		if path == "" {
			return nil, ErrNoSecretKey
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read secret key file: %w", err)
		}
		passphrase = strings.TrimSpace(string(data))
		if passphrase == "" {
			return nil, fmt.Errorf("secret key file %s is empty", path)
		}
	}
	return NewSecretKey(passphrase)
}

func NewSecretKey(passphrase string) (*SecretKey, error) {
	sum := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &SecretKey{aead: aead}, nil
}

// Seal returns plaintext in its "enc:" form. Empty values stay empty.
func (k *SecretKey) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := k.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the prefix are returned unchanged.
func (k *SecretKey) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("sealed value is not base64: %w", err)
	}
	n := k.aead.NonceSize()
	if len(data) < n {
		return "", errors.New("sealed value too short")
	}
	plain, err := k.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plain), nil
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}

// MaskSecret keeps the last four characters for log lines: "****abcd".
func MaskSecret(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 4:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}
