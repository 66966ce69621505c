package storage

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/hkdf"
)

const keyDerivationInfo = "aigateway credential encryption v1"

// Encryption seals credential values as fernet tokens
type Encryption struct {
	key *fernet.Key
}

// NewEncryption derives the fernet key from secret with HKDF-SHA256
func NewEncryption(secret string) (*Encryption, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret cannot be empty")
	}

	var key fernet.Key
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return &Encryption{key: &key}, nil
}

// NewEncryptionFromKey uses an encoded fernet key as is
func NewEncryptionFromKey(encoded string) (*Encryption, error) {
	key, err := fernet.DecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return &Encryption{key: key}, nil
}

// GenerateKey returns a new random fernet key in its encoded form
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return k.Encode(), nil
}

// Encrypt returns a fernet token for plaintext
func (e *Encryption) Encrypt(plaintext []byte) (string, error) {
	tok, err := fernet.EncryptAndSign(plaintext, e.key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt verifies and opens a fernet token
func (e *Encryption) Decrypt(token string) ([]byte, error) {
	if token == "" {
		return nil, ErrInvalidCiphertext
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{e.key})
	if msg == nil {
		return nil, ErrInvalidCiphertext
	}
	return msg, nil
}

// EncryptJSON marshals v and encrypts the result
func (e *Encryption) EncryptJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return e.Encrypt(data)
}

// DecryptJSON decrypts token and unmarshals it into v
func (e *Encryption) DecryptJSON(token string, v any) error {
	plaintext, err := e.Decrypt(token)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}
