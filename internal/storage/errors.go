package storage

import "errors"

var (
	// ErrProviderNotFound is returned when a provider is not found
	ErrProviderNotFound = errors.New("provider not found")

	// ErrCredentialNotFound is returned when a credential is not found
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrModelRateNotFound is returned when a model rate is not found
	ErrModelRateNotFound = errors.New("model rate not found")

	// ErrInvalidCiphertext is returned when a credential value cannot be decrypted
	ErrInvalidCiphertext = errors.New("invalid credential ciphertext")
)
