// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

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

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrEmptySecret indicates no encryption secret was configured.
	ErrEmptySecret = errors.New("encryption secret is empty")

	// ErrEmptyPlaintext indicates an attempt to encrypt an empty value.
	ErrEmptyPlaintext = errors.New("plaintext is empty")

	// ErrEmptyCiphertext indicates an attempt to decrypt an empty value.
	ErrEmptyCiphertext = errors.New("ciphertext is empty")

	// ErrInvalidCiphertext indicates the ciphertext is not valid base64.
	ErrInvalidCiphertext = errors.New("ciphertext is not valid base64")

	// ErrCiphertextTooShort indicates the decoded ciphertext is shorter
	// than a nonce, so it cannot have been produced by Encrypt.
	ErrCiphertextTooShort = errors.New("ciphertext too short")

	// ErrDecryptionFailed indicates authentication failure, usually a
	// wrong secret or corrupted data.
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	// credentialSalt binds derived keys to this application.
	credentialSalt = "ordersync-credentials"

	// credentialInfo versions the derivation so a future scheme change
	// cannot silently decrypt old data with new semantics.
	credentialInfo = "credential-encryption-v1"
)

// CredentialEncryptor protects stored bearer tokens with AES-256-GCM using a
// key derived from the configured secret via HKDF-SHA256.
type CredentialEncryptor struct {
	aead cipher.AEAD
}

// NewCredentialEncryptor derives the encryption key and prepares the cipher.
func NewCredentialEncryptor(secret string) (*CredentialEncryptor, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &CredentialEncryptor{aead: aead}, nil
}

// deriveKey stretches the secret into a 32-byte AES key.
func deriveKey(secret string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(secret), []byte(credentialSalt), []byte(credentialInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (e *CredentialEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A wrong secret or tampered data yields
// ErrDecryptionFailed.
func (e *CredentialEncryptor) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", ErrEmptyCiphertext
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := e.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// MaskCredential renders a credential safe for logs, keeping just enough of
// the tail to correlate with the backend's token listing.
func MaskCredential(credential string) string {
	if credential == "" {
		return ""
	}
	if len(credential) <= 8 {
		return "****"
	}
	return "****" + credential[len(credential)-4:]
}
