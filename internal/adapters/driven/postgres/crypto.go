package postgres

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// tokenBlobVersion is the leading byte of every sealed token blob
	tokenBlobVersion = 0x01

	nonceSize = 12

	// keySize is the AES-256 key length
	keySize = 32

	keyDerivationInfo = "fhir-bridge token encryption"
)

var (
	// ErrInvalidKeySize is returned when the encryption key is not 32 bytes.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")

	// ErrEmptyKey is returned by ParseKey for an empty secret
	ErrEmptyKey = errors.New("encryption secret is empty")

	// ErrInvalidBlobSize is returned when the sealed blob is shorter than nonce plus tag.
	ErrInvalidBlobSize = errors.New("token blob is too small")

	// ErrUnsupportedVersion is returned when the blob version byte is unknown.
	ErrUnsupportedVersion = errors.New("unsupported token blob version")

	// ErrDecryptionFailed means the key is wrong or the blob was altered.
	ErrDecryptionFailed = errors.New("failed to decrypt token blob")
)

// ParseKey turns the configured secret into an AES-256 key.
// A 64 character hex string is used as the raw key. Any other value is
// treated as a passphrase and stretched with HKDF-SHA256.
func ParseKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrEmptyKey
	}

	if len(secret) == hex.EncodedLen(keySize) {
		if key, err := hex.DecodeString(secret); err == nil {
			return key, nil
		}
	}

	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// versionAD binds the blob version into the GCM tag
var versionAD = []byte{tokenBlobVersion}

// SecretEncryptor seals values with AES-256-GCM before they hit the tokens column.
// Blob layout: version(1) || nonce(12) || ciphertext+tag
type SecretEncryptor struct {
	aead cipher.AEAD
}

// NewSecretEncryptor creates an encryptor for a 32-byte key
func NewSecretEncryptor(key []byte) (*SecretEncryptor, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &SecretEncryptor{aead: aead}, nil
}

// NewSecretEncryptorFromSecret is ParseKey followed by NewSecretEncryptor
func NewSecretEncryptorFromSecret(secret string) (*SecretEncryptor, error) {
	key, err := ParseKey(secret)
	if err != nil {
		return nil, err
	}
	return NewSecretEncryptor(key)
}

// Encrypt JSON-encodes value and seals it into a fresh blob
func (e *SecretEncryptor) Encrypt(value any) ([]byte, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	blob := make([]byte, 0, 1+nonceSize+len(plaintext)+e.aead.Overhead())
	blob = append(blob, tokenBlobVersion)
	blob = append(blob, nonce...)
	return e.aead.Seal(blob, nonce, plaintext, versionAD), nil
}

// Decrypt opens blob and JSON-decodes the plaintext into value, which must be a pointer.
func (e *SecretEncryptor) Decrypt(blob []byte, value any) error {
	if len(blob) < 1+nonceSize+e.aead.Overhead() {
		return ErrInvalidBlobSize
	}
	if blob[0] != tokenBlobVersion {
		return fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, blob[0])
	}

	plaintext, err := e.aead.Open(nil, blob[1:1+nonceSize], blob[1+nonceSize:], versionAD)
	if err != nil {
		return ErrDecryptionFailed
	}

	if err := json.Unmarshal(plaintext, value); err != nil {
		return fmt.Errorf("unmarshal decrypted value: %w", err)
	}
	return nil
}
