// Package encryption provides field-level authenticated encryption for
// credentials stored at rest.
//
// Every encrypted value is persisted as a JSON envelope:
//
//	{"data": "<base64 ciphertext>", "iv": "<base64 nonce>", "tag": "<base64 GCM tag>", "keyId": "k1"}
//
// The field name ("source_control_token", "pool_api_key", ...) is mixed into
// the key derivation and authenticated as additional data, so an envelope
// copied from one column into another fails to decrypt.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Field names used as key-derivation context.
const (
	FieldSourceControlToken        = "source_control_token"
	FieldSourceControlRefreshToken = "source_control_refresh_token"
	FieldPoolAPIKey                = "pool_api_key"
)

const keySize = 32

var (
	ErrUnknownKey       = errors.New("encryption: unknown key id")
	ErrMalformed        = errors.New("encryption: malformed envelope")
	ErrDecryptionFailed = errors.New("encryption: decryption failed")
)

// Envelope is the persisted form of an encrypted field.
type Envelope struct {
	Data  string `json:"data"`
	IV    string `json:"iv"`
	Tag   string `json:"tag"`
	KeyID string `json:"keyId"`
}

// Service encrypts with the active key and decrypts with any known key,
// which lets old envelopes survive a key rotation.
type Service struct {
	keys        map[string][]byte
	activeKeyID string
}

// New builds a Service whose active key is activeKeyID. keys maps key ids to
// 32-byte master keys.
func New(activeKeyID string, keys map[string][]byte) (*Service, error) {
	if activeKeyID == "" {
		return nil, errors.New("encryption: active key id must not be empty")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, activeKeyID)
	}
	copied := make(map[string][]byte, len(keys))
	for id, k := range keys {
		if len(k) != keySize {
			return nil, fmt.Errorf("encryption: key %s must be %d bytes, got %d", id, keySize, len(k))
		}
		copied[id] = append([]byte(nil), k...)
	}
	return &Service{keys: copied, activeKeyID: activeKeyID}, nil
}

// NewFromHex is New for a single hex-encoded key, as read from configuration.
func NewFromHex(keyID, hexKey string) (*Service, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption: decoding hex key: %w", err)
	}
	return New(keyID, map[string][]byte{keyID: key})
}

// Encrypt seals plaintext for field and returns the envelope as a JSON string.
func (s *Service) Encrypt(field, plaintext string) (string, error) {
	gcm, err := s.aead(s.activeKeyID, field)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("encryption: generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), []byte(field))
	tagStart := len(sealed) - gcm.Overhead()

	env := Envelope{
		Data:  base64.StdEncoding.EncodeToString(sealed[:tagStart]),
		IV:    base64.StdEncoding.EncodeToString(nonce),
		Tag:   base64.StdEncoding.EncodeToString(sealed[tagStart:]),
		KeyID: s.activeKeyID,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encryption: encoding envelope: %w", err)
	}
	return string(out), nil
}

// Decrypt opens an envelope produced by Encrypt for the same field.
func (s *Service) Decrypt(field, envelope string) (string, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(envelope), &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.KeyID == "" || env.IV == "" || env.Tag == "" {
		return "", ErrMalformed
	}

	data, err1 := base64.StdEncoding.DecodeString(env.Data)
	nonce, err2 := base64.StdEncoding.DecodeString(env.IV)
	tag, err3 := base64.StdEncoding.DecodeString(env.Tag)
	if err := errors.Join(err1, err2, err3); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	gcm, err := s.aead(env.KeyID, field)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return "", ErrMalformed
	}

	plaintext, err := gcm.Open(nil, nonce, append(data, tag...), []byte(field))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// aead derives the per-field subkey of keyID and wraps it in AES-256-GCM.
func (s *Service) aead(keyID, field string) (cipher.AEAD, error) {
	master, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}

	subkey := make([]byte, keySize)
	r := hkdf.New(sha256.New, master, []byte(keyID), []byte(field))
	if _, err := io.ReadFull(r, subkey); err != nil {
		return nil, fmt.Errorf("encryption: deriving subkey: %w", err)
	}

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("encryption: creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
