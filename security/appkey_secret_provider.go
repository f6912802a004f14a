// Package security provides core.SecretProvider implementations for item
// credentials at rest.
package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-banklink/core"
)

const defaultKeyID = "app-key"

type Option func(*AppKeySecretProvider)

type appKey struct {
	id      string
	version int
	aead    cipher.AEAD
}

// AppKeySecretProvider seals payloads with AES-GCM under an application key.
// Retired keys can still open envelopes they produced.
type AppKeySecretProvider struct {
	active  appKey
	retired map[string]appKey
	aad     []byte
	err     error
}

func WithKeyID(id string) Option {
	return func(provider *AppKeySecretProvider) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			provider.active.id = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(provider *AppKeySecretProvider) {
		if version > 0 {
			provider.active.version = version
		}
	}
}

// WithRetiredKey registers a previous key so existing items stay readable
// after rotation.
func WithRetiredKey(id string, version int, material []byte) Option {
	return func(provider *AppKeySecretProvider) {
		key, err := newAppKey(strings.TrimSpace(id), version, material)
		if err != nil {
			provider.err = err
			return
		}
		provider.retired[retiredKeyName(key.id, key.version)] = key
	}
}

// WithContext binds additional authenticated data, such as a deployment name,
// into every envelope.
func WithContext(value string) Option {
	return func(provider *AppKeySecretProvider) {
		provider.aad = []byte(strings.TrimSpace(value))
	}
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	provider := &AppKeySecretProvider{
		active:  appKey{id: defaultKeyID, version: 1},
		retired: map[string]appKey{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	if provider.err != nil {
		return nil, provider.err
	}
	active, err := newAppKey(provider.active.id, provider.active.version, keyMaterial)
	if err != nil {
		return nil, err
	}
	provider.active = active
	return provider, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	nonce := make([]byte, p.active.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := p.active.aead.Seal(nil, nonce, plaintext, p.aad)
	return encodeEnvelope(envelope{
		KeyID:      p.active.id,
		Version:    p.active.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      encodeBase64(nonce),
		Ciphertext: encodeBase64(sealed),
	})
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	parsed, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	key, err := p.keyFor(parsed.KeyID, parsed.Version)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeBase64("nonce", parsed.Nonce)
	if err != nil {
		return nil, err
	}
	sealed, err := decodeBase64("ciphertext", parsed.Ciphertext)
	if err != nil {
		return nil, err
	}
	if len(nonce) != key.aead.NonceSize() {
		return nil, fmt.Errorf("security: invalid nonce size %d", len(nonce))
	}
	plaintext, err := key.aead.Open(nil, nonce, sealed, p.aad)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (p *AppKeySecretProvider) keyFor(id string, version int) (appKey, error) {
	if id == "" {
		id = p.active.id
	}
	if version <= 0 {
		version = p.active.version
	}
	if id == p.active.id && version == p.active.version {
		return p.active, nil
	}
	if key, ok := p.retired[retiredKeyName(id, version)]; ok {
		return key, nil
	}
	return appKey{}, fmt.Errorf("security: unknown key %q version %d", id, version)
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.active.id
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.active.version
}

func newAppKey(id string, version int, material []byte) (appKey, error) {
	trimmed := bytes.TrimSpace(material)
	if len(trimmed) == 0 {
		return appKey{}, fmt.Errorf("security: key material is required")
	}
	if id == "" {
		id = defaultKeyID
	}
	if version <= 0 {
		version = 1
	}
	block, err := aes.NewCipher(normalizeKey(trimmed))
	if err != nil {
		return appKey{}, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return appKey{}, fmt.Errorf("security: create gcm: %w", err)
	}
	return appKey{id: id, version: version, aead: aead}, nil
}

// normalizeKey derives a 32 byte key unless the material already is one.
func normalizeKey(value []byte) []byte {
	if len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	return sum[:]
}

func retiredKeyName(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

var (
	_ core.SecretProvider = (*AppKeySecretProvider)(nil)
	_ core.KeyIdentifier  = (*AppKeySecretProvider)(nil)
)
