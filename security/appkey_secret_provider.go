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
	"strconv"
	"strings"

	"github.com/goliatone/go-square-bff/core"
)

type Option func(*AppKeySecretProvider)

// AppKeySecretProvider seals values with AES-256-GCM under the application
// key. Retired keys stay decrypt-only until stored tokens are rewritten.
type AppKeySecretProvider struct {
	current appKey
	retired []appKey
}

type appKey struct {
	material []byte
	keyID    string
	version  int
}

func (k appKey) matches(keyID string, version int) bool {
	if keyID != "" && keyID != k.keyID {
		return false
	}
	if version > 0 && version != k.version {
		return false
	}
	return true
}

func WithKeyID(id string) Option {
	return func(provider *AppKeySecretProvider) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			provider.current.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(provider *AppKeySecretProvider) {
		if version > 0 {
			provider.current.version = version
		}
	}
}

// WithRetiredKey keeps an older key available for Decrypt only.
func WithRetiredKey(keyMaterial []byte, keyID string, version int) Option {
	return func(provider *AppKeySecretProvider) {
		key := bytes.TrimSpace(keyMaterial)
		if len(key) == 0 {
			return
		}
		provider.retired = append(provider.retired, appKey{
			material: normalizeKey(key),
			keyID:    strings.TrimSpace(keyID),
			version:  version,
		})
	}
}

// RetiredKeyOptions turns "<version>:<key>" entries into decrypt-only keys
// under keyID.
func RetiredKeyOptions(keyID string, entries []string) ([]Option, error) {
	opts := make([]Option, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		rawVersion, material, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(material) == "" {
			return nil, fmt.Errorf("security: retired key must be <version>:<key>")
		}
		version, err := strconv.Atoi(strings.TrimSpace(rawVersion))
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("security: retired key version %q is invalid", rawVersion)
		}
		opts = append(opts, WithRetiredKey([]byte(material), keyID, version))
	}
	return opts, nil
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	provider := &AppKeySecretProvider{
		current: appKey{
			material: normalizeKey(key),
			keyID:    "app-key",
			version:  1,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	for _, retired := range provider.retired {
		if retired.keyID == provider.current.keyID && retired.version == provider.current.version {
			return nil, fmt.Errorf("security: retired key version %d collides with the current key", retired.version)
		}
	}
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
	gcm, err := newGCM(p.current.material)
	if err != nil {
		return nil, err
	}

	env := envelope{keyID: p.current.keyID, version: p.current.version}
	header, err := env.header()
	if err != nil {
		return nil, err
	}
	env.nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, env.nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	env.ciphertext = gcm.Seal(nil, env.nonce, plaintext, []byte(header))
	return encodeEnvelope(env)
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	key, ok := p.keyFor(env.keyID, env.version)
	if !ok {
		return nil, fmt.Errorf("security: no key for id %q version %d", env.keyID, env.version)
	}
	header, err := env.header()
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key.material)
	if err != nil {
		return nil, err
	}
	if len(env.nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("security: invalid nonce size %d", len(env.nonce))
	}
	plaintext, err := gcm.Open(nil, env.nonce, env.ciphertext, []byte(header))
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

// NeedsReseal reports whether ciphertext was sealed with a retired key.
func (p *AppKeySecretProvider) NeedsReseal(ciphertext []byte) bool {
	if p == nil {
		return false
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return false
	}
	return !p.current.matches(meta.KeyID, meta.Version)
}

func (p *AppKeySecretProvider) keyFor(keyID string, version int) (appKey, bool) {
	if p.current.matches(keyID, version) {
		return p.current, true
	}
	for _, retired := range p.retired {
		if retired.matches(keyID, version) {
			return retired, true
		}
	}
	return appKey{}, false
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.current.keyID
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.current.version
}

func (p *AppKeySecretProvider) Metadata() (string, int) {
	return p.KeyID(), p.Version()
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

// normalizeKey keeps raw AES-256 keys and hashes anything else down to 32
// bytes.
func normalizeKey(value []byte) []byte {
	if len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
