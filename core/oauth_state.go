package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultStateTTL              = 10 * time.Minute
	defaultMemoryStateMaxEntries = 10000
)

// NewPendingAuthorization generates a fresh state and S256 PKCE pair.
func NewPendingAuthorization(now time.Time, ttl time.Duration, redirectURI string, scopes []string) (PendingAuthorization, error) {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	state, err := generateOAuthState()
	if err != nil {
		return PendingAuthorization{}, err
	}
	verifier := oauth2.GenerateVerifier()
	now = now.UTC()
	return PendingAuthorization{
		State:         state,
		CodeVerifier:  verifier,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
		RedirectURI:   strings.TrimSpace(redirectURI),
		Scopes:        append([]string(nil), scopes...),
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}, nil
}

// HashState returns a short fingerprint safe to keep in audit records.
func HashState(state string) string {
	state = strings.TrimSpace(state)
	if state == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(state))
	return hex.EncodeToString(sum[:8])
}

// MemoryPKCEStateStore is the in-process double for PKCEStateStore. It only
// guarantees single consumption inside one process.
type MemoryPKCEStateStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]PendingAuthorization
	now        func() time.Time
}

func NewMemoryPKCEStateStore(ttl time.Duration) *MemoryPKCEStateStore {
	return NewMemoryPKCEStateStoreWithLimits(ttl, defaultMemoryStateMaxEntries)
}

func NewMemoryPKCEStateStoreWithLimits(ttl time.Duration, maxEntries int) *MemoryPKCEStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMemoryStateMaxEntries
	}
	return &MemoryPKCEStateStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    map[string]PendingAuthorization{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryPKCEStateStore) Save(_ context.Context, pending PendingAuthorization) error {
	if s == nil {
		return fmt.Errorf("core: pkce state store is not configured")
	}
	state := strings.TrimSpace(pending.State)
	if state == "" {
		return fmt.Errorf("core: oauth state is required")
	}
	pending.State = state

	now := s.now()
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = now
	}
	if pending.ExpiresAt.IsZero() {
		pending.ExpiresAt = pending.CreatedAt.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	if existing, ok := s.entries[state]; ok && !existing.Expired(now) {
		return fmt.Errorf("core: oauth state already pending: %w", ErrAlreadyExists)
	}
	s.entries[state] = clonePendingAuthorization(pending)
	s.evictOverflowLocked()
	return nil
}

func (s *MemoryPKCEStateStore) Consume(_ context.Context, state string) (PendingAuthorization, error) {
	if s == nil {
		return PendingAuthorization{}, fmt.Errorf("core: pkce state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return PendingAuthorization{}, fmt.Errorf("core: oauth state is required")
	}

	s.mu.Lock()
	pending, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()

	if !ok {
		return PendingAuthorization{}, ErrStateNotFound
	}
	if pending.Expired(s.now()) {
		return PendingAuthorization{}, ErrStateExpired
	}
	return clonePendingAuthorization(pending), nil
}

// Len reports live and expired entries not yet pruned.
func (s *MemoryPKCEStateStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryPKCEStateStore) pruneLocked(now time.Time) {
	for key, pending := range s.entries {
		if pending.Expired(now) {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryPKCEStateStore) evictOverflowLocked() {
	overflow := len(s.entries) - s.maxEntries
	if overflow <= 0 {
		return
	}
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return s.entries[keys[i]].CreatedAt.Before(s.entries[keys[j]].CreatedAt)
	})
	for _, key := range keys[:overflow] {
		delete(s.entries, key)
	}
}

func generateOAuthState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func clonePendingAuthorization(pending PendingAuthorization) PendingAuthorization {
	cloned := pending
	cloned.Scopes = append([]string(nil), pending.Scopes...)
	return cloned
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
