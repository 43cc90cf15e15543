package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-square-bff/core"
	"github.com/redis/go-redis/v9"
)

const keyTypePending = "pkce"

// PKCEStateStore stores each pending authorization under its own key with a
// native TTL. Consume relies on GETDEL so only one caller can redeem a state.
type PKCEStateStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

type storedPendingAuthorization struct {
	State         string   `json:"state"`
	CodeVerifier  string   `json:"code_verifier"`
	CodeChallenge string   `json:"code_challenge"`
	RedirectURI   string   `json:"redirect_uri,omitempty"`
	Scopes        []string `json:"scopes"`
	CreatedAt     int64    `json:"created_at"`
	ExpiresAt     int64    `json:"expires_at"`
}

// NewPKCEStateStore connects to addr and verifies the connection.
func NewPKCEStateStore(ctx context.Context, cfg core.RedisConfig, ttl time.Duration) (*PKCEStateStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redisstore: redis addr is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: connect to redis: %w", err)
	}
	return NewPKCEStateStoreWithClient(client, cfg.KeyPrefix, ttl), nil
}

// NewPKCEStateStoreWithClient wraps an existing client, e.g. one pointed at
// miniredis.
func NewPKCEStateStoreWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *PKCEStateStore {
	if ttl <= 0 {
		ttl = core.DefaultStateTTL
	}
	return &PKCEStateStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *PKCEStateStore) Save(ctx context.Context, pending core.PendingAuthorization) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: pkce state store is not configured")
	}
	state := strings.TrimSpace(pending.State)
	if state == "" {
		return fmt.Errorf("redisstore: oauth state is required")
	}

	now := s.now()
	createdAt := pending.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	expiresAt := pending.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = createdAt.Add(s.ttl)
	}
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return fmt.Errorf("redisstore: pending authorization is already expired")
	}

	data, err := json.Marshal(storedPendingAuthorization{
		State:         state,
		CodeVerifier:  pending.CodeVerifier,
		CodeChallenge: pending.CodeChallenge,
		RedirectURI:   strings.TrimSpace(pending.RedirectURI),
		Scopes:        slices.Clone(pending.Scopes),
		CreatedAt:     createdAt.UnixMilli(),
		ExpiresAt:     expiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("redisstore: marshal pending authorization: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.key(state), data, remaining).Result()
	if err != nil {
		return fmt.Errorf("redisstore: save pending authorization: %w", err)
	}
	if !created {
		return fmt.Errorf("redisstore: oauth state already pending: %w", core.ErrAlreadyExists)
	}
	return nil
}

func (s *PKCEStateStore) Consume(ctx context.Context, state string) (core.PendingAuthorization, error) {
	if s == nil || s.client == nil {
		return core.PendingAuthorization{}, fmt.Errorf("redisstore: pkce state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return core.PendingAuthorization{}, fmt.Errorf("redisstore: oauth state is required")
	}

	data, err := s.client.GetDel(ctx, s.key(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.PendingAuthorization{}, core.ErrStateNotFound
		}
		return core.PendingAuthorization{}, fmt.Errorf("redisstore: consume pending authorization: %w", err)
	}

	var stored storedPendingAuthorization
	if err := json.Unmarshal(data, &stored); err != nil {
		return core.PendingAuthorization{}, fmt.Errorf("redisstore: unmarshal pending authorization: %w", err)
	}
	pending := core.PendingAuthorization{
		State:         stored.State,
		CodeVerifier:  stored.CodeVerifier,
		CodeChallenge: stored.CodeChallenge,
		RedirectURI:   stored.RedirectURI,
		Scopes:        slices.Clone(stored.Scopes),
		CreatedAt:     time.UnixMilli(stored.CreatedAt).UTC(),
		ExpiresAt:     time.UnixMilli(stored.ExpiresAt).UTC(),
	}
	// Key TTL normally evicts first.
	if pending.Expired(s.now()) {
		return core.PendingAuthorization{}, core.ErrStateExpired
	}
	return pending, nil
}

// Close releases the underlying client.
func (s *PKCEStateStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *PKCEStateStore) key(state string) string {
	return s.keyPrefix + keyTypePending + ":" + state
}

var _ core.PKCEStateStore = (*PKCEStateStore)(nil)
