package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-square-bff/core"
)

const credentialCacheKeyPrefix = "square-bff::merchant_credential::v1"

// CachedCredentialStore reads through a cache for Get. Writes go to the base
// store first and then drop the cached entry. Invalidation is local to this
// process: a refresh made by another instance shows up here only once the
// cached entry expires, so keep the cache TTL short when instances share a
// database.
type CachedCredentialStore struct {
	base  core.CredentialStore
	cache repositorycache.CacheService
}

func NewCachedCredentialStore(
	base core.CredentialStore,
	cacheService repositorycache.CacheService,
) (*CachedCredentialStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base credential store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: credential cache service is required")
	}
	return &CachedCredentialStore{base: base, cache: cacheService}, nil
}

// CredentialCacheKey returns square-bff::merchant_credential::v1::<merchant_id>
// with the merchant id URL-path escaped.
func CredentialCacheKey(merchantID string) (string, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return "", fmt.Errorf("sqlstore: merchant id is required")
	}
	return strings.Join([]string{credentialCacheKeyPrefix, url.PathEscape(merchantID)}, "::"), nil
}

func (s *CachedCredentialStore) Create(ctx context.Context, in core.CredentialInput) (core.MerchantCredential, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.MerchantCredential{}, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	return s.base.Create(ctx, in)
}

func (s *CachedCredentialStore) Update(ctx context.Context, in core.CredentialInput) (core.MerchantCredential, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.MerchantCredential{}, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	updated, err := s.base.Update(ctx, in)
	if err != nil {
		return core.MerchantCredential{}, err
	}
	if err := s.invalidate(ctx, updated.MerchantID); err != nil {
		return core.MerchantCredential{}, err
	}
	return updated, nil
}

func (s *CachedCredentialStore) Get(ctx context.Context, merchantID string) (core.MerchantCredential, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.MerchantCredential{}, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	merchantID = strings.TrimSpace(merchantID)
	cacheKey, err := CredentialCacheKey(merchantID)
	if err != nil {
		return core.MerchantCredential{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.MerchantCredential, error) {
		return s.base.Get(ctx, merchantID)
	})
}

func (s *CachedCredentialStore) List(ctx context.Context, limit int) ([]core.MerchantCredential, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	return s.base.List(ctx, limit)
}

func (s *CachedCredentialStore) Delete(ctx context.Context, merchantID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	if err := s.base.Delete(ctx, merchantID); err != nil {
		return err
	}
	return s.invalidate(ctx, merchantID)
}

func (s *CachedCredentialStore) invalidate(ctx context.Context, merchantID string) error {
	cacheKey, err := CredentialCacheKey(merchantID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}
