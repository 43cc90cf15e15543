package sqlstore

import (
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-square-bff/core"
	"github.com/uptrace/bun"
)

type FactoryOption func(*RepositoryFactory)

// WithSecretProvider seals credential tokens at rest.
func WithSecretProvider(secrets core.SecretProvider) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secrets = secrets
	}
}

func WithCredentialTTL(ttl time.Duration) FactoryOption {
	return func(f *RepositoryFactory) {
		f.credentialTTL = ttl
	}
}

// WithCredentialCache fronts the credential store with a read-through cache.
func WithCredentialCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

type RepositoryFactory struct {
	db *bun.DB

	secrets       core.SecretProvider
	credentialTTL time.Duration
	cache         repositorycache.CacheService

	credentialStore       *CredentialStore
	cachedCredentialStore *CachedCredentialStore
	webhookEventStore     *WebhookEventStore
	auditStore            *AuditStore
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.credentialStore != nil && f.webhookEventStore != nil && f.auditStore != nil {
		return nil
	}
	return f.initStores()
}

// CredentialStore returns the cached store when a cache was configured.
func (f *RepositoryFactory) CredentialStore() core.CredentialStore {
	if f == nil {
		return nil
	}
	if f.cachedCredentialStore != nil {
		return f.cachedCredentialStore
	}
	return f.credentialStore
}

// SQLCredentialStore exposes the uncached store for maintenance tasks.
func (f *RepositoryFactory) SQLCredentialStore() *CredentialStore {
	if f == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) WebhookEventStore() *WebhookEventStore {
	if f == nil {
		return nil
	}
	return f.webhookEventStore
}

func (f *RepositoryFactory) AuditStore() *AuditStore {
	if f == nil {
		return nil
	}
	return f.auditStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	credentialStore, err := NewCredentialStore(f.db, f.secrets, f.credentialTTL)
	if err != nil {
		return err
	}
	f.credentialStore = credentialStore
	if f.cache != nil {
		cached, cacheErr := NewCachedCredentialStore(credentialStore, f.cache)
		if cacheErr != nil {
			return cacheErr
		}
		f.cachedCredentialStore = cached
	}

	webhookEventStore, err := NewWebhookEventStore(f.db)
	if err != nil {
		return err
	}
	f.webhookEventStore = webhookEventStore

	auditStore, err := NewAuditStore(f.db)
	if err != nil {
		return err
	}
	f.auditStore = auditStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
