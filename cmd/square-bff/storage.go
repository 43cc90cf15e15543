package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-square-bff/core"
	bffmigrations "github.com/goliatone/go-square-bff/migrations"
	"github.com/goliatone/go-square-bff/security"
	redisstore "github.com/goliatone/go-square-bff/store/redis"
	sqlstore "github.com/goliatone/go-square-bff/store/sql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const secretKeyID = "app-key"

type persistenceConfig struct {
	driver string
	dsn    string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.dsn
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "square-bff"
}

type storage struct {
	client  *persistence.Client
	factory *sqlstore.RepositoryFactory
	states  *redisstore.PKCEStateStore
}

// openStorage connects the database, applies migrations, builds the SQL
// stores and, when configured, the redis state store.
func openStorage(ctx context.Context, cfg core.Config) (*storage, error) {
	driver, dialectName, err := resolveDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialectName == bffmigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	clientConfig := persistenceConfig{
		driver: driver,
		dsn:    cfg.Database.DSN,
		debug:  cfg.Database.Debug,
	}
	var client *persistence.Client
	if dialectName == bffmigrations.DialectPostgres {
		client, err = persistence.New(clientConfig, sqlDB, pgdialect.New())
	} else {
		client, err = persistence.New(clientConfig, sqlDB, sqlitedialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}
	out := &storage{client: client}

	_, err = bffmigrations.Register(ctx, func(_ context.Context, name string, _ string, fsys fs.FS) error {
		if name != dialectName {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, bffmigrations.WithValidationTargets(dialectName))
	if err != nil {
		out.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		out.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	factoryOpts := []sqlstore.FactoryOption{
		sqlstore.WithCredentialTTL(cfg.Credentials.TTL),
	}
	if key := strings.TrimSpace(cfg.Credentials.EncryptionKey); key != "" {
		secrets, err := newSecretProvider(key, cfg.Credentials)
		if err != nil {
			out.Close()
			return nil, err
		}
		factoryOpts = append(factoryOpts, sqlstore.WithSecretProvider(secrets))
	}
	if cfg.Credentials.CacheTTL > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = cfg.Credentials.CacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("credential cache: %w", err)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithCredentialCache(cacheService))
	}
	out.factory, err = sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		out.Close()
		return nil, err
	}

	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		out.states, err = redisstore.NewPKCEStateStore(ctx, cfg.Redis, cfg.OAuth.StateTTL)
		if err != nil {
			out.Close()
			return nil, err
		}
	}
	return out, nil
}

// newSecretProvider seals under the current key version and keeps the
// retired keys for reading older rows.
func newSecretProvider(key string, cfg core.CredentialsConfig) (*security.AppKeySecretProvider, error) {
	opts, err := security.RetiredKeyOptions(secretKeyID, cfg.RetiredKeys)
	if err != nil {
		return nil, err
	}
	opts = append(opts, security.WithKeyID(secretKeyID), security.WithVersion(cfg.EncryptionKeyVersion))
	return security.NewAppKeySecretProviderFromString(key, opts...)
}

// resolveDialect returns the database/sql driver name and the migration
// dialect for a configured driver.
func resolveDialect(driver string) (string, string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite3", "sqlite":
		return "sqlite3", bffmigrations.DialectSQLite, nil
	case "postgres", "postgresql":
		return "postgres", bffmigrations.DialectPostgres, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Ping backs the health check.
func (s *storage) Ping(ctx context.Context) error {
	if s == nil || s.factory == nil || s.factory.DB() == nil {
		return fmt.Errorf("database is not configured")
	}
	return s.factory.DB().PingContext(ctx)
}

func (s *storage) Close() {
	if s == nil {
		return
	}
	if s.states != nil {
		_ = s.states.Close()
	}
	if s.client != nil {
		_ = s.client.Close()
	}
}
