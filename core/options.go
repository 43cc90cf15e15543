package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	stateStore      PKCEStateStore
	credentialStore CredentialStore
	provider        OAuthProvider
	auditSink       AuditSink
	sessionIssuer   SessionIssuer
	now             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithStateStore(store PKCEStateStore) Option {
	return func(b *serviceBuilder) {
		b.stateStore = store
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

func WithOAuthProvider(provider OAuthProvider) Option {
	return func(b *serviceBuilder) {
		b.provider = provider
	}
}

func WithAuditSink(sink AuditSink) Option {
	return func(b *serviceBuilder) {
		b.auditSink = sink
	}
}

func WithSessionIssuer(issuer SessionIssuer) Option {
	return func(b *serviceBuilder) {
		b.sessionIssuer = issuer
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("square-bff", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     ServiceErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults < loaded config < runtime overrides.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			ConfigToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			ConfigToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			ConfigToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ConfigToLayerMap renders cfg as a nested map keyed by koanf tags. With
// includeZero false, unset fields are omitted so they do not shadow lower
// layers.
func ConfigToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString(layer, "service_name", cfg.ServiceName, includeZero)
	setString(layer, "environment", cfg.Environment, includeZero)

	oauth := map[string]any{}
	setString(oauth, "application_id", cfg.OAuth.ApplicationID, includeZero)
	setString(oauth, "application_secret", cfg.OAuth.ApplicationSecret, includeZero)
	setStrings(oauth, "default_scopes", cfg.OAuth.DefaultScopes, includeZero)
	setStrings(oauth, "redirect_allow_list", cfg.OAuth.RedirectAllowList, includeZero)
	setDuration(oauth, "state_ttl", cfg.OAuth.StateTTL, includeZero)
	setDuration(oauth, "request_timeout", cfg.OAuth.RequestTimeout, includeZero)
	setInt(oauth, "identity_max_attempts", cfg.OAuth.IdentityMaxAttempts, includeZero)
	setString(oauth, "square_version", cfg.OAuth.SquareVersion, includeZero)
	setBool(oauth, "session_param", cfg.OAuth.SessionParam, includeZero)
	setSection(layer, "oauth", oauth)

	webhook := map[string]any{}
	setString(webhook, "signature_key", cfg.Webhook.SignatureKey, includeZero)
	setDuration(webhook, "replay_window", cfg.Webhook.ReplayWindow, includeZero)
	setDuration(webhook, "event_ttl", cfg.Webhook.EventTTL, includeZero)
	setSection(layer, "webhook", webhook)

	session := map[string]any{}
	setString(session, "signing_key", cfg.Session.SigningKey, includeZero)
	setDuration(session, "ttl", cfg.Session.TTL, includeZero)
	setString(session, "issuer", cfg.Session.Issuer, includeZero)
	setSection(layer, "session", session)

	credentials := map[string]any{}
	setDuration(credentials, "ttl", cfg.Credentials.TTL, includeZero)
	setString(credentials, "encryption_key", cfg.Credentials.EncryptionKey, includeZero)
	setDuration(credentials, "cache_ttl", cfg.Credentials.CacheTTL, includeZero)
	setDuration(credentials, "expiring_soon_window", cfg.Credentials.ExpiringSoonWindow, includeZero)
	setSection(layer, "credentials", credentials)

	httpSection := map[string]any{}
	setString(httpSection, "addr", cfg.HTTP.Addr, includeZero)
	setString(httpSection, "admin_token", cfg.HTTP.AdminToken, includeZero)
	setDuration(httpSection, "shutdown_timeout", cfg.HTTP.ShutdownTimeout, includeZero)
	setSection(layer, "http", httpSection)

	database := map[string]any{}
	setString(database, "driver", cfg.Database.Driver, includeZero)
	setString(database, "dsn", cfg.Database.DSN, includeZero)
	setBool(database, "debug", cfg.Database.Debug, includeZero)
	setSection(layer, "database", database)

	redisSection := map[string]any{}
	setString(redisSection, "addr", cfg.Redis.Addr, includeZero)
	setString(redisSection, "password", cfg.Redis.Password, includeZero)
	setInt(redisSection, "db", cfg.Redis.DB, includeZero)
	setString(redisSection, "key_prefix", cfg.Redis.KeyPrefix, includeZero)
	setSection(layer, "redis", redisSection)

	return layer
}

func setSection(layer map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		layer[key] = section
	}
}

func setString(layer map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		layer[key] = value
	}
}

func setStrings(layer map[string]any, key string, values []string, includeZero bool) {
	if includeZero || len(values) > 0 {
		layer[key] = append([]string(nil), values...)
	}
}

func setDuration(layer map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}

func setInt(layer map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}

func setBool(layer map[string]any, key string, value bool, includeZero bool) {
	if includeZero || value {
		layer[key] = value
	}
}
