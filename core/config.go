package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"

	SandboxBaseURL    = "https://connect.squareupsandbox.com"
	ProductionBaseURL = "https://connect.squareup.com"

	DefaultSquareVersion   = "2024-01-18"
	DefaultCredentialTTL   = 365 * 24 * time.Hour
	DefaultSessionTTL      = 24 * time.Hour
	DefaultRequestTimeout  = 10 * time.Second
	DefaultIdentityRetries = 3
)

type OAuthConfig struct {
	ApplicationID       string        `koanf:"application_id" mapstructure:"application_id"`
	ApplicationSecret   string        `koanf:"application_secret" mapstructure:"application_secret"`
	DefaultScopes       []string      `koanf:"default_scopes" mapstructure:"default_scopes"`
	RedirectAllowList   []string      `koanf:"redirect_allow_list" mapstructure:"redirect_allow_list"`
	StateTTL            time.Duration `koanf:"state_ttl" mapstructure:"state_ttl"`
	RequestTimeout      time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
	IdentityMaxAttempts int           `koanf:"identity_max_attempts" mapstructure:"identity_max_attempts"`
	SquareVersion       string        `koanf:"square_version" mapstructure:"square_version"`
	// SessionParam forces Square to show the login screen when false.
	SessionParam bool `koanf:"session_param" mapstructure:"session_param"`
}

type WebhookConfig struct {
	SignatureKey string `koanf:"signature_key" mapstructure:"signature_key"`
	// ReplayWindow rejects envelopes whose created_at is older; zero disables.
	ReplayWindow time.Duration `koanf:"replay_window" mapstructure:"replay_window"`
	EventTTL     time.Duration `koanf:"event_ttl" mapstructure:"event_ttl"`
}

type SessionConfig struct {
	SigningKey string        `koanf:"signing_key" mapstructure:"signing_key"`
	TTL        time.Duration `koanf:"ttl" mapstructure:"ttl"`
	Issuer     string        `koanf:"issuer" mapstructure:"issuer"`
}

// CredentialsConfig controls token storage. RetiredKeys are "<version>:<key>"
// entries kept for decryption while rows are resealed under the current key.
// CacheTTL bounds how long a refresh made by another instance can go unseen.
type CredentialsConfig struct {
	TTL                  time.Duration `koanf:"ttl" mapstructure:"ttl"`
	EncryptionKey        string        `koanf:"encryption_key" mapstructure:"encryption_key"`
	EncryptionKeyVersion int           `koanf:"encryption_key_version" mapstructure:"encryption_key_version"`
	RetiredKeys          []string      `koanf:"retired_keys" mapstructure:"retired_keys"`
	CacheTTL             time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
	ExpiringSoonWindow   time.Duration `koanf:"expiring_soon_window" mapstructure:"expiring_soon_window"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr" mapstructure:"addr"`
	AdminToken      string        `koanf:"admin_token" mapstructure:"admin_token"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type RedisConfig struct {
	Addr      string `koanf:"addr" mapstructure:"addr"`
	Password  string `koanf:"password" mapstructure:"password"`
	DB        int    `koanf:"db" mapstructure:"db"`
	KeyPrefix string `koanf:"key_prefix" mapstructure:"key_prefix"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	Environment string            `koanf:"environment" mapstructure:"environment"`
	OAuth       OAuthConfig       `koanf:"oauth" mapstructure:"oauth"`
	Webhook     WebhookConfig     `koanf:"webhook" mapstructure:"webhook"`
	Session     SessionConfig     `koanf:"session" mapstructure:"session"`
	Credentials CredentialsConfig `koanf:"credentials" mapstructure:"credentials"`
	HTTP        HTTPConfig        `koanf:"http" mapstructure:"http"`
	Database    DatabaseConfig    `koanf:"database" mapstructure:"database"`
	Redis       RedisConfig       `koanf:"redis" mapstructure:"redis"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "square-bff",
		Environment: EnvironmentSandbox,
		OAuth: OAuthConfig{
			DefaultScopes: []string{
				ScopeItemsRead,
				ScopeItemsWrite,
				ScopeInventoryRead,
				ScopeInventoryWrite,
				ScopeMerchantProfileRead,
			},
			StateTTL:            DefaultStateTTL,
			RequestTimeout:      DefaultRequestTimeout,
			IdentityMaxAttempts: DefaultIdentityRetries,
			SquareVersion:       DefaultSquareVersion,
		},
		Webhook: WebhookConfig{
			EventTTL: 90 * 24 * time.Hour,
		},
		Session: SessionConfig{
			TTL:    DefaultSessionTTL,
			Issuer: "square-bff",
		},
		Credentials: CredentialsConfig{
			TTL:                  DefaultCredentialTTL,
			EncryptionKeyVersion: 1,
			CacheTTL:             time.Minute,
			ExpiringSoonWindow:   24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "file:square-bff.db?cache=shared&_foreign_keys=on",
		},
		Redis: RedisConfig{
			KeyPrefix: "square-bff:",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case EnvironmentSandbox, EnvironmentProduction:
	default:
		return fmt.Errorf("core: environment must be %q or %q, got %q", EnvironmentSandbox, EnvironmentProduction, c.Environment)
	}
	if c.OAuth.StateTTL <= 0 {
		return fmt.Errorf("core: oauth.state_ttl must be positive")
	}
	if c.OAuth.RequestTimeout <= 0 {
		return fmt.Errorf("core: oauth.request_timeout must be positive")
	}
	if c.OAuth.IdentityMaxAttempts < 1 {
		return fmt.Errorf("core: oauth.identity_max_attempts must be at least 1")
	}
	for _, scope := range c.OAuth.DefaultScopes {
		if !IsAllowedScope(scope) {
			return fmt.Errorf("core: oauth.default_scopes contains invalid scope %q", scope)
		}
	}
	for _, redirect := range c.OAuth.RedirectAllowList {
		parsed, err := url.Parse(strings.TrimSpace(redirect))
		if err != nil || parsed.Scheme == "" {
			return fmt.Errorf("core: oauth.redirect_allow_list entry %q is invalid", redirect)
		}
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("core: session.ttl must be positive")
	}
	if c.Credentials.TTL <= 0 {
		return fmt.Errorf("core: credentials.ttl must be positive")
	}
	return nil
}

// ValidateSecrets checks the values that must come from the secret source
// before the service can serve traffic.
func (c Config) ValidateSecrets() error {
	missing := []string{}
	if strings.TrimSpace(c.OAuth.ApplicationID) == "" {
		missing = append(missing, "oauth.application_id")
	}
	if strings.TrimSpace(c.OAuth.ApplicationSecret) == "" {
		missing = append(missing, "oauth.application_secret")
	}
	if strings.TrimSpace(c.Webhook.SignatureKey) == "" {
		missing = append(missing, "webhook.signature_key")
	}
	if strings.TrimSpace(c.Session.SigningKey) == "" {
		missing = append(missing, "session.signing_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("core: missing required secrets: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) SquareBaseURL() string {
	if strings.EqualFold(strings.TrimSpace(c.Environment), EnvironmentProduction) {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// RedirectAllowed reports whether uri exactly matches the allow-list. An
// empty redirect is always allowed.
func (c Config) RedirectAllowed(uri string) bool {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return true
	}
	for _, allowed := range c.OAuth.RedirectAllowList {
		if strings.TrimSpace(allowed) == uri {
			return true
		}
	}
	return false
}
