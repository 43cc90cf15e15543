package squarebff

import "github.com/goliatone/go-square-bff/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type PKCEStateStore = core.PKCEStateStore
type CredentialStore = core.CredentialStore
type WebhookEventStore = core.WebhookEventStore
type OAuthProvider = core.OAuthProvider
type AuditSink = core.AuditSink
type SessionIssuer = core.SessionIssuer

type InitiateRequest = core.InitiateRequest
type CallbackRequest = core.CallbackRequest

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithStateStore      = core.WithStateStore
	WithCredentialStore = core.WithCredentialStore
	WithOAuthProvider   = core.WithOAuthProvider
	WithAuditSink       = core.WithAuditSink
	WithSessionIssuer   = core.WithSessionIssuer
	WithClock           = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
