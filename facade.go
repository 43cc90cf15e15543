package squarebff

import (
	"context"
	"fmt"
	"time"

	bffcommand "github.com/goliatone/go-square-bff/command"
	"github.com/goliatone/go-square-bff/core"
	bffquery "github.com/goliatone/go-square-bff/query"
)

// OAuthService is the part of core.Service the facade drives.
type OAuthService interface {
	bffcommand.MutatingService
	bffquery.CredentialStatusReader
}

type WebhookEngine interface {
	bffcommand.WebhookReceiver
	bffquery.WebhookEventReader
}

type Commands struct {
	InitiateAuthorization *bffcommand.InitiateAuthorizationCommand
	CompleteCallback      *bffcommand.CompleteCallbackCommand
	RefreshCredential     *bffcommand.RefreshCredentialCommand
	RevokeCredential      *bffcommand.RevokeCredentialCommand
	ReceiveWebhook        *bffcommand.ReceiveWebhookCommand
	UpdateWebhookStatus   *bffcommand.UpdateWebhookStatusCommand
	PurgeExpired          *bffcommand.PurgeExpiredCommand
}

type Queries struct {
	GetCredentialStatus    *bffquery.GetCredentialStatusQuery
	ListCredentialStatuses *bffquery.ListCredentialStatusesQuery
	GetWebhookEvent        *bffquery.GetWebhookEventQuery
	ListAudit              *bffquery.ListAuditQuery
}

type Facade struct {
	service  OAuthService
	webhooks WebhookEngine
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	auditReader        core.AuditReader
	credentialPurger   bffcommand.ExpiredPurger
	webhookEventPurger bffcommand.ExpiredPurger
}

func WithAuditReader(reader core.AuditReader) FacadeOption {
	return func(options *facadeOptions) {
		options.auditReader = reader
	}
}

// WithExpiredPurgers enables the purge command for SQL backends.
func WithExpiredPurgers(credentials bffcommand.ExpiredPurger, webhookEvents bffcommand.ExpiredPurger) FacadeOption {
	return func(options *facadeOptions) {
		options.credentialPurger = credentials
		options.webhookEventPurger = webhookEvents
	}
}

func NewFacade(service OAuthService, webhooks WebhookEngine, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("squarebff: oauth service is required")
	}
	if webhooks == nil {
		return nil, fmt.Errorf("squarebff: webhook engine is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.auditReader
	if reader == nil {
		reader = resolveAuditReader(service)
	}

	facade := &Facade{service: service, webhooks: webhooks}
	facade.commands = Commands{
		InitiateAuthorization: bffcommand.NewInitiateAuthorizationCommand(service),
		CompleteCallback:      bffcommand.NewCompleteCallbackCommand(service),
		RefreshCredential:     bffcommand.NewRefreshCredentialCommand(service),
		RevokeCredential:      bffcommand.NewRevokeCredentialCommand(service),
		ReceiveWebhook:        bffcommand.NewReceiveWebhookCommand(webhooks),
		UpdateWebhookStatus:   bffcommand.NewUpdateWebhookStatusCommand(webhooks),
	}
	if cfg.credentialPurger != nil || cfg.webhookEventPurger != nil {
		facade.commands.PurgeExpired = bffcommand.NewPurgeExpiredCommand(cfg.credentialPurger, cfg.webhookEventPurger)
	}
	facade.queries = Queries{
		GetCredentialStatus:    bffquery.NewGetCredentialStatusQuery(service),
		ListCredentialStatuses: bffquery.NewListCredentialStatusesQuery(service),
		GetWebhookEvent:        bffquery.NewGetWebhookEventQuery(webhooks),
		ListAudit:              bffquery.NewListAuditQuery(reader),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() OAuthService {
	if f == nil {
		return nil
	}
	return f.service
}

func (f *Facade) Webhooks() WebhookEngine {
	if f == nil {
		return nil
	}
	return f.webhooks
}

// Purge runs the purge command when purgers were configured.
func (f *Facade) Purge(ctx context.Context, now time.Time) (bffcommand.PurgeResult, error) {
	if f == nil || f.commands.PurgeExpired == nil {
		return bffcommand.PurgeResult{}, fmt.Errorf("squarebff: purge is not configured")
	}
	return ExecuteWithResult[bffcommand.PurgeResult](ctx, f.commands.PurgeExpired.Execute, bffcommand.PurgeExpiredMessage{Now: now})
}

// resolveAuditReader reuses the service's audit sink when it can also read.
func resolveAuditReader(service OAuthService) core.AuditReader {
	provider, ok := service.(interface {
		Dependencies() core.ServiceDependencies
	})
	if !ok {
		return nil
	}
	reader, ok := provider.Dependencies().AuditSink.(core.AuditReader)
	if !ok {
		return nil
	}
	return reader
}
