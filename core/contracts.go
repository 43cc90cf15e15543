package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// PKCEStateStore holds pending authorizations keyed by state. Consume must be
// an atomic read-and-delete so a state can be redeemed at most once across
// every process sharing the store.
type PKCEStateStore interface {
	Save(ctx context.Context, pending PendingAuthorization) error
	Consume(ctx context.Context, state string) (PendingAuthorization, error)
}

// CredentialStore owns merchant credentials. Create is a conditional insert
// and Update never inserts.
type CredentialStore interface {
	Create(ctx context.Context, in CredentialInput) (MerchantCredential, error)
	Update(ctx context.Context, in CredentialInput) (MerchantCredential, error)
	Get(ctx context.Context, merchantID string) (MerchantCredential, error)
	List(ctx context.Context, limit int) ([]MerchantCredential, error)
	Delete(ctx context.Context, merchantID string) error
}

type WebhookEventStore interface {
	Insert(ctx context.Context, event WebhookEvent) (WebhookEvent, error)
	Get(ctx context.Context, id string) (WebhookEvent, error)
	// FindLatestByEventID resolves through the event id index.
	FindLatestByEventID(ctx context.Context, eventID string) (WebhookEvent, bool, error)
	// ScanByEventID walks every stored event and filters by event id.
	ScanByEventID(ctx context.Context, eventID string) ([]WebhookEvent, error)
	UpdateStatus(
		ctx context.Context,
		id string,
		status WebhookEventStatus,
		errorMessage string,
		processedAt *time.Time,
	) error
}

type OAuthProvider interface {
	AuthorizationURL(req AuthorizationURLRequest) (string, error)
	ExchangeCode(ctx context.Context, req TokenExchangeRequest) (TokenSet, error)
	RefreshToken(ctx context.Context, refreshToken string) (TokenSet, error)
	FetchIdentity(ctx context.Context, accessToken string) (MerchantIdentity, error)
	RevokeToken(ctx context.Context, accessToken string) error
}

type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

type AuditReader interface {
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type SessionIssuer interface {
	Issue(ctx context.Context, merchantID string) (Session, error)
	Verify(ctx context.Context, token string) (SessionClaims, error)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// OAuthService is the surface consumed by the transport and command layers.
type OAuthService interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
	HandleCallback(ctx context.Context, req CallbackRequest) (CallbackResult, error)
	RefreshCredential(ctx context.Context, merchantID string) (MerchantCredential, error)
	RevokeCredential(ctx context.Context, merchantID string) error
	CredentialStatus(ctx context.Context, merchantID string) (CredentialStatus, error)
	ListCredentialStatuses(ctx context.Context, limit int) ([]CredentialStatus, error)
}
