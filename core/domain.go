package core

import (
	"fmt"
	"strings"
	"time"
)

// FlowState tracks where an authorization attempt ended up.
type FlowState string

const (
	FlowStateInitiated     FlowState = "initiated"
	FlowStateAuthorized    FlowState = "authorized"
	FlowStateTokenObtained FlowState = "token_obtained"
	FlowStatePersisted     FlowState = "persisted"
	FlowStateFailed        FlowState = "failed"
)

func (s FlowState) Terminal() bool {
	return s == FlowStatePersisted || s == FlowStateFailed
}

type PendingAuthorization struct {
	State         string
	CodeVerifier  string
	CodeChallenge string
	RedirectURI   string
	Scopes        []string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

func (p PendingAuthorization) Expired(now time.Time) bool {
	if p.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(p.ExpiresAt)
}

type MerchantCredential struct {
	MerchantID   string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// TTL is the storage eviction deadline in unix seconds.
	TTL int64
}

// CredentialInput carries the token triple that is always written together.
type CredentialInput struct {
	MerchantID   string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (in CredentialInput) Validate() error {
	if strings.TrimSpace(in.MerchantID) == "" {
		return fmt.Errorf("core: merchant id is required")
	}
	if strings.TrimSpace(in.AccessToken) == "" {
		return fmt.Errorf("core: access token is required")
	}
	return nil
}

func (in CredentialInput) Normalized() CredentialInput {
	in.MerchantID = strings.TrimSpace(in.MerchantID)
	in.AccessToken = strings.TrimSpace(in.AccessToken)
	in.RefreshToken = strings.TrimSpace(in.RefreshToken)
	if !in.ExpiresAt.IsZero() {
		in.ExpiresAt = in.ExpiresAt.UTC()
	}
	return in
}

// CredentialStatus is the token-free view of a stored credential.
type CredentialStatus struct {
	MerchantID     string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	TTL            int64
	Refreshable    bool
	IsExpired      bool
	IsExpiringSoon bool
}

type WebhookEventStatus string

const (
	WebhookEventStatusPending   WebhookEventStatus = "pending"
	WebhookEventStatusProcessed WebhookEventStatus = "processed"
	WebhookEventStatusFailed    WebhookEventStatus = "failed"
)

func (s WebhookEventStatus) Valid() bool {
	switch s {
	case WebhookEventStatusPending, WebhookEventStatusProcessed, WebhookEventStatusFailed:
		return true
	default:
		return false
	}
}

type WebhookEvent struct {
	ID           string
	EventType    string
	MerchantID   string
	EventID      string
	Payload      []byte
	Status       WebhookEventStatus
	ErrorMessage string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	TTL          int64
}

type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
)

// AuditEntry is written to the audit trail, never to the application log.
type AuditEntry struct {
	ID         string
	Action     string
	Outcome    AuditOutcome
	Security   bool
	FlowState  FlowState
	MerchantID string
	StateHash  string
	ErrorCode  string
	Detail     string
	Metadata   map[string]any
	CreatedAt  time.Time
}

type AuditFilter struct {
	Action       string
	MerchantID   string
	SecurityOnly bool
	Limit        int
}

type Session struct {
	Token      string
	MerchantID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

type SessionClaims struct {
	MerchantID string
	Issuer     string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

type InitiateRequest struct {
	Scopes      []string
	RedirectURI string
}

type InitiateResponse struct {
	URL           string
	State         string
	CodeChallenge string
	Scopes        []string
	ExpiresAt     time.Time
}

type AuthorizationURLRequest struct {
	State         string
	Scopes        []string
	CodeChallenge string
	RedirectURI   string
}

type CallbackRequest struct {
	Code             string
	State            string
	CodeVerifier     string
	Error            string
	ErrorDescription string
}

type CallbackResult struct {
	Credential  MerchantCredential
	Session     Session
	FlowState   FlowState
	RedirectURI string
}

type TokenExchangeRequest struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
}

type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	MerchantID   string
	ExpiresAt    time.Time
	Scopes       []string
}

type MerchantIdentity struct {
	MerchantID   string
	BusinessName string
	Country      string
	Currency     string
	Status       string
}
