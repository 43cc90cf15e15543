package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-square-bff/core"
)

const (
	TypeInitiateAuthorization = "square_bff.command.oauth.initiate"
	TypeCompleteCallback      = "square_bff.command.oauth.callback"
	TypeRefreshCredential     = "square_bff.command.credential.refresh"
	TypeRevokeCredential      = "square_bff.command.credential.revoke"
	TypeReceiveWebhook        = "square_bff.command.webhook.receive"
	TypeUpdateWebhookStatus   = "square_bff.command.webhook.update_status"
	TypePurgeExpired          = "square_bff.command.maintenance.purge_expired"
)

type InitiateAuthorizationMessage struct {
	Request core.InitiateRequest
}

func (InitiateAuthorizationMessage) Type() string { return TypeInitiateAuthorization }

// Validate only checks shape; the scope allow-list is enforced by the service.
func (m InitiateAuthorizationMessage) Validate() error {
	for _, scope := range m.Request.Scopes {
		if strings.TrimSpace(scope) == "" {
			return core.FieldValidationError("command", "scopes", "scope entries must not be empty")
		}
	}
	return nil
}

// CompleteCallbackMessage carries no Validate; the service audits every
// attempt, malformed ones included.
type CompleteCallbackMessage struct {
	Request core.CallbackRequest
}

func (CompleteCallbackMessage) Type() string { return TypeCompleteCallback }

type RefreshCredentialMessage struct {
	MerchantID string
}

func (RefreshCredentialMessage) Type() string { return TypeRefreshCredential }

func (m RefreshCredentialMessage) Validate() error {
	if strings.TrimSpace(m.MerchantID) == "" {
		return core.FieldValidationError("command", "merchant_id", "merchant id is required")
	}
	return nil
}

type RevokeCredentialMessage struct {
	MerchantID string
}

func (RevokeCredentialMessage) Type() string { return TypeRevokeCredential }

func (m RevokeCredentialMessage) Validate() error {
	if strings.TrimSpace(m.MerchantID) == "" {
		return core.FieldValidationError("command", "merchant_id", "merchant id is required")
	}
	return nil
}

type ReceiveWebhookMessage struct {
	Body      []byte
	Signature string
}

func (ReceiveWebhookMessage) Type() string { return TypeReceiveWebhook }

type UpdateWebhookStatusMessage struct {
	EventID      string
	Status       core.WebhookEventStatus
	ErrorMessage string
}

func (UpdateWebhookStatusMessage) Type() string { return TypeUpdateWebhookStatus }

func (m UpdateWebhookStatusMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return core.FieldValidationError("command", "event_id", "event id is required")
	}
	if !m.Status.Valid() {
		return core.FieldValidationError("command", "status", "status must be pending, processed, or failed")
	}
	return nil
}

type PurgeExpiredMessage struct {
	Now time.Time
}

func (PurgeExpiredMessage) Type() string { return TypePurgeExpired }
