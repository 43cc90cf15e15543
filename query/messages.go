package query

import (
	"strings"

	"github.com/goliatone/go-square-bff/core"
)

const (
	TypeGetCredentialStatus    = "square_bff.query.credential.status"
	TypeListCredentialStatuses = "square_bff.query.credential.list"
	TypeGetWebhookEvent        = "square_bff.query.webhook.event"
	TypeListAudit              = "square_bff.query.audit.list"

	MaxListLimit = 500
)

type GetCredentialStatusMessage struct {
	MerchantID string
}

func (GetCredentialStatusMessage) Type() string { return TypeGetCredentialStatus }

func (m GetCredentialStatusMessage) Validate() error {
	if strings.TrimSpace(m.MerchantID) == "" {
		return core.FieldValidationError("query", "merchant_id", "merchant id is required")
	}
	return nil
}

type ListCredentialStatusesMessage struct {
	Limit int
}

func (ListCredentialStatusesMessage) Type() string { return TypeListCredentialStatuses }

func (m ListCredentialStatusesMessage) Validate() error {
	return validateLimit(m.Limit)
}

type GetWebhookEventMessage struct {
	EventID string
}

func (GetWebhookEventMessage) Type() string { return TypeGetWebhookEvent }

func (m GetWebhookEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return core.FieldValidationError("query", "event_id", "event id is required")
	}
	return nil
}

type ListAuditMessage struct {
	Filter core.AuditFilter
}

func (ListAuditMessage) Type() string { return TypeListAudit }

func (m ListAuditMessage) Validate() error {
	return validateLimit(m.Filter.Limit)
}

func validateLimit(limit int) error {
	if limit < 0 {
		return core.FieldValidationError("query", "limit", "limit must be >= 0")
	}
	if limit > MaxListLimit {
		return core.FieldValidationError("query", "limit", "limit must be <= 500")
	}
	return nil
}
