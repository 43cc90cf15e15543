package query

import (
	"context"

	"github.com/goliatone/go-square-bff/core"
)

type CredentialStatusReader interface {
	CredentialStatus(ctx context.Context, merchantID string) (core.CredentialStatus, error)
	ListCredentialStatuses(ctx context.Context, limit int) ([]core.CredentialStatus, error)
}

type WebhookEventReader interface {
	FindByEventID(ctx context.Context, eventID string) (core.WebhookEvent, error)
}

type GetCredentialStatusQuery struct {
	reader CredentialStatusReader
}

func NewGetCredentialStatusQuery(reader CredentialStatusReader) *GetCredentialStatusQuery {
	return &GetCredentialStatusQuery{reader: reader}
}

func (q *GetCredentialStatusQuery) Query(ctx context.Context, msg GetCredentialStatusMessage) (core.CredentialStatus, error) {
	if q == nil || q.reader == nil {
		return core.CredentialStatus{}, core.MissingDependencyError("query", "credential status reader")
	}
	return q.reader.CredentialStatus(ctx, msg.MerchantID)
}

type ListCredentialStatusesQuery struct {
	reader CredentialStatusReader
}

func NewListCredentialStatusesQuery(reader CredentialStatusReader) *ListCredentialStatusesQuery {
	return &ListCredentialStatusesQuery{reader: reader}
}

func (q *ListCredentialStatusesQuery) Query(
	ctx context.Context,
	msg ListCredentialStatusesMessage,
) ([]core.CredentialStatus, error) {
	if q == nil || q.reader == nil {
		return nil, core.MissingDependencyError("query", "credential status reader")
	}
	return q.reader.ListCredentialStatuses(ctx, msg.Limit)
}

type GetWebhookEventQuery struct {
	reader WebhookEventReader
}

func NewGetWebhookEventQuery(reader WebhookEventReader) *GetWebhookEventQuery {
	return &GetWebhookEventQuery{reader: reader}
}

// Query resolves the most recent record for the event id. The payload is
// returned as stored.
func (q *GetWebhookEventQuery) Query(ctx context.Context, msg GetWebhookEventMessage) (core.WebhookEvent, error) {
	if q == nil || q.reader == nil {
		return core.WebhookEvent{}, core.MissingDependencyError("query", "webhook event reader")
	}
	return q.reader.FindByEventID(ctx, msg.EventID)
}

type ListAuditQuery struct {
	reader core.AuditReader
}

func NewListAuditQuery(reader core.AuditReader) *ListAuditQuery {
	return &ListAuditQuery{reader: reader}
}

func (q *ListAuditQuery) Query(ctx context.Context, msg ListAuditMessage) ([]core.AuditEntry, error) {
	if q == nil || q.reader == nil {
		return nil, core.MissingDependencyError("query", "audit reader")
	}
	return q.reader.ListAudit(ctx, msg.Filter)
}
