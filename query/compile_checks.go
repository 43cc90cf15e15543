package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-square-bff/core"
)

var (
	_ gocmd.Querier[GetCredentialStatusMessage, core.CredentialStatus]      = (*GetCredentialStatusQuery)(nil)
	_ gocmd.Querier[ListCredentialStatusesMessage, []core.CredentialStatus] = (*ListCredentialStatusesQuery)(nil)
	_ gocmd.Querier[GetWebhookEventMessage, core.WebhookEvent]              = (*GetWebhookEventQuery)(nil)
	_ gocmd.Querier[ListAuditMessage, []core.AuditEntry]                    = (*ListAuditQuery)(nil)
)
