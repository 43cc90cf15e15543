package sqlstore

import "github.com/goliatone/go-square-bff/core"

var (
	_ core.CredentialStore   = (*CredentialStore)(nil)
	_ core.CredentialStore   = (*CachedCredentialStore)(nil)
	_ core.WebhookEventStore = (*WebhookEventStore)(nil)
	_ core.AuditSink         = (*AuditStore)(nil)
	_ core.AuditReader       = (*AuditStore)(nil)
)
