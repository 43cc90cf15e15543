package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[InitiateAuthorizationMessage] = (*InitiateAuthorizationCommand)(nil)
	_ gocmd.Commander[CompleteCallbackMessage]      = (*CompleteCallbackCommand)(nil)
	_ gocmd.Commander[RefreshCredentialMessage]     = (*RefreshCredentialCommand)(nil)
	_ gocmd.Commander[RevokeCredentialMessage]      = (*RevokeCredentialCommand)(nil)
	_ gocmd.Commander[ReceiveWebhookMessage]        = (*ReceiveWebhookCommand)(nil)
	_ gocmd.Commander[UpdateWebhookStatusMessage]   = (*UpdateWebhookStatusCommand)(nil)
	_ gocmd.Commander[PurgeExpiredMessage]          = (*PurgeExpiredCommand)(nil)
)
