package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-square-bff/core"
	"github.com/goliatone/go-square-bff/webhooks"
)

type MutatingService interface {
	Initiate(ctx context.Context, req core.InitiateRequest) (core.InitiateResponse, error)
	HandleCallback(ctx context.Context, req core.CallbackRequest) (core.CallbackResult, error)
	RefreshCredential(ctx context.Context, merchantID string) (core.MerchantCredential, error)
	RevokeCredential(ctx context.Context, merchantID string) error
}

type WebhookReceiver interface {
	Receive(ctx context.Context, body []byte, signature string) (webhooks.Result, error)
	UpdateStatusByEventID(
		ctx context.Context,
		eventID string,
		status core.WebhookEventStatus,
		errorMessage string,
	) (core.WebhookEvent, bool)
}

// ExpiredPurger removes rows whose storage TTL has passed.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

type PurgeResult struct {
	Credentials   int
	WebhookEvents int
}

type WebhookStatusUpdate struct {
	Event   core.WebhookEvent
	Updated bool
}

// CallbackOutcome keeps the result next to the error so transports can
// still read FlowState and RedirectURI on failure.
type CallbackOutcome struct {
	Result core.CallbackResult
	Err    error
}

// ReceiveOutcome carries the acknowledgment decision even when a handler
// failed.
type ReceiveOutcome struct {
	Result webhooks.Result
	Err    error
}

type InitiateAuthorizationCommand struct {
	service MutatingService
}

func NewInitiateAuthorizationCommand(service MutatingService) *InitiateAuthorizationCommand {
	return &InitiateAuthorizationCommand{service: service}
}

func (c *InitiateAuthorizationCommand) Execute(ctx context.Context, msg InitiateAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependencyError("command", "oauth service")
	}
	out, err := c.service.Initiate(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteCallbackCommand struct {
	service MutatingService
}

func NewCompleteCallbackCommand(service MutatingService) *CompleteCallbackCommand {
	return &CompleteCallbackCommand{service: service}
}

func (c *CompleteCallbackCommand) Execute(ctx context.Context, msg CompleteCallbackMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependencyError("command", "oauth service")
	}
	out, err := c.service.HandleCallback(ctx, msg.Request)
	storeResult(ctx, CallbackOutcome{Result: out, Err: err})
	return err
}

type RefreshCredentialCommand struct {
	service MutatingService
}

func NewRefreshCredentialCommand(service MutatingService) *RefreshCredentialCommand {
	return &RefreshCredentialCommand{service: service}
}

func (c *RefreshCredentialCommand) Execute(ctx context.Context, msg RefreshCredentialMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependencyError("command", "oauth service")
	}
	out, err := c.service.RefreshCredential(ctx, msg.MerchantID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeCredentialCommand struct {
	service MutatingService
}

func NewRevokeCredentialCommand(service MutatingService) *RevokeCredentialCommand {
	return &RevokeCredentialCommand{service: service}
}

func (c *RevokeCredentialCommand) Execute(ctx context.Context, msg RevokeCredentialMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependencyError("command", "oauth service")
	}
	return c.service.RevokeCredential(ctx, msg.MerchantID)
}

type ReceiveWebhookCommand struct {
	receiver WebhookReceiver
}

func NewReceiveWebhookCommand(receiver WebhookReceiver) *ReceiveWebhookCommand {
	return &ReceiveWebhookCommand{receiver: receiver}
}

func (c *ReceiveWebhookCommand) Execute(ctx context.Context, msg ReceiveWebhookMessage) error {
	if c == nil || c.receiver == nil {
		return core.MissingDependencyError("command", "webhook receiver")
	}
	out, err := c.receiver.Receive(ctx, msg.Body, msg.Signature)
	storeResult(ctx, ReceiveOutcome{Result: out, Err: err})
	return err
}

type UpdateWebhookStatusCommand struct {
	receiver WebhookReceiver
}

func NewUpdateWebhookStatusCommand(receiver WebhookReceiver) *UpdateWebhookStatusCommand {
	return &UpdateWebhookStatusCommand{receiver: receiver}
}

// Execute never fails once the message is valid; Updated reports whether a
// record was resolved.
func (c *UpdateWebhookStatusCommand) Execute(ctx context.Context, msg UpdateWebhookStatusMessage) error {
	if c == nil || c.receiver == nil {
		return core.MissingDependencyError("command", "webhook receiver")
	}
	event, updated := c.receiver.UpdateStatusByEventID(ctx, msg.EventID, msg.Status, msg.ErrorMessage)
	storeResult(ctx, WebhookStatusUpdate{Event: event, Updated: updated})
	return nil
}

type PurgeExpiredCommand struct {
	credentials   ExpiredPurger
	webhookEvents ExpiredPurger
}

func NewPurgeExpiredCommand(credentials ExpiredPurger, webhookEvents ExpiredPurger) *PurgeExpiredCommand {
	return &PurgeExpiredCommand{credentials: credentials, webhookEvents: webhookEvents}
}

func (c *PurgeExpiredCommand) Execute(ctx context.Context, msg PurgeExpiredMessage) error {
	if c == nil || (c.credentials == nil && c.webhookEvents == nil) {
		return core.MissingDependencyError("command", "purge targets")
	}
	now := msg.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	result := PurgeResult{}
	if c.credentials != nil {
		removed, err := c.credentials.PurgeExpired(ctx, now)
		if err != nil {
			return core.InternalError(err, "purge expired credentials failed")
		}
		result.Credentials = removed
	}
	if c.webhookEvents != nil {
		removed, err := c.webhookEvents.PurgeExpired(ctx, now)
		if err != nil {
			return core.InternalError(err, "purge expired webhook events failed")
		}
		result.WebhookEvents = removed
	}
	storeResult(ctx, result)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
