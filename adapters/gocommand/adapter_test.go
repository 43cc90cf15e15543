package gocommand

import (
	"context"
	"testing"
	"time"

	squarebff "github.com/goliatone/go-square-bff"
	bffcommand "github.com/goliatone/go-square-bff/command"
	"github.com/goliatone/go-square-bff/core"
	bffquery "github.com/goliatone/go-square-bff/query"
	"github.com/goliatone/go-square-bff/webhooks"
)

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(bffcommand.RefreshCredentialMessage{MerchantID: "MLR1"}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(bffcommand.RefreshCredentialMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestRegisterFacadeRoutesMessagesByType(t *testing.T) {
	facade := newTestFacade(t)
	adapter := NewRegistryAdapter(nil)

	subs, err := RegisterFacade(adapter, facade)
	if err != nil {
		t.Fatalf("register facade: %v", err)
	}
	t.Cleanup(subs.Unsubscribe)
	if len(subs) != 10 {
		t.Fatalf("expected 10 subscriptions without purge, got %d", len(subs))
	}

	ctx := context.Background()
	initiated, err := squarebff.ExecuteWithResult[core.InitiateResponse](ctx, Dispatch[bffcommand.InitiateAuthorizationMessage], bffcommand.InitiateAuthorizationMessage{})
	if err != nil {
		t.Fatalf("dispatch initiate: %v", err)
	}
	if initiated.State == "" {
		t.Fatalf("expected initiate response through dispatcher, got %#v", initiated)
	}

	body := []byte(`{"type":"inventory.count.updated","merchant_id":"MLR1","event_id":"evt-dispatch","data":{}}`)
	outcome, err := squarebff.ExecuteWithResult[bffcommand.ReceiveOutcome](ctx, Dispatch[bffcommand.ReceiveWebhookMessage], bffcommand.ReceiveWebhookMessage{
		Body:      body,
		Signature: webhooks.Sign("signature-key", body),
	})
	if err != nil {
		t.Fatalf("dispatch receive: %v", err)
	}
	if !outcome.Result.Accepted || outcome.Result.Status != core.WebhookEventStatusProcessed {
		t.Fatalf("expected processed delivery, got %#v", outcome.Result)
	}

	event, err := Query[bffquery.GetWebhookEventMessage, core.WebhookEvent](ctx, bffquery.GetWebhookEventMessage{EventID: "evt-dispatch"})
	if err != nil {
		t.Fatalf("query webhook event: %v", err)
	}
	if event.ID != outcome.Result.RecordID {
		t.Fatalf("expected record %q, got %q", outcome.Result.RecordID, event.ID)
	}
}

type countingPurger struct {
	removed int
	seen    time.Time
}

func (p *countingPurger) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	p.seen = now
	return p.removed, nil
}

func TestDispatchWithResultRunsPurgeThroughDispatcher(t *testing.T) {
	credentials := &countingPurger{removed: 2}
	events := &countingPurger{removed: 5}
	facade := newTestFacade(t, squarebff.WithExpiredPurgers(credentials, events))

	subs, err := RegisterFacade(NewRegistryAdapter(nil), facade)
	if err != nil {
		t.Fatalf("register facade: %v", err)
	}
	t.Cleanup(subs.Unsubscribe)
	if len(subs) != 11 {
		t.Fatalf("expected 11 subscriptions with purge, got %d", len(subs))
	}

	now := time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC)
	result, err := DispatchWithResult[bffcommand.PurgeResult](context.Background(), bffcommand.PurgeExpiredMessage{Now: now})
	if err != nil {
		t.Fatalf("dispatch purge: %v", err)
	}
	if result.Credentials != 2 || result.WebhookEvents != 5 {
		t.Fatalf("unexpected purge result: %#v", result)
	}
	if !credentials.seen.Equal(now) || !events.seen.Equal(now) {
		t.Fatalf("expected purgers to see %s, got %s and %s", now, credentials.seen, events.seen)
	}
}

func TestRegisterFacadeRequiresFacade(t *testing.T) {
	if _, err := RegisterFacade(NewRegistryAdapter(nil), nil); err == nil {
		t.Fatalf("expected nil facade to fail")
	}
}

func newTestFacade(t *testing.T, opts ...squarebff.FacadeOption) *squarebff.Facade {
	t.Helper()
	cfg := squarebff.DefaultConfig()
	cfg.OAuth.ApplicationID = "app"
	service, err := squarebff.NewService(cfg, squarebff.WithOAuthProvider(stubProvider{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	engine := webhooks.NewEngine(webhooks.NewHMACVerifier("signature-key"), webhooks.NewMemoryEventStore(), webhooks.NewRegistry())
	facade, err := squarebff.NewFacade(service, engine, opts...)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	return facade
}

type stubProvider struct{}

func (stubProvider) AuthorizationURL(req core.AuthorizationURLRequest) (string, error) {
	return "https://connect.squareupsandbox.com/oauth2/authorize?state=" + req.State, nil
}

func (stubProvider) ExchangeCode(context.Context, core.TokenExchangeRequest) (core.TokenSet, error) {
	return core.TokenSet{AccessToken: "EAAA"}, nil
}

func (stubProvider) RefreshToken(context.Context, string) (core.TokenSet, error) {
	return core.TokenSet{AccessToken: "EAAA"}, nil
}

func (stubProvider) FetchIdentity(context.Context, string) (core.MerchantIdentity, error) {
	return core.MerchantIdentity{MerchantID: "MLR1"}, nil
}

func (stubProvider) RevokeToken(context.Context, string) error {
	return nil
}
