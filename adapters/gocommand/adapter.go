// Package gocommand registers the facade's commands and queries with the
// go-command registry and dispatcher so callers can route by message type.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"

	squarebff "github.com/goliatone/go-square-bff"
	bffcommand "github.com/goliatone/go-square-bff/command"
	"github.com/goliatone/go-square-bff/core"
	bffquery "github.com/goliatone/go-square-bff/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// DispatchWithResult sends msg through the dispatcher and returns the value
// the subscribed command stored on the context.
func DispatchWithResult[R any, T any](ctx context.Context, msg T) (R, error) {
	return squarebff.ExecuteWithResult[R](ctx, Dispatch[T], msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...), nil
}

// Subscriptions holds every dispatcher subscription made for one facade.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// RegisterFacade subscribes every facade command and query to the global
// dispatcher and records the commands in the registry. On failure nothing
// stays subscribed.
func RegisterFacade(adapter *RegistryAdapter, facade *squarebff.Facade, runnerOpts ...runner.Option) (subs Subscriptions, err error) {
	if facade == nil {
		return nil, fmt.Errorf("gocommand: facade is required")
	}
	defer func() {
		if err != nil {
			subs.Unsubscribe()
			subs = nil
		}
	}()

	commands := facade.Commands()
	add := func(sub commanddispatcher.Subscription, subErr error) {
		if subErr != nil && err == nil {
			err = subErr
		}
		if sub != nil {
			subs = append(subs, sub)
		}
	}
	add(RegisterAndSubscribe[bffcommand.InitiateAuthorizationMessage](adapter, commands.InitiateAuthorization, runnerOpts...))
	add(RegisterAndSubscribe[bffcommand.CompleteCallbackMessage](adapter, commands.CompleteCallback, runnerOpts...))
	add(RegisterAndSubscribe[bffcommand.RefreshCredentialMessage](adapter, commands.RefreshCredential, runnerOpts...))
	add(RegisterAndSubscribe[bffcommand.RevokeCredentialMessage](adapter, commands.RevokeCredential, runnerOpts...))
	add(RegisterAndSubscribe[bffcommand.ReceiveWebhookMessage](adapter, commands.ReceiveWebhook, runnerOpts...))
	add(RegisterAndSubscribe[bffcommand.UpdateWebhookStatusMessage](adapter, commands.UpdateWebhookStatus, runnerOpts...))
	if commands.PurgeExpired != nil {
		add(RegisterAndSubscribe[bffcommand.PurgeExpiredMessage](adapter, commands.PurgeExpired, runnerOpts...))
	}

	queries := facade.Queries()
	add(SubscribeQuery[bffquery.GetCredentialStatusMessage, core.CredentialStatus](queries.GetCredentialStatus, runnerOpts...))
	add(SubscribeQuery[bffquery.ListCredentialStatusesMessage, []core.CredentialStatus](queries.ListCredentialStatuses, runnerOpts...))
	add(SubscribeQuery[bffquery.GetWebhookEventMessage, core.WebhookEvent](queries.GetWebhookEvent, runnerOpts...))
	add(SubscribeQuery[bffquery.ListAuditMessage, []core.AuditEntry](queries.ListAudit, runnerOpts...))
	if err != nil {
		return subs, err
	}
	return subs, adapter.Initialize()
}
