package webhooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-square-bff/core"
	"github.com/tidwall/gjson"
)

const (
	EventInventoryCountUpdated     = "inventory.count.updated"
	EventCatalogVersionUpdated     = "catalog.version.updated"
	EventOrderCreated              = "order.created"
	EventOrderUpdated              = "order.updated"
	EventCustomerCreated           = "customer.created"
	EventCustomerUpdated           = "customer.updated"
	EventOAuthAuthorizationRevoked = "oauth.authorization.revoked"
)

// CredentialForgetter drops a merchant's stored credential.
type CredentialForgetter interface {
	ForgetCredential(ctx context.Context, merchantID string) error
}

// RegisterBuiltins installs the handlers for the Square events this service
// subscribes to.
func RegisterBuiltins(registry *Registry, observer *core.Observer, credentials CredentialForgetter) error {
	if registry == nil {
		return fmt.Errorf("webhooks: registry is required")
	}
	handlers := map[string]Handler{
		EventInventoryCountUpdated:     inventoryCountHandler{observer: observer},
		EventCatalogVersionUpdated:     catalogVersionHandler{observer: observer},
		EventOrderCreated:              objectHandler{observer: observer, idPath: "object.order_created.order_id", label: "order"},
		EventOrderUpdated:              objectHandler{observer: observer, idPath: "object.order_updated.order_id", label: "order"},
		EventCustomerCreated:           objectHandler{observer: observer, idPath: "object.customer.id", label: "customer"},
		EventCustomerUpdated:           objectHandler{observer: observer, idPath: "object.customer.id", label: "customer"},
		EventOAuthAuthorizationRevoked: revocationHandler{observer: observer, credentials: credentials},
	}
	for eventType, handler := range handlers {
		if err := registry.Register(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

type inventoryCountHandler struct {
	observer *core.Observer
}

func (h inventoryCountHandler) Handle(ctx context.Context, event Event) error {
	counts := gjson.GetBytes(event.Data, "object.inventory_counts")
	if !counts.IsArray() {
		return fmt.Errorf("webhooks: inventory_counts is missing")
	}
	items := counts.Array()
	for index, item := range items {
		if strings.TrimSpace(item.Get("catalog_object_id").String()) == "" {
			return fmt.Errorf("webhooks: inventory_counts[%d] has no catalog_object_id", index)
		}
	}
	h.observer.Log(ctx, "info", "inventory counts updated", map[string]any{
		"merchant_id": event.MerchantID,
		"event_id":    event.EventID,
		"count":       len(items),
	})
	return nil
}

type catalogVersionHandler struct {
	observer *core.Observer
}

func (h catalogVersionHandler) Handle(ctx context.Context, event Event) error {
	updatedAt := gjson.GetBytes(event.Data, "object.catalog_version.updated_at")
	if strings.TrimSpace(updatedAt.String()) == "" {
		return fmt.Errorf("webhooks: catalog_version.updated_at is missing")
	}
	h.observer.Log(ctx, "info", "catalog version updated", map[string]any{
		"merchant_id": event.MerchantID,
		"event_id":    event.EventID,
		"updated_at":  updatedAt.String(),
	})
	return nil
}

// objectHandler accepts events that only need the affected object id.
type objectHandler struct {
	observer *core.Observer
	idPath   string
	label    string
}

func (h objectHandler) Handle(ctx context.Context, event Event) error {
	objectID := strings.TrimSpace(gjson.GetBytes(event.Data, h.idPath).String())
	if objectID == "" {
		return fmt.Errorf("webhooks: %s is missing", h.idPath)
	}
	h.observer.Log(ctx, "info", h.label+" changed", map[string]any{
		"merchant_id": event.MerchantID,
		"event_id":    event.EventID,
		"event_type":  event.Type,
		"object_id":   objectID,
	})
	return nil
}

type revocationHandler struct {
	observer    *core.Observer
	credentials CredentialForgetter
}

func (h revocationHandler) Handle(ctx context.Context, event Event) error {
	merchantID := strings.TrimSpace(event.MerchantID)
	if merchantID == "" {
		return fmt.Errorf("webhooks: revocation has no merchant_id")
	}
	if h.credentials == nil {
		return fmt.Errorf("webhooks: credential store is not configured")
	}
	if err := h.credentials.ForgetCredential(ctx, merchantID); err != nil {
		return err
	}
	h.observer.Log(ctx, "warn", "merchant revoked authorization", map[string]any{
		"merchant_id":  merchantID,
		"event_id":     event.EventID,
		"revoker_type": gjson.GetBytes(event.Data, "object.revocation.revoker_type").String(),
	})
	return nil
}
