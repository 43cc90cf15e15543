package webhooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Registry maps an event type to the handler that owns it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(eventType string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("webhooks: handler is nil")
	}
	eventType = normalizeEventType(eventType)
	if eventType == "" {
		return fmt.Errorf("webhooks: event type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[eventType]; exists {
		return fmt.Errorf("webhooks: handler already registered: %s", eventType)
	}
	r.handlers[eventType] = handler
	return nil
}

func (r *Registry) Lookup(eventType string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	eventType = normalizeEventType(eventType)
	if eventType == "" {
		return nil, false
	}
	r.mu.RLock()
	handler, ok := r.handlers[eventType]
	r.mu.RUnlock()
	return handler, ok
}

func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	keys := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		keys = append(keys, eventType)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func normalizeEventType(eventType string) string {
	return strings.ToLower(strings.TrimSpace(eventType))
}
