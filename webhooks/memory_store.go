package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-square-bff/core"
)

// MemoryEventStore is the in-process WebhookEventStore. IndexLagging makes
// FindLatestByEventID miss, the way an eventually consistent secondary index
// can right after a write.
type MemoryEventStore struct {
	mu           sync.RWMutex
	records      map[string]core.WebhookEvent
	byEventID    map[string][]string
	IndexLagging bool
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		records:   map[string]core.WebhookEvent{},
		byEventID: map[string][]string{},
	}
}

func (s *MemoryEventStore) Insert(_ context.Context, event core.WebhookEvent) (core.WebhookEvent, error) {
	if s == nil {
		return core.WebhookEvent{}, fmt.Errorf("webhooks: event store is not configured")
	}
	event.ID = strings.TrimSpace(event.ID)
	if event.ID == "" {
		return core.WebhookEvent{}, fmt.Errorf("webhooks: event record id is required")
	}
	if event.Status == "" {
		event.Status = core.WebhookEventStatusPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[event.ID]; exists {
		return core.WebhookEvent{}, fmt.Errorf("webhooks: event record %s: %w", event.ID, core.ErrAlreadyExists)
	}
	event.Payload = append([]byte(nil), event.Payload...)
	s.records[event.ID] = event
	s.byEventID[event.EventID] = append(s.byEventID[event.EventID], event.ID)
	return cloneEvent(event), nil
}

func (s *MemoryEventStore) Get(_ context.Context, id string) (core.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return core.WebhookEvent{}, core.NotFoundError("webhook event", id)
	}
	return cloneEvent(record), nil
}

func (s *MemoryEventStore) FindLatestByEventID(_ context.Context, eventID string) (core.WebhookEvent, bool, error) {
	if s.IndexLagging {
		return core.WebhookEvent{}, false, nil
	}
	s.mu.RLock()
	ids := s.byEventID[strings.TrimSpace(eventID)]
	records := make([]core.WebhookEvent, 0, len(ids))
	for _, id := range ids {
		records = append(records, s.records[id])
	}
	s.mu.RUnlock()
	latest, ok := LatestEvent(records)
	return cloneEvent(latest), ok, nil
}

func (s *MemoryEventStore) ScanByEventID(_ context.Context, eventID string) ([]core.WebhookEvent, error) {
	eventID = strings.TrimSpace(eventID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.WebhookEvent{}
	for _, record := range s.records {
		if record.EventID == eventID {
			out = append(out, cloneEvent(record))
		}
	}
	return out, nil
}

func (s *MemoryEventStore) UpdateStatus(
	_ context.Context,
	id string,
	status core.WebhookEventStatus,
	errorMessage string,
	processedAt *time.Time,
) error {
	if !status.Valid() {
		return fmt.Errorf("webhooks: invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return core.NotFoundError("webhook event", id)
	}
	record.Status = status
	record.ErrorMessage = errorMessage
	if processedAt != nil {
		at := processedAt.UTC()
		record.ProcessedAt = &at
	} else {
		record.ProcessedAt = nil
	}
	s.records[record.ID] = record
	return nil
}

// Len reports the number of stored records.
func (s *MemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneEvent(event core.WebhookEvent) core.WebhookEvent {
	cloned := event
	cloned.Payload = append([]byte(nil), event.Payload...)
	if event.ProcessedAt != nil {
		at := *event.ProcessedAt
		cloned.ProcessedAt = &at
	}
	return cloned
}

var (
	_ core.WebhookEventStore = (*MemoryEventStore)(nil)
	_ Verifier               = HMACVerifier{}
)
