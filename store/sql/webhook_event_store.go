package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-square-bff/core"
	"github.com/uptrace/bun"
)

// WebhookEventStore keeps one row per delivery. Redeliveries of the same
// event id produce additional rows.
type WebhookEventStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookEventRecord]
}

func NewWebhookEventStore(db *bun.DB) (*WebhookEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, webhookEventHandlers(), "webhook event")
	if err != nil {
		return nil, err
	}
	return &WebhookEventStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *WebhookEventStore) Insert(ctx context.Context, event core.WebhookEvent) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	event.ID = strings.TrimSpace(event.ID)
	if event.ID == "" {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event id is required")
	}
	if event.Status == "" {
		event.Status = core.WebhookEventStatusPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	record := newWebhookEventRecord(event)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.WebhookEvent{}, fmt.Errorf("sqlstore: event record %s: %w", event.ID, core.ErrAlreadyExists)
		}
		return core.WebhookEvent{}, err
	}
	return record.toDomain(), nil
}

func (s *WebhookEventStore) Get(ctx context.Context, id string) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	id = strings.TrimSpace(id)
	record := &webhookEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookEvent{}, core.NotFoundError("webhook event", id)
		}
		return core.WebhookEvent{}, err
	}
	return record.toDomain(), nil
}

// FindLatestByEventID walks idx_webhook_events_event_id newest first.
func (s *WebhookEventStore) FindLatestByEventID(ctx context.Context, eventID string) (core.WebhookEvent, bool, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, false, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	record := &webhookEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		OrderExpr("?TableAlias.created_at DESC, ?TableAlias.id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookEvent{}, false, nil
		}
		return core.WebhookEvent{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *WebhookEventStore) ScanByEventID(ctx context.Context, eventID string) ([]core.WebhookEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("event_id", "=", strings.TrimSpace(eventID)),
		repository.OrderBy("created_at ASC", "id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.WebhookEvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *WebhookEventStore) UpdateStatus(
	ctx context.Context,
	id string,
	status core.WebhookEventStatus,
	errorMessage string,
	processedAt *time.Time,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	if !status.Valid() {
		return core.InvalidRequestError("webhook event status is invalid", map[string]any{"status": string(status)})
	}
	id = strings.TrimSpace(id)

	var processed *time.Time
	if processedAt != nil {
		value := processedAt.UTC()
		processed = &value
	}
	res, err := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("status = ?", string(status)).
		Set("error_message = ?", strings.TrimSpace(errorMessage)).
		Set("processed_at = ?", processed).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return core.NotFoundError("webhook event", id)
	}
	return nil
}

// PurgeExpired drops events whose ttl epoch is at or before now.
func (s *WebhookEventStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*webhookEventRecord)(nil)).
		Where("ttl > 0").
		Where("ttl <= ?", now.UTC().Unix()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// newWebhookEventRecord stores an absent payload as an empty blob; the
// column is NOT NULL.
func newWebhookEventRecord(event core.WebhookEvent) *webhookEventRecord {
	payload := make([]byte, len(event.Payload))
	copy(payload, event.Payload)
	record := &webhookEventRecord{
		ID:           event.ID,
		EventType:    strings.TrimSpace(event.EventType),
		MerchantID:   strings.TrimSpace(event.MerchantID),
		EventID:      strings.TrimSpace(event.EventID),
		Payload:      payload,
		Status:       string(event.Status),
		ErrorMessage: strings.TrimSpace(event.ErrorMessage),
		CreatedAt:    event.CreatedAt.UTC(),
		TTL:          event.TTL,
	}
	if event.ProcessedAt != nil {
		processed := event.ProcessedAt.UTC()
		record.ProcessedAt = &processed
	}
	return record
}

func (r *webhookEventRecord) toDomain() core.WebhookEvent {
	if r == nil {
		return core.WebhookEvent{}
	}
	event := core.WebhookEvent{
		ID:           r.ID,
		EventType:    r.EventType,
		MerchantID:   r.MerchantID,
		EventID:      r.EventID,
		Payload:      append([]byte(nil), r.Payload...),
		Status:       core.WebhookEventStatus(r.Status),
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt.UTC(),
		TTL:          r.TTL,
	}
	if r.ProcessedAt != nil {
		processed := r.ProcessedAt.UTC()
		event.ProcessedAt = &processed
	}
	return event
}
