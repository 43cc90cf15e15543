package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-square-bff/core"
)

const DefaultEventTTL = 90 * 24 * time.Hour

// Result is the acknowledgment decision for one delivery.
type Result struct {
	Accepted   bool
	StatusCode int
	EventID    string
	EventType  string
	RecordID   string
	Status     core.WebhookEventStatus
}

// SecurityRecorder receives rejected deliveries for the audit trail.
type SecurityRecorder interface {
	RecordSecurityEvent(ctx context.Context, action string, cause error, metadata map[string]any)
}

type Engine struct {
	Verifier Verifier
	Store    core.WebhookEventStore
	Registry *Registry
	Security SecurityRecorder
	Observer *core.Observer
	// ReplayWindow rejects envelopes whose created_at is older; zero disables.
	ReplayWindow time.Duration
	EventTTL     time.Duration
	Now          func() time.Time
	NewID        func(now time.Time) string
}

func NewEngine(verifier Verifier, store core.WebhookEventStore, registry *Registry) *Engine {
	return &Engine{
		Verifier: verifier,
		Store:    store,
		Registry: registry,
		EventTTL: DefaultEventTTL,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		NewID: NewEventRecordID,
	}
}

// Receive verifies, stores, and dispatches one delivery. A handler failure
// is returned as an error on an accepted result: the record is already
// marked failed and the sender must not redeliver.
func (e *Engine) Receive(ctx context.Context, body []byte, signature string) (result Result, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["status_code"] = result.StatusCode
		if result.RecordID != "" {
			fields["record_id"] = result.RecordID
		}
		e.observer().Observe(ctx, startedAt, "webhook_receive", err, fields)
	}()

	if e == nil || e.Store == nil || e.Verifier == nil {
		err = core.InternalError(fmt.Errorf("webhooks: engine requires verifier and store"), "webhook engine is not configured")
		return Result{StatusCode: http.StatusInternalServerError}, err
	}

	if verifyErr := e.Verifier.Verify(body, signature); verifyErr != nil {
		err = core.SignatureInvalidError(verifyErr)
		e.recordSecurity(ctx, err, map[string]any{
			"signature_present": strings.TrimSpace(signature) != "",
			"body_bytes":        len(body),
		})
		return Result{StatusCode: http.StatusUnauthorized}, err
	}

	envelope, parseErr := ParseEnvelope(body)
	if parseErr != nil {
		err = parseErr
		return Result{StatusCode: http.StatusBadRequest}, err
	}
	fields["event_type"] = envelope.Type
	fields["event_id"] = envelope.EventID
	fields["merchant_id"] = envelope.MerchantID
	result = Result{EventID: envelope.EventID, EventType: envelope.Type}

	now := e.now()
	if e.ReplayWindow > 0 && !envelope.CreatedAt.IsZero() && now.Sub(envelope.CreatedAt) > e.ReplayWindow {
		err = core.InvalidRequestError("webhook event is outside the replay window", map[string]any{
			"event_id":   envelope.EventID,
			"created_at": envelope.CreatedAt.Format(time.RFC3339),
		})
		e.recordSecurity(ctx, err, map[string]any{"event_id": envelope.EventID, "event_type": envelope.Type})
		result.StatusCode = http.StatusBadRequest
		return result, err
	}

	record, insertErr := e.Store.Insert(ctx, core.WebhookEvent{
		ID:         e.newID(now),
		EventType:  envelope.Type,
		MerchantID: envelope.MerchantID,
		EventID:    envelope.EventID,
		Payload:    append([]byte(nil), body...),
		Status:     core.WebhookEventStatusPending,
		CreatedAt:  now,
		TTL:        now.Add(e.eventTTL()).Unix(),
	})
	if insertErr != nil {
		err = core.InternalError(insertErr, "store webhook event failed")
		result.StatusCode = http.StatusInternalServerError
		return result, err
	}
	result.RecordID = record.ID
	result.Accepted = true
	result.StatusCode = http.StatusOK
	result.Status = core.WebhookEventStatusPending

	handler, ok := e.Registry.Lookup(envelope.Type)
	if !ok {
		e.observer().Log(ctx, "info", "no handler registered for webhook event", map[string]any{
			"event_type": envelope.Type,
			"event_id":   envelope.EventID,
		})
		result.Status = e.finish(ctx, record, core.WebhookEventStatusProcessed, "")
		return result, nil
	}

	if handleErr := e.dispatch(ctx, handler, Event{Envelope: envelope, RecordID: record.ID}); handleErr != nil {
		err = core.HandlerFailureError(handleErr, envelope.Type)
		result.Status = e.finish(ctx, record, core.WebhookEventStatusFailed, handleErr.Error())
		return result, err
	}
	result.Status = e.finish(ctx, record, core.WebhookEventStatusProcessed, "")
	return result, nil
}

func (e *Engine) dispatch(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("webhooks: handler panic: %v", recovered)
		}
	}()
	return handler.Handle(ctx, event)
}

// finish moves the record just inserted to its terminal status. Failures are
// logged and swallowed.
func (e *Engine) finish(ctx context.Context, record core.WebhookEvent, status core.WebhookEventStatus, errorMessage string) core.WebhookEventStatus {
	if updated, ok := e.applyStatus(ctx, record, status, errorMessage); ok {
		return updated.Status
	}
	return record.Status
}

// UpdateStatusByEventID sets the status of the most recent record for
// eventID. The index is consulted first and a full scan is the fallback.
// It never returns an error; the boolean reports whether a record was
// resolved and left in the requested status.
func (e *Engine) UpdateStatusByEventID(
	ctx context.Context,
	eventID string,
	status core.WebhookEventStatus,
	errorMessage string,
) (core.WebhookEvent, bool) {
	eventID = strings.TrimSpace(eventID)
	if e == nil || e.Store == nil || eventID == "" || !status.Valid() {
		e.observer().Log(ctx, "warn", "webhook status update skipped", map[string]any{
			"event_id": eventID,
			"status":   string(status),
		})
		return core.WebhookEvent{}, false
	}
	record, found := e.resolve(ctx, eventID)
	if !found {
		e.observer().Log(ctx, "warn", "webhook status update found no record", map[string]any{
			"event_id": eventID,
		})
		return core.WebhookEvent{}, false
	}
	return e.applyStatus(ctx, record, status, errorMessage)
}

// FindByEventID returns the most recent record for eventID.
func (e *Engine) FindByEventID(ctx context.Context, eventID string) (core.WebhookEvent, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.WebhookEvent{}, core.InvalidRequestError("event id is required", nil)
	}
	if e == nil || e.Store == nil {
		return core.WebhookEvent{}, core.InternalError(fmt.Errorf("webhooks: store is not configured"), "webhook engine is not configured")
	}
	record, found := e.resolve(ctx, eventID)
	if !found {
		return core.WebhookEvent{}, core.NotFoundError("webhook event", eventID)
	}
	return record, nil
}

func (e *Engine) resolve(ctx context.Context, eventID string) (core.WebhookEvent, bool) {
	record, found, err := e.Store.FindLatestByEventID(ctx, eventID)
	if err != nil {
		e.observer().Log(ctx, "warn", "webhook index lookup failed", map[string]any{
			"event_id": eventID,
			"error":    err.Error(),
		})
	}
	if err == nil && found {
		return record, true
	}

	records, scanErr := e.Store.ScanByEventID(ctx, eventID)
	if scanErr != nil {
		e.observer().Log(ctx, "error", "webhook scan lookup failed", map[string]any{
			"event_id": eventID,
			"error":    scanErr.Error(),
		})
		return core.WebhookEvent{}, false
	}
	return LatestEvent(records)
}

func (e *Engine) applyStatus(
	ctx context.Context,
	record core.WebhookEvent,
	status core.WebhookEventStatus,
	errorMessage string,
) (core.WebhookEvent, bool) {
	errorMessage = strings.TrimSpace(errorMessage)
	if record.Status == status && record.ErrorMessage == errorMessage {
		return record, true
	}
	var processedAt *time.Time
	if status != core.WebhookEventStatusPending {
		now := e.now()
		processedAt = &now
	}
	if err := e.Store.UpdateStatus(ctx, record.ID, status, errorMessage, processedAt); err != nil {
		e.observer().Log(ctx, "error", "webhook status update failed", map[string]any{
			"record_id": record.ID,
			"event_id":  record.EventID,
			"status":    string(status),
			"error":     err.Error(),
		})
		return record, false
	}
	record.Status = status
	record.ErrorMessage = errorMessage
	record.ProcessedAt = processedAt
	return record, true
}

func (e *Engine) recordSecurity(ctx context.Context, cause error, metadata map[string]any) {
	if e == nil || e.Security == nil {
		return
	}
	e.Security.RecordSecurityEvent(ctx, core.AuditActionWebhookRejected, cause, metadata)
}

func (e *Engine) observer() *core.Observer {
	if e == nil {
		return nil
	}
	return e.Observer
}

func (e *Engine) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) newID(now time.Time) string {
	if e != nil && e.NewID != nil {
		return e.NewID(now)
	}
	return NewEventRecordID(now)
}

func (e *Engine) eventTTL() time.Duration {
	if e != nil && e.EventTTL > 0 {
		return e.EventTTL
	}
	return DefaultEventTTL
}

// NewEventRecordID returns webhook-<unix millis>-<random hex>.
func NewEventRecordID(now time.Time) string {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Sprintf("webhook-%d-%d", now.UnixMilli(), time.Now().UnixNano())
	}
	return fmt.Sprintf("webhook-%d-%s", now.UnixMilli(), hex.EncodeToString(raw))
}

// LatestEvent picks the newest record, breaking ties on id.
func LatestEvent(records []core.WebhookEvent) (core.WebhookEvent, bool) {
	if len(records) == 0 {
		return core.WebhookEvent{}, false
	}
	latest := records[0]
	for _, record := range records[1:] {
		if record.CreatedAt.After(latest.CreatedAt) ||
			(record.CreatedAt.Equal(latest.CreatedAt) && record.ID > latest.ID) {
			latest = record
		}
	}
	return latest, true
}
