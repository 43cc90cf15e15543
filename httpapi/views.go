package httpapi

import (
	"encoding/json"
	"time"

	"github.com/goliatone/go-square-bff/core"
	"github.com/goliatone/go-square-bff/webhooks"
)

type initiateView struct {
	URL           string    `json:"url"`
	State         string    `json:"state"`
	CodeChallenge string    `json:"code_challenge"`
	Scopes        []string  `json:"scopes"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type sessionView struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type callbackView struct {
	MerchantID string         `json:"merchant_id"`
	FlowState  string         `json:"flow_state"`
	Session    sessionView    `json:"session"`
	Credential credentialView `json:"credential"`
}

// credentialView never carries token values.
type credentialView struct {
	MerchantID     string     `json:"merchant_id"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	TTL            int64      `json:"ttl"`
	Refreshable    bool       `json:"refreshable"`
	IsExpired      bool       `json:"is_expired"`
	IsExpiringSoon bool       `json:"is_expiring_soon"`
}

func newCredentialView(status core.CredentialStatus) credentialView {
	view := credentialView{
		MerchantID:     status.MerchantID,
		CreatedAt:      status.CreatedAt,
		UpdatedAt:      status.UpdatedAt,
		TTL:            status.TTL,
		Refreshable:    status.Refreshable,
		IsExpired:      status.IsExpired,
		IsExpiringSoon: status.IsExpiringSoon,
	}
	if !status.ExpiresAt.IsZero() {
		expiresAt := status.ExpiresAt
		view.ExpiresAt = &expiresAt
	}
	return view
}

type receiveView struct {
	Accepted  bool   `json:"accepted"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	RecordID  string `json:"record_id"`
	Status    string `json:"status"`
	// Error is set when the handler failed after the delivery was accepted.
	Error string `json:"error,omitempty"`
}

func newReceiveView(result webhooks.Result, err error) receiveView {
	view := receiveView{
		Accepted:  result.Accepted,
		EventID:   result.EventID,
		EventType: result.EventType,
		RecordID:  result.RecordID,
		Status:    string(result.Status),
	}
	if err != nil {
		view.Error = core.ServiceErrorMapper(err).TextCode
	}
	return view
}

type webhookEventView struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	MerchantID   string          `json:"merchant_id"`
	EventID      string          `json:"event_id"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	TTL          int64           `json:"ttl"`
}

func newWebhookEventView(event core.WebhookEvent) webhookEventView {
	view := webhookEventView{
		ID:           event.ID,
		EventType:    event.EventType,
		MerchantID:   event.MerchantID,
		EventID:      event.EventID,
		Status:       string(event.Status),
		ErrorMessage: event.ErrorMessage,
		CreatedAt:    event.CreatedAt,
		ProcessedAt:  event.ProcessedAt,
		TTL:          event.TTL,
	}
	if json.Valid(event.Payload) {
		view.Payload = json.RawMessage(event.Payload)
	}
	return view
}

type statusUpdateView struct {
	Updated bool              `json:"updated"`
	Event   *webhookEventView `json:"event,omitempty"`
}

type auditEntryView struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Outcome    string         `json:"outcome"`
	Security   bool           `json:"security"`
	FlowState  string         `json:"flow_state,omitempty"`
	MerchantID string         `json:"merchant_id,omitempty"`
	StateHash  string         `json:"state_hash,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func newAuditEntryView(entry core.AuditEntry) auditEntryView {
	return auditEntryView{
		ID:         entry.ID,
		Action:     entry.Action,
		Outcome:    string(entry.Outcome),
		Security:   entry.Security,
		FlowState:  string(entry.FlowState),
		MerchantID: entry.MerchantID,
		StateHash:  entry.StateHash,
		ErrorCode:  entry.ErrorCode,
		Detail:     entry.Detail,
		Metadata:   entry.Metadata,
		CreatedAt:  entry.CreatedAt,
	}
}

type listView[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newListView[S any, T any](items []S, convert func(S) T) listView[T] {
	out := make([]T, 0, len(items))
	for _, item := range items {
		out = append(out, convert(item))
	}
	return listView[T]{Items: out, Count: len(out)}
}
