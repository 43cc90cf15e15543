package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goliatone/go-square-bff/core"
	"github.com/tidwall/gjson"
)

// Envelope is the outer shape shared by every Square notification.
type Envelope struct {
	Type       string `validate:"required,max=128"`
	EventID    string `validate:"required,max=256"`
	MerchantID string `validate:"omitempty,max=128"`
	Data       json.RawMessage
	CreatedAt  time.Time
}

// Event is what handlers receive: the parsed envelope plus the stored
// record id.
type Event struct {
	Envelope
	RecordID string
}

var envelopeValidator = validator.New(validator.WithRequiredStructEnabled())

// ParseEnvelope reads the envelope fields. The event type may arrive as
// either "type" or "event_type".
func ParseEnvelope(body []byte) (Envelope, error) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return Envelope{}, core.InvalidRequestError("webhook body is not valid json", nil)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Envelope{}, core.InvalidRequestError("webhook body must be a json object", nil)
	}

	envelope := Envelope{
		Type:       firstString(root, "type", "event_type"),
		EventID:    strings.TrimSpace(root.Get("event_id").String()),
		MerchantID: strings.TrimSpace(root.Get("merchant_id").String()),
	}
	if data := root.Get("data"); data.Exists() && data.Type != gjson.Null {
		if !data.IsObject() {
			return Envelope{}, core.InvalidRequestError("webhook data must be a json object", map[string]any{
				"field": "data",
			})
		}
		envelope.Data = json.RawMessage(data.Raw)
	}
	if created := strings.TrimSpace(root.Get("created_at").String()); created != "" {
		parsed, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return Envelope{}, core.InvalidRequestError("webhook created_at is malformed", map[string]any{
				"field": "created_at",
			})
		}
		envelope.CreatedAt = parsed.UTC()
	}

	if err := envelopeValidator.Struct(envelope); err != nil {
		return Envelope{}, core.InvalidRequestError("webhook envelope is incomplete", map[string]any{
			"fields": validationFields(err),
		})
	}
	return envelope, nil
}

func firstString(root gjson.Result, paths ...string) string {
	for _, path := range paths {
		if value := strings.TrimSpace(root.Get(path).String()); value != "" {
			return value
		}
	}
	return ""
}

func validationFields(err error) []string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		out = append(out, fmt.Sprintf("%s:%s", fieldErr.Field(), fieldErr.Tag()))
	}
	return out
}
