package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-square-bff/core"
)

type errorBody struct {
	Category string         `json:"category"`
	Code     int            `json:"code"`
	TextCode string         `json:"text_code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err as the error envelope. Internal errors never expose
// their source message.
func writeError(w http.ResponseWriter, err error) {
	mapped := core.ServiceErrorMapper(err)
	if mapped == nil {
		mapped = core.ServiceErrorMapper(core.InternalError(nil, ""))
	}
	writeJSON(w, statusFor(mapped), errorEnvelope{Error: envelopeBody(mapped)})
}

func envelopeBody(err *goerrors.Error) errorBody {
	status := statusFor(err)
	body := errorBody{
		Category: string(err.Category),
		Code:     status,
		TextCode: err.TextCode,
		Message:  strings.TrimSpace(err.Message),
	}
	if status >= http.StatusInternalServerError && err.TextCode == core.ErrorInternal {
		body.Message = "An unexpected error occurred"
	}
	if len(err.Metadata) > 0 {
		body.Metadata = core.RedactSensitiveMap(err.Metadata)
	}
	return body
}

func statusFor(err *goerrors.Error) int {
	if err == nil || err.Code < 400 || err.Code > 599 {
		return http.StatusInternalServerError
	}
	return err.Code
}
