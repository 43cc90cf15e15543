package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	squarebff "github.com/goliatone/go-square-bff"
	bffcommand "github.com/goliatone/go-square-bff/command"
	"github.com/goliatone/go-square-bff/core"
	bffquery "github.com/goliatone/go-square-bff/query"
)

const signatureHeader = "X-Signature"

// receiveWebhook verifies the signature over the exact raw body. Accepted
// deliveries answer 200 even when the handler failed, so Square does not
// redeliver an event that is already recorded as failed.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, core.InvalidRequestError("webhook body is too large", map[string]any{"limit_bytes": tooLarge.Limit}))
			return
		}
		writeError(w, core.InvalidRequestError("read webhook body failed", nil))
		return
	}

	outcome, err := squarebff.ExecuteWithResult[bffcommand.ReceiveOutcome](
		r.Context(),
		s.facade.Commands().ReceiveWebhook.Execute,
		bffcommand.ReceiveWebhookMessage{Body: body, Signature: r.Header.Get(signatureHeader)},
	)
	result := outcome.Result
	if result.Accepted {
		writeJSON(w, http.StatusOK, newReceiveView(result, err))
		return
	}
	if err == nil {
		err = core.InternalError(nil, "webhook delivery was not accepted")
	}
	writeError(w, err)
}

func (s *Server) getWebhookEvent(w http.ResponseWriter, r *http.Request) {
	event, err := squarebff.RunQuery(r.Context(), s.facade.Queries().GetWebhookEvent.Query, bffquery.GetWebhookEventMessage{
		EventID: chi.URLParam(r, "eventID"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newWebhookEventView(event))
}

// updateWebhookStatus always answers 200 once the request is valid; the
// updated flag reports whether a record was found.
func (s *Server) updateWebhookStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, core.InvalidRequestError("malformed status update body", nil))
		return
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if err := validateRequest(req); err != nil {
		writeError(w, err)
		return
	}

	update, err := squarebff.ExecuteWithResult[bffcommand.WebhookStatusUpdate](
		r.Context(),
		s.facade.Commands().UpdateWebhookStatus.Execute,
		bffcommand.UpdateWebhookStatusMessage{
			EventID:      chi.URLParam(r, "eventID"),
			Status:       core.WebhookEventStatus(req.Status),
			ErrorMessage: req.ErrorMessage,
		},
	)
	if err != nil {
		writeError(w, err)
		return
	}
	view := statusUpdateView{Updated: update.Updated}
	if update.Updated {
		event := newWebhookEventView(update.Event)
		view.Event = &event
	}
	writeJSON(w, http.StatusOK, view)
}
