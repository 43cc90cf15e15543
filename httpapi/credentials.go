package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	squarebff "github.com/goliatone/go-square-bff"
	bffcommand "github.com/goliatone/go-square-bff/command"
	bffquery "github.com/goliatone/go-square-bff/query"
)

func (s *Server) listCredentials(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err == nil {
		err = validateRequest(listRequest{Limit: limit})
	}
	if err != nil {
		writeError(w, err)
		return
	}
	statuses, err := squarebff.RunQuery(r.Context(), s.facade.Queries().ListCredentialStatuses.Query, bffquery.ListCredentialStatusesMessage{Limit: limit})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListView(statuses, newCredentialView))
}

func (s *Server) getCredential(w http.ResponseWriter, r *http.Request) {
	status, err := squarebff.RunQuery(r.Context(), s.facade.Queries().GetCredentialStatus.Query, bffquery.GetCredentialStatusMessage{
		MerchantID: chi.URLParam(r, "merchantID"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCredentialView(status))
}

// revokeCredential is idempotent: an unknown merchant still yields 204.
func (s *Server) revokeCredential(w http.ResponseWriter, r *http.Request) {
	err := squarebff.Execute(r.Context(), s.facade.Commands().RevokeCredential.Execute, bffcommand.RevokeCredentialMessage{
		MerchantID: chi.URLParam(r, "merchantID"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
