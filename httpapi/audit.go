package httpapi

import (
	"net/http"
	"strings"

	squarebff "github.com/goliatone/go-square-bff"
	"github.com/goliatone/go-square-bff/core"
	bffquery "github.com/goliatone/go-square-bff/query"
)

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseLimit(query.Get("limit"))
	if err == nil {
		err = validateRequest(listRequest{Limit: limit})
	}
	if err != nil {
		writeError(w, err)
		return
	}
	securityOnly, err := parseBool(query.Get("security"))
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := squarebff.RunQuery(r.Context(), s.facade.Queries().ListAudit.Query, bffquery.ListAuditMessage{
		Filter: core.AuditFilter{
			Action:       strings.TrimSpace(query.Get("action")),
			MerchantID:   strings.TrimSpace(query.Get("merchant_id")),
			SecurityOnly: securityOnly,
			Limit:        limit,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListView(entries, newAuditEntryView))
}
