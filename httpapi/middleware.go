package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-square-bff/core"
)

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(startedAt).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("http request", args...)
			return
		}
		s.logger.Debug("http request", args...)
	})
}

// requireAdmin accepts "Authorization: Bearer <admin token>".
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	expected := []byte(s.cfg.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), expected) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="square-bff-admin"`)
			writeError(w, unauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorizedError() error {
	return core.NewServiceError("admin token is missing or invalid", goerrors.CategoryAuth, core.ErrorUnauthorized, nil)
}
