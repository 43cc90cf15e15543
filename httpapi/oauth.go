package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	squarebff "github.com/goliatone/go-square-bff"
	bffcommand "github.com/goliatone/go-square-bff/command"
	"github.com/goliatone/go-square-bff/core"
)

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := authorizeRequest{
		Scopes:      core.ParseScopeList(query["scope"]...),
		RedirectURI: strings.TrimSpace(query.Get("redirect_uri")),
		Mode:        strings.ToLower(strings.TrimSpace(query.Get("mode"))),
	}
	if err := validateRequest(req); err != nil {
		writeError(w, err)
		return
	}

	out, err := squarebff.ExecuteWithResult[core.InitiateResponse](
		r.Context(),
		s.facade.Commands().InitiateAuthorization.Execute,
		bffcommand.InitiateAuthorizationMessage{Request: core.InitiateRequest{
			Scopes:      req.Scopes,
			RedirectURI: req.RedirectURI,
		}},
	)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Mode == modeRedirect {
		http.Redirect(w, r, out.URL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, initiateView{
		URL:           out.URL,
		State:         out.State,
		CodeChallenge: out.CodeChallenge,
		Scopes:        out.Scopes,
		ExpiresAt:     out.ExpiresAt,
	})
}

// callback answers with JSON, or redirects to the redirect URI the pending
// authorization carried.
func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	outcome, err := squarebff.ExecuteWithResult[bffcommand.CallbackOutcome](
		r.Context(),
		s.facade.Commands().CompleteCallback.Execute,
		bffcommand.CompleteCallbackMessage{Request: core.CallbackRequest{
			Code:             query.Get("code"),
			State:            query.Get("state"),
			CodeVerifier:     query.Get("code_verifier"),
			Error:            query.Get("error"),
			ErrorDescription: query.Get("error_description"),
		}},
	)
	result := outcome.Result

	if redirect := strings.TrimSpace(result.RedirectURI); redirect != "" {
		target, buildErr := callbackRedirect(redirect, result, err)
		if buildErr == nil {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		s.logger.Error("build callback redirect failed", "error", buildErr.Error())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callbackView{
		MerchantID: result.Credential.MerchantID,
		FlowState:  string(result.FlowState),
		Session: sessionView{
			Token:     result.Session.Token,
			ExpiresAt: result.Session.ExpiresAt,
		},
		Credential: newCredentialView(core.ResolveCredentialStatus(s.now(), result.Credential, s.cfg.ExpiringSoonWindow)),
	})
}

func callbackRedirect(base string, result core.CallbackResult, err error) (string, error) {
	target, parseErr := url.Parse(base)
	if parseErr != nil {
		return "", parseErr
	}
	values := target.Query()
	values.Set("success", strconv.FormatBool(err == nil))
	if err != nil {
		values.Set("error", core.ServiceErrorMapper(err).TextCode)
	} else {
		values.Set("merchant_id", result.Credential.MerchantID)
		// Fragments are not sent to servers or written to access logs.
		target.Fragment = url.Values{"session_token": {result.Session.Token}}.Encode()
	}
	target.RawQuery = values.Encode()
	return target.String(), nil
}

func (s *Server) refreshCredential(w http.ResponseWriter, r *http.Request) {
	credential, err := squarebff.ExecuteWithResult[core.MerchantCredential](
		r.Context(),
		s.facade.Commands().RefreshCredential.Execute,
		bffcommand.RefreshCredentialMessage{MerchantID: chi.URLParam(r, "merchantID")},
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCredentialView(core.ResolveCredentialStatus(s.now(), credential, s.cfg.ExpiringSoonWindow)))
}
