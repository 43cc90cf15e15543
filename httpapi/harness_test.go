package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	squarebff "github.com/goliatone/go-square-bff"
	"github.com/goliatone/go-square-bff/core"
	"github.com/goliatone/go-square-bff/providers/square"
	"github.com/goliatone/go-square-bff/webhooks"
)

const (
	testAdminToken   = "admin-token"
	testSignatureKey = "webhook-signature-key"
	testMerchantID   = "MLR-MOCK"
	testRedirectURI  = "https://app.example/connected"
)

// mockSquare stands in for the Square OAuth and merchants endpoints.
type mockSquare struct {
	server *httptest.Server

	mu            sync.Mutex
	tokenRequests []map[string]string
	revokeCalls   int
	failToken     bool
	issued        int
}

func newMockSquare(t *testing.T) *mockSquare {
	t.Helper()
	mock := &mockSquare{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", mock.token)
	mux.HandleFunc("/v2/merchants/me", mock.merchant)
	mux.HandleFunc("/oauth2/revoke", mock.revoke)
	mock.server = httptest.NewServer(mux)
	t.Cleanup(mock.server.Close)
	return mock
}

func (m *mockSquare) token(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.tokenRequests = append(m.tokenRequests, body)
	fail := m.failToken
	m.issued++
	issued := m.issued
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"code already used"}`)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "EAAA-mock-" + strconv.Itoa(issued),
		"refresh_token": "EQAA-mock",
		"token_type":    "bearer",
		"expires_at":    time.Now().UTC().Add(30 * 24 * time.Hour).Format(time.RFC3339),
		"merchant_id":   testMerchantID,
	})
}

func (m *mockSquare) merchant(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer EAAA-mock") {
		http.Error(w, `{"errors":[{"code":"UNAUTHORIZED"}]}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"merchant":{"id":"`+testMerchantID+`","business_name":"Mock Shop","country":"US","currency":"USD","status":"ACTIVE"}}`)
}

func (m *mockSquare) revoke(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	m.revokeCalls++
	m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"success":true}`)
}

func (m *mockSquare) lastTokenRequest() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tokenRequests) == 0 {
		return nil
	}
	return m.tokenRequests[len(m.tokenRequests)-1]
}

func (m *mockSquare) setFailToken(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failToken = fail
}

type harness struct {
	t           *testing.T
	handler     http.Handler
	square      *mockSquare
	service     *core.Service
	credentials *core.MemoryCredentialStore
	events      *webhooks.MemoryEventStore
	audit       *core.MemoryAuditSink
	registry    *webhooks.Registry
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	adminToken string
	serverOpts []Option
}

func withoutAdmin() harnessOption {
	return func(cfg *harnessConfig) {
		cfg.adminToken = ""
	}
}

func withServerOptions(opts ...Option) harnessOption {
	return func(cfg *harnessConfig) {
		cfg.serverOpts = append(cfg.serverOpts, opts...)
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	hc := harnessConfig{adminToken: testAdminToken}
	for _, opt := range opts {
		opt(&hc)
	}

	mock := newMockSquare(t)
	provider, err := square.New(square.Config{
		BaseURL:              mock.server.URL,
		ApplicationID:        "sq0idp-test",
		ApplicationSecret:    "sq0csp-test",
		HTTPClient:           mock.server.Client(),
		RetryInitialInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new square provider: %v", err)
	}

	cfg := squarebff.DefaultConfig()
	cfg.OAuth.ApplicationID = "sq0idp-test"
	cfg.OAuth.ApplicationSecret = "sq0csp-test"
	cfg.OAuth.RedirectAllowList = []string{testRedirectURI}
	cfg.Session.SigningKey = "session-signing-key"
	cfg.Webhook.SignatureKey = testSignatureKey

	credentials := core.NewMemoryCredentialStore()
	audit := core.NewMemoryAuditSink()
	service, err := squarebff.NewService(cfg,
		squarebff.WithOAuthProvider(provider),
		squarebff.WithCredentialStore(credentials),
		squarebff.WithAuditSink(audit),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	events := webhooks.NewMemoryEventStore()
	registry := webhooks.NewRegistry()
	observer := core.NewObserver(nil, nil, "bff")
	if err := webhooks.RegisterBuiltins(registry, observer, service); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	engine := webhooks.NewEngine(webhooks.NewHMACVerifier(testSignatureKey), events, registry)
	engine.Security = service
	engine.Observer = observer

	facade, err := squarebff.NewFacade(service, engine)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	server, err := NewServer(facade, Config{
		AdminToken:         hc.adminToken,
		ExpiringSoonWindow: 24 * time.Hour,
	}, hc.serverOpts...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &harness{
		t:           t,
		handler:     server.Routes(),
		square:      mock,
		service:     service,
		credentials: credentials,
		events:      events,
		audit:       audit,
		registry:    registry,
	}
}

func (h *harness) do(method string, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) admin(method string, target string, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.do(method, target, body, map[string]string{"Authorization": "Bearer " + testAdminToken})
}

func (h *harness) deliver(body string) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.do(http.MethodPost, "/webhooks/square", body, map[string]string{
		signatureHeader: webhooks.Sign(testSignatureKey, []byte(body)),
	})
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, textCode string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	envelope := decodeJSON[errorEnvelope](t, rec)
	if envelope.Error.TextCode != textCode {
		t.Fatalf("expected text code %q, got %#v", textCode, envelope.Error)
	}
	if envelope.Error.Code != status {
		t.Fatalf("expected envelope code %d, got %d", status, envelope.Error.Code)
	}
}

var errUnhealthy = errors.New("database unreachable")

func failingHealthCheck(context.Context) error {
	return errUnhealthy
}
