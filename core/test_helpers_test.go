package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) hasCounter(name string, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.counters {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

type stubLoggerProvider struct {
	logger Logger
}

func (p stubLoggerProvider) GetLogger(string) Logger {
	return p.logger
}

// stubOAuthProvider records calls and returns canned responses.
type stubOAuthProvider struct {
	mu sync.Mutex

	tokens      TokenSet
	exchangeErr error
	identity    MerchantIdentity
	identityErr error
	refreshed   TokenSet
	refreshErr  error
	revokeErr   error

	exchangeCalls []TokenExchangeRequest
	identityCalls int
	refreshCalls  []string
	revokeCalls   []string
}

func newStubOAuthProvider(merchantID string) *stubOAuthProvider {
	return &stubOAuthProvider{
		tokens: TokenSet{
			AccessToken:  "EAAA-access-1",
			RefreshToken: "EQAA-refresh-1",
			TokenType:    "bearer",
			MerchantID:   merchantID,
			ExpiresAt:    time.Date(2026, 11, 15, 0, 0, 0, 0, time.UTC),
		},
		identity: MerchantIdentity{MerchantID: merchantID, BusinessName: "Corner Cafe", Country: "US", Currency: "USD"},
		refreshed: TokenSet{
			AccessToken: "EAAA-access-2",
			TokenType:   "bearer",
			MerchantID:  merchantID,
			ExpiresAt:   time.Date(2026, 12, 15, 0, 0, 0, 0, time.UTC),
		},
	}
}

func (p *stubOAuthProvider) AuthorizationURL(req AuthorizationURLRequest) (string, error) {
	return "https://connect.squareupsandbox.com/oauth2/authorize?state=" + req.State + "&code_challenge=" + req.CodeChallenge, nil
}

func (p *stubOAuthProvider) ExchangeCode(_ context.Context, req TokenExchangeRequest) (TokenSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchangeCalls = append(p.exchangeCalls, req)
	if p.exchangeErr != nil {
		return TokenSet{}, p.exchangeErr
	}
	return p.tokens, nil
}

func (p *stubOAuthProvider) RefreshToken(_ context.Context, refreshToken string) (TokenSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls = append(p.refreshCalls, refreshToken)
	if p.refreshErr != nil {
		return TokenSet{}, p.refreshErr
	}
	return p.refreshed, nil
}

func (p *stubOAuthProvider) FetchIdentity(context.Context, string) (MerchantIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identityCalls++
	if p.identityErr != nil {
		return MerchantIdentity{}, p.identityErr
	}
	return p.identity, nil
}

func (p *stubOAuthProvider) RevokeToken(_ context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokeCalls = append(p.revokeCalls, accessToken)
	return p.revokeErr
}

func (p *stubOAuthProvider) exchangeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.exchangeCalls)
}

type failingCredentialStore struct {
	CredentialStore
	err error
}

func (s failingCredentialStore) Create(context.Context, CredentialInput) (MerchantCredential, error) {
	return MerchantCredential{}, s.err
}

var errStubUpstream = errors.New("upstream unavailable")

type serviceFixture struct {
	service     *Service
	provider    *stubOAuthProvider
	credentials *MemoryCredentialStore
	states      *MemoryPKCEStateStore
	audit       *MemoryAuditSink
	metrics     *captureMetricsRecorder
	logger      *captureLogger
}

func newServiceFixture(t *testing.T, opts ...Option) serviceFixture {
	t.Helper()
	fixture := serviceFixture{
		provider:    newStubOAuthProvider("MLR1234"),
		credentials: NewMemoryCredentialStore(),
		states:      NewMemoryPKCEStateStore(time.Minute),
		audit:       NewMemoryAuditSink(),
		metrics:     &captureMetricsRecorder{},
		logger:      newCaptureLogger(),
	}
	cfg := DefaultConfig()
	cfg.OAuth.RedirectAllowList = []string{"https://app.example/connected"}
	cfg.Session.SigningKey = "test-session-signing-key"

	base := []Option{
		WithOAuthProvider(fixture.provider),
		WithCredentialStore(fixture.credentials),
		WithStateStore(fixture.states),
		WithAuditSink(fixture.audit),
		WithMetricsRecorder(fixture.metrics),
		WithLoggerProvider(stubLoggerProvider{logger: fixture.logger}),
		WithLogger(fixture.logger),
	}
	svc, err := NewService(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	fixture.service = svc
	return fixture
}

func (f serviceFixture) auditEntries(t *testing.T, action string) []AuditEntry {
	t.Helper()
	entries, err := f.audit.ListAudit(context.Background(), AuditFilter{Action: action})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return entries
}
