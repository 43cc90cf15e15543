package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	AuditActionOAuthCallback   = "oauth.callback"
	AuditActionOAuthRefresh    = "oauth.refresh"
	AuditActionOAuthRevoke     = "oauth.revoke"
	AuditActionOAuthRevokedExt = "oauth.authorization_revoked"
	AuditActionWebhookRejected = "webhook.rejected"
)

type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	observer        *Observer
	stateStore      PKCEStateStore
	credentialStore CredentialStore
	provider        OAuthProvider
	auditSink       AuditSink
	sessionIssuer   SessionIssuer
	now             func() time.Time
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	StateStore      PKCEStateStore
	CredentialStore CredentialStore
	OAuthProvider   OAuthProvider
	AuditSink       AuditSink
	SessionIssuer   SessionIssuer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("square-bff", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("square-bff.oauth"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = ServiceErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.stateStore == nil {
		builder.stateStore = NewMemoryPKCEStateStore(finalConfig.OAuth.StateTTL)
	}
	if builder.credentialStore == nil {
		builder.credentialStore = NewMemoryCredentialStore()
	}
	if builder.auditSink == nil {
		builder.auditSink = NewMemoryAuditSink()
	}
	if builder.sessionIssuer == nil && strings.TrimSpace(finalConfig.Session.SigningKey) != "" {
		issuer, issuerErr := NewJWTSessionIssuer(
			finalConfig.Session.SigningKey,
			finalConfig.Session.TTL,
			finalConfig.Session.Issuer,
		)
		if issuerErr != nil {
			return nil, mapBuildError(builder.errorMapper, issuerErr)
		}
		builder.sessionIssuer = issuer
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		observer:        NewObserver(logger, builder.metricsRecorder, "bff"),
		stateStore:      builder.stateStore,
		credentialStore: builder.credentialStore,
		provider:        builder.provider,
		auditSink:       builder.auditSink,
		sessionIssuer:   builder.sessionIssuer,
		now:             builder.now,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		StateStore:      s.stateStore,
		CredentialStore: s.credentialStore,
		OAuthProvider:   s.provider,
		AuditSink:       s.auditSink,
		SessionIssuer:   s.sessionIssuer,
	}
}

// Initiate starts an authorization attempt and returns the provider URL the
// client must visit.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (response InitiateResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"redirect_uri": strings.TrimSpace(req.RedirectURI),
		"flow_state":   string(FlowStateInitiated),
	}
	defer func() {
		s.observer.Observe(ctx, startedAt, "oauth_initiate", err, fields)
	}()

	if s.provider == nil {
		err = InternalError(fmt.Errorf("core: oauth provider is not configured"), "oauth provider is not configured")
		return InitiateResponse{}, err
	}
	scopes, err := ResolveScopes(req.Scopes, s.config.OAuth.DefaultScopes)
	if err != nil {
		err = s.mapError(err)
		return InitiateResponse{}, err
	}
	if !s.config.RedirectAllowed(req.RedirectURI) {
		err = InvalidRequestError("redirect uri is not allowed", map[string]any{
			"redirect_uri": strings.TrimSpace(req.RedirectURI),
		})
		return InitiateResponse{}, err
	}

	pending, err := s.savePendingAuthorization(ctx, req.RedirectURI, scopes)
	if err != nil {
		err = s.mapError(err)
		return InitiateResponse{}, err
	}
	fields["state_hash"] = HashState(pending.State)

	authURL, err := s.provider.AuthorizationURL(AuthorizationURLRequest{
		State:         pending.State,
		Scopes:        scopes,
		CodeChallenge: pending.CodeChallenge,
		RedirectURI:   pending.RedirectURI,
	})
	if err != nil {
		err = s.mapError(err)
		return InitiateResponse{}, err
	}

	return InitiateResponse{
		URL:           authURL,
		State:         pending.State,
		CodeChallenge: pending.CodeChallenge,
		Scopes:        append([]string(nil), scopes...),
		ExpiresAt:     pending.ExpiresAt,
	}, nil
}

func (s *Service) savePendingAuthorization(ctx context.Context, redirectURI string, scopes []string) (PendingAuthorization, error) {
	var lastErr error
	// A colliding state is never overwritten; generate a new one instead.
	for attempt := 0; attempt < 2; attempt++ {
		pending, err := NewPendingAuthorization(s.now(), s.config.OAuth.StateTTL, redirectURI, scopes)
		if err != nil {
			return PendingAuthorization{}, err
		}
		err = s.stateStore.Save(ctx, pending)
		if err == nil {
			return pending, nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return PendingAuthorization{}, InternalError(err, "store oauth state failed")
		}
		lastErr = err
	}
	return PendingAuthorization{}, InternalError(lastErr, "store oauth state failed")
}

// HandleCallback redeems the authorization code. Every call consumes at most
// one pending authorization and records exactly one audit entry.
func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) (result CallbackResult, err error) {
	startedAt := time.Now().UTC()
	flow := FlowStateInitiated
	security := false
	merchantID := ""
	redirectURI := ""
	stateHash := HashState(req.State)
	fields := map[string]any{
		"state_hash": stateHash,
	}
	defer func() {
		if err != nil {
			flow = FlowStateFailed
		}
		fields["flow_state"] = string(flow)
		if merchantID != "" {
			fields["merchant_id"] = merchantID
		}
		s.observer.Observe(ctx, startedAt, "oauth_callback", err, fields)
		s.recordAudit(ctx, s.auditEntry(AuditActionOAuthCallback, flow, security, merchantID, stateHash, err))
		result.FlowState = flow
		result.RedirectURI = redirectURI
	}()

	if providerErr := strings.TrimSpace(req.Error); providerErr != "" {
		err = ProviderDeniedError(providerErr, req.ErrorDescription)
		return CallbackResult{}, err
	}

	code := strings.TrimSpace(req.Code)
	state := strings.TrimSpace(req.State)
	if code == "" || state == "" {
		missing := []string{}
		if code == "" {
			missing = append(missing, "code")
		}
		if state == "" {
			missing = append(missing, "state")
		}
		err = InvalidRequestError("missing required callback parameter", map[string]any{
			"missing": missing,
		})
		return CallbackResult{}, err
	}
	if s.provider == nil {
		err = InternalError(fmt.Errorf("core: oauth provider is not configured"), "oauth provider is not configured")
		return CallbackResult{}, err
	}

	pending, consumeErr := s.stateStore.Consume(ctx, state)
	if consumeErr != nil {
		if errors.Is(consumeErr, ErrStateNotFound) || errors.Is(consumeErr, ErrStateExpired) {
			security = true
			err = InvalidStateError(consumeErr)
			return CallbackResult{}, err
		}
		err = InternalError(consumeErr, "consume oauth state failed")
		return CallbackResult{}, err
	}
	redirectURI = pending.RedirectURI

	supplied := strings.TrimSpace(req.CodeVerifier)
	if supplied != "" && pending.CodeVerifier != "" &&
		subtle.ConstantTimeCompare([]byte(supplied), []byte(pending.CodeVerifier)) != 1 {
		security = true
		err = PKCEMismatchError()
		return CallbackResult{}, err
	}
	verifier := pending.CodeVerifier
	if verifier == "" {
		verifier = supplied
	}
	flow = FlowStateAuthorized

	tokens, exchangeErr := s.provider.ExchangeCode(ctx, TokenExchangeRequest{
		Code:         code,
		RedirectURI:  pending.RedirectURI,
		CodeVerifier: verifier,
	})
	if exchangeErr != nil {
		err = ExchangeFailedError(exchangeErr)
		return CallbackResult{}, err
	}
	flow = FlowStateTokenObtained

	identity, identityErr := s.provider.FetchIdentity(ctx, tokens.AccessToken)
	if identityErr != nil {
		// The token is discarded; the caller restarts the flow.
		err = IdentityFetchFailedError(identityErr, map[string]any{"token_obtained": true})
		return CallbackResult{}, err
	}
	merchantID = strings.TrimSpace(identity.MerchantID)
	if merchantID == "" {
		err = IdentityFetchFailedError(fmt.Errorf("core: identity response missing merchant id"), map[string]any{"token_obtained": true})
		return CallbackResult{}, err
	}
	if tokens.MerchantID != "" && tokens.MerchantID != merchantID {
		err = IdentityFetchFailedError(fmt.Errorf("core: token merchant %q does not match identity merchant %q", tokens.MerchantID, merchantID), map[string]any{
			"token_obtained": true,
		})
		return CallbackResult{}, err
	}

	credential, persistErr := s.persistCredential(ctx, CredentialInput{
		MerchantID:   merchantID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	})
	if persistErr != nil {
		err = s.mapError(persistErr)
		return CallbackResult{}, err
	}
	flow = FlowStatePersisted

	session, sessionErr := s.issueSession(ctx, merchantID)
	if sessionErr != nil {
		err = InternalError(sessionErr, "issue session failed")
		return CallbackResult{}, err
	}

	return CallbackResult{
		Credential: credential,
		Session:    session,
	}, nil
}

// persistCredential creates the merchant credential, or rewrites the token
// triple when the merchant is already known.
func (s *Service) persistCredential(ctx context.Context, in CredentialInput) (MerchantCredential, error) {
	created, err := s.credentialStore.Create(ctx, in)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		return MerchantCredential{}, err
	}
	updated, err := s.credentialStore.Update(ctx, in)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return MerchantCredential{}, err
	}
	// Deleted between the two writes.
	return s.credentialStore.Create(ctx, in)
}

func (s *Service) issueSession(ctx context.Context, merchantID string) (Session, error) {
	if s.sessionIssuer == nil {
		return Session{MerchantID: merchantID}, nil
	}
	return s.sessionIssuer.Issue(ctx, merchantID)
}

// RefreshCredential exchanges the stored refresh token and rewrites the
// token triple in one update.
func (s *Service) RefreshCredential(ctx context.Context, merchantID string) (credential MerchantCredential, err error) {
	startedAt := time.Now().UTC()
	merchantID = strings.TrimSpace(merchantID)
	fields := map[string]any{"merchant_id": merchantID}
	defer func() {
		s.observer.Observe(ctx, startedAt, "oauth_refresh", err, fields)
		flow := FlowStatePersisted
		if err != nil {
			flow = FlowStateFailed
		}
		s.recordAudit(ctx, s.auditEntry(AuditActionOAuthRefresh, flow, false, merchantID, "", err))
	}()

	if merchantID == "" {
		err = InvalidRequestError("merchant id is required", nil)
		return MerchantCredential{}, err
	}
	if s.provider == nil {
		err = InternalError(fmt.Errorf("core: oauth provider is not configured"), "oauth provider is not configured")
		return MerchantCredential{}, err
	}
	current, err := s.credentialStore.Get(ctx, merchantID)
	if err != nil {
		err = s.mapError(err)
		return MerchantCredential{}, err
	}
	if strings.TrimSpace(current.RefreshToken) == "" {
		err = InvalidRequestError("credential has no refresh token", map[string]any{"merchant_id": merchantID})
		return MerchantCredential{}, err
	}

	tokens, refreshErr := s.provider.RefreshToken(ctx, current.RefreshToken)
	if refreshErr != nil {
		err = ExchangeFailedError(refreshErr)
		return MerchantCredential{}, err
	}
	refreshToken := tokens.RefreshToken
	if strings.TrimSpace(refreshToken) == "" {
		refreshToken = current.RefreshToken
	}
	credential, err = s.credentialStore.Update(ctx, CredentialInput{
		MerchantID:   merchantID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	})
	if err != nil {
		err = s.mapError(err)
		return MerchantCredential{}, err
	}
	return credential, nil
}

// RevokeCredential revokes the access token upstream, best effort, and
// deletes the local record. Unknown merchants are not an error.
func (s *Service) RevokeCredential(ctx context.Context, merchantID string) (err error) {
	startedAt := time.Now().UTC()
	merchantID = strings.TrimSpace(merchantID)
	fields := map[string]any{"merchant_id": merchantID}
	defer func() {
		s.observer.Observe(ctx, startedAt, "oauth_revoke", err, fields)
		flow := FlowStatePersisted
		if err != nil {
			flow = FlowStateFailed
		}
		s.recordAudit(ctx, s.auditEntry(AuditActionOAuthRevoke, flow, false, merchantID, "", err))
	}()

	if merchantID == "" {
		err = InvalidRequestError("merchant id is required", nil)
		return err
	}
	current, getErr := s.credentialStore.Get(ctx, merchantID)
	switch {
	case getErr == nil:
		if s.provider != nil {
			if revokeErr := s.provider.RevokeToken(ctx, current.AccessToken); revokeErr != nil {
				fields["upstream_revoke_error"] = revokeErr.Error()
				s.observer.Log(ctx, "warn", "upstream token revoke failed", map[string]any{
					"merchant_id": merchantID,
					"error":       revokeErr.Error(),
				})
			}
		}
	case errors.Is(getErr, ErrNotFound):
		fields["already_absent"] = true
	default:
		err = s.mapError(getErr)
		return err
	}

	if deleteErr := s.credentialStore.Delete(ctx, merchantID); deleteErr != nil {
		err = s.mapError(deleteErr)
		return err
	}
	return nil
}

// ForgetCredential drops the local credential after the merchant revoked
// access on the provider side.
func (s *Service) ForgetCredential(ctx context.Context, merchantID string) (err error) {
	startedAt := time.Now().UTC()
	merchantID = strings.TrimSpace(merchantID)
	fields := map[string]any{"merchant_id": merchantID}
	defer func() {
		s.observer.Observe(ctx, startedAt, "oauth_forget", err, fields)
		flow := FlowStatePersisted
		if err != nil {
			flow = FlowStateFailed
		}
		s.recordAudit(ctx, s.auditEntry(AuditActionOAuthRevokedExt, flow, true, merchantID, "", err))
	}()
	if merchantID == "" {
		err = InvalidRequestError("merchant id is required", nil)
		return err
	}
	if deleteErr := s.credentialStore.Delete(ctx, merchantID); deleteErr != nil {
		err = s.mapError(deleteErr)
		return err
	}
	return nil
}

func (s *Service) CredentialStatus(ctx context.Context, merchantID string) (CredentialStatus, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return CredentialStatus{}, InvalidRequestError("merchant id is required", nil)
	}
	credential, err := s.credentialStore.Get(ctx, merchantID)
	if err != nil {
		return CredentialStatus{}, s.mapError(err)
	}
	return ResolveCredentialStatus(s.now(), credential, s.config.Credentials.ExpiringSoonWindow), nil
}

func (s *Service) ListCredentialStatuses(ctx context.Context, limit int) ([]CredentialStatus, error) {
	credentials, err := s.credentialStore.List(ctx, limit)
	if err != nil {
		return nil, s.mapError(err)
	}
	now := s.now()
	out := make([]CredentialStatus, 0, len(credentials))
	for _, credential := range credentials {
		out = append(out, ResolveCredentialStatus(now, credential, s.config.Credentials.ExpiringSoonWindow))
	}
	return out, nil
}

// RecordSecurityEvent lets other components write to the same audit trail.
func (s *Service) RecordSecurityEvent(ctx context.Context, action string, cause error, metadata map[string]any) {
	entry := s.auditEntry(action, "", true, "", "", cause)
	for key, value := range RedactSensitiveMap(metadata) {
		if entry.Metadata == nil {
			entry.Metadata = map[string]any{}
		}
		entry.Metadata[key] = value
	}
	s.recordAudit(ctx, entry)
}

func (s *Service) auditEntry(
	action string,
	flow FlowState,
	security bool,
	merchantID string,
	stateHash string,
	cause error,
) AuditEntry {
	entry := AuditEntry{
		Action:     action,
		Outcome:    AuditOutcomeSuccess,
		Security:   security,
		FlowState:  flow,
		MerchantID: merchantID,
		StateHash:  stateHash,
		CreatedAt:  s.now(),
	}
	if cause != nil {
		entry.Outcome = AuditOutcomeFailure
		entry.ErrorCode = TextCode(cause)
		entry.Detail = RedactSecrets(cause.Error())
		var richErr *goerrors.Error
		if goerrors.As(cause, &richErr) {
			entry.Detail = RedactSecrets(richErr.Message)
			entry.Metadata = RedactSensitiveMap(richErr.Metadata)
		}
	}
	return entry
}

// recordAudit never fails the calling operation.
func (s *Service) recordAudit(ctx context.Context, entry AuditEntry) {
	if s == nil || s.auditSink == nil {
		return
	}
	if err := s.auditSink.Record(ctx, entry); err != nil {
		s.observer.Log(ctx, "error", "audit record failed", map[string]any{
			"action": entry.Action,
			"error":  err.Error(),
		})
	}
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
