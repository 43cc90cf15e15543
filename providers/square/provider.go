package square

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goliatone/go-square-bff/core"
	"github.com/goliatone/go-square-bff/providers"
)

const (
	ProviderID = "square"

	authorizePath = "/oauth2/authorize"
	tokenPath     = "/oauth2/token"
	revokePath    = "/oauth2/revoke"
	identityPath  = "/v2/merchants/me"

	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"

	codeChallengeMethodS256 = "S256"
)

type Config struct {
	BaseURL             string
	ApplicationID       string
	ApplicationSecret   string
	SquareVersion       string
	RequestTimeout      time.Duration
	IdentityMaxAttempts int
	// RetryInitialInterval seeds the identity fetch backoff.
	RetryInitialInterval time.Duration
	SessionParam         bool
	HTTPClient           providers.HTTPDoer
	Now                  func() time.Time
}

// ConfigFromCore maps the service configuration onto provider settings.
func ConfigFromCore(cfg core.Config) Config {
	return Config{
		BaseURL:             cfg.SquareBaseURL(),
		ApplicationID:       cfg.OAuth.ApplicationID,
		ApplicationSecret:   cfg.OAuth.ApplicationSecret,
		SquareVersion:       cfg.OAuth.SquareVersion,
		RequestTimeout:      cfg.OAuth.RequestTimeout,
		IdentityMaxAttempts: cfg.OAuth.IdentityMaxAttempts,
		SessionParam:        cfg.OAuth.SessionParam,
	}
}

type Provider struct {
	cfg    Config
	client *providers.JSONClient
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresAt    string `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
	MerchantID   string `json:"merchant_id"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type revokeRequest struct {
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token"`
}

type identityResponse struct {
	Merchant struct {
		ID           string `json:"id"`
		BusinessName string `json:"business_name"`
		Country      string `json:"country"`
		Currency     string `json:"currency"`
		Status       string `json:"status"`
	} `json:"merchant"`
}

func New(cfg Config) (*Provider, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.ApplicationID = strings.TrimSpace(cfg.ApplicationID)
	cfg.ApplicationSecret = strings.TrimSpace(cfg.ApplicationSecret)
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("providers/square: base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("providers/square: invalid base url: %w", err)
	}
	if cfg.ApplicationID == "" {
		return nil, fmt.Errorf("providers/square: application id is required")
	}
	if strings.TrimSpace(cfg.SquareVersion) == "" {
		cfg.SquareVersion = core.DefaultSquareVersion
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = core.DefaultRequestTimeout
	}
	if cfg.IdentityMaxAttempts < 1 {
		cfg.IdentityMaxAttempts = core.DefaultIdentityRetries
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 200 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}
	return &Provider{
		cfg:    cfg,
		client: providers.NewJSONClient(cfg.HTTPClient, cfg.RequestTimeout),
	}, nil
}

func (p *Provider) ID() string {
	return ProviderID
}

// AuthorizationURL renders the Square consent URL with an S256 challenge.
func (p *Provider) AuthorizationURL(req core.AuthorizationURLRequest) (string, error) {
	if p == nil {
		return "", fmt.Errorf("providers/square: provider is nil")
	}
	state := strings.TrimSpace(req.State)
	challenge := strings.TrimSpace(req.CodeChallenge)
	if state == "" {
		return "", fmt.Errorf("providers/square: state is required")
	}
	if challenge == "" {
		return "", fmt.Errorf("providers/square: code challenge is required")
	}

	query := url.Values{}
	query.Set("client_id", p.cfg.ApplicationID)
	query.Set("scope", strings.Join(req.Scopes, " "))
	query.Set("response_type", "code")
	query.Set("state", state)
	query.Set("code_challenge", challenge)
	query.Set("code_challenge_method", codeChallengeMethodS256)
	if redirect := strings.TrimSpace(req.RedirectURI); redirect != "" {
		query.Set("redirect_uri", redirect)
	}
	if !p.cfg.SessionParam {
		query.Set("session", "false")
	}
	return p.cfg.BaseURL + authorizePath + "?" + query.Encode(), nil
}

// ExchangeCode redeems an authorization code. It is never retried: Square
// codes are single use.
func (p *Provider) ExchangeCode(ctx context.Context, req core.TokenExchangeRequest) (core.TokenSet, error) {
	if strings.TrimSpace(req.Code) == "" {
		return core.TokenSet{}, fmt.Errorf("providers/square: authorization code is required")
	}
	return p.fetchToken(ctx, tokenRequest{
		GrantType:    grantAuthorizationCode,
		Code:         strings.TrimSpace(req.Code),
		RedirectURI:  strings.TrimSpace(req.RedirectURI),
		CodeVerifier: strings.TrimSpace(req.CodeVerifier),
	})
}

func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (core.TokenSet, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return core.TokenSet{}, fmt.Errorf("providers/square: refresh token is required")
	}
	return p.fetchToken(ctx, tokenRequest{
		GrantType:    grantRefreshToken,
		RefreshToken: strings.TrimSpace(refreshToken),
	})
}

func (p *Provider) fetchToken(ctx context.Context, body tokenRequest) (core.TokenSet, error) {
	if p == nil {
		return core.TokenSet{}, fmt.Errorf("providers/square: provider is nil")
	}
	body.ClientID = p.cfg.ApplicationID
	body.ClientSecret = p.cfg.ApplicationSecret

	var payload tokenResponse
	if err := p.client.Do(ctx, http.MethodPost, p.cfg.BaseURL+tokenPath, p.versionHeader(), body, &payload); err != nil {
		return core.TokenSet{}, err
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.TokenSet{}, fmt.Errorf("providers/square: token response missing access token")
	}

	tokens := core.TokenSet{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
		TokenType:    strings.TrimSpace(payload.TokenType),
		MerchantID:   strings.TrimSpace(payload.MerchantID),
		Scopes:       core.ParseScopeList(payload.Scope),
	}
	if expiresAt := strings.TrimSpace(payload.ExpiresAt); expiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, expiresAt)
		if err != nil {
			return core.TokenSet{}, fmt.Errorf("providers/square: invalid expires_at %q: %w", expiresAt, err)
		}
		tokens.ExpiresAt = parsed.UTC()
	} else if payload.ExpiresIn > 0 {
		tokens.ExpiresAt = p.cfg.Now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return tokens, nil
}

// FetchIdentity loads the merchant profile. Transport failures, 429 and 5xx
// responses are retried; any other response ends the attempt.
func (p *Provider) FetchIdentity(ctx context.Context, accessToken string) (core.MerchantIdentity, error) {
	if p == nil {
		return core.MerchantIdentity{}, fmt.Errorf("providers/square: provider is nil")
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return core.MerchantIdentity{}, fmt.Errorf("providers/square: access token is required")
	}
	headers := p.versionHeader()
	headers.Set("Authorization", "Bearer "+accessToken)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.cfg.RetryInitialInterval

	operation := func() (identityResponse, error) {
		var payload identityResponse
		err := p.client.Do(ctx, http.MethodGet, p.cfg.BaseURL+identityPath, headers, nil, &payload)
		if err != nil && !providers.IsRetryable(err) {
			return identityResponse{}, backoff.Permanent(err)
		}
		return payload, err
	}

	payload, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(p.cfg.IdentityMaxAttempts)), // #nosec G115 -- validated >= 1
	)
	if err != nil {
		return core.MerchantIdentity{}, err
	}
	merchant := payload.Merchant
	if strings.TrimSpace(merchant.ID) == "" {
		return core.MerchantIdentity{}, fmt.Errorf("providers/square: identity response missing merchant id")
	}
	return core.MerchantIdentity{
		MerchantID:   strings.TrimSpace(merchant.ID),
		BusinessName: merchant.BusinessName,
		Country:      merchant.Country,
		Currency:     merchant.Currency,
		Status:       merchant.Status,
	}, nil
}

// RevokeToken revokes every token Square issued to the merchant for this
// application.
func (p *Provider) RevokeToken(ctx context.Context, accessToken string) error {
	if p == nil {
		return fmt.Errorf("providers/square: provider is nil")
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return fmt.Errorf("providers/square: access token is required")
	}
	headers := p.versionHeader()
	headers.Set("Authorization", "Client "+p.cfg.ApplicationSecret)
	return p.client.Do(ctx, http.MethodPost, p.cfg.BaseURL+revokePath, headers, revokeRequest{
		ClientID:    p.cfg.ApplicationID,
		AccessToken: accessToken,
	}, nil)
}

func (p *Provider) versionHeader() http.Header {
	headers := http.Header{}
	headers.Set("Square-Version", p.cfg.SquareVersion)
	return headers
}

var _ core.OAuthProvider = (*Provider)(nil)
