package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/golang-jwt/jwt/v5"
)

// JWTSessionIssuer signs HS256 session tokens whose subject is the merchant.
type JWTSessionIssuer struct {
	key    []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewJWTSessionIssuer(signingKey string, ttl time.Duration, issuer string) (*JWTSessionIssuer, error) {
	signingKey = strings.TrimSpace(signingKey)
	if signingKey == "" {
		return nil, fmt.Errorf("core: session signing key is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &JWTSessionIssuer{
		key:    []byte(signingKey),
		ttl:    ttl,
		issuer: strings.TrimSpace(issuer),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (i *JWTSessionIssuer) Issue(_ context.Context, merchantID string) (Session, error) {
	if i == nil {
		return Session{}, fmt.Errorf("core: session issuer is not configured")
	}
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return Session{}, fmt.Errorf("core: merchant id is required for session")
	}
	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   merchantID,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return Session{}, fmt.Errorf("core: sign session token: %w", err)
	}
	return Session{
		Token:      signed,
		MerchantID: merchantID,
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
	}, nil
}

func (i *JWTSessionIssuer) Verify(_ context.Context, token string) (SessionClaims, error) {
	if i == nil {
		return SessionClaims{}, fmt.Errorf("core: session issuer is not configured")
	}
	claims := jwt.RegisteredClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(i.issuer))
	}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	}, parserOpts...)
	if err != nil {
		return SessionClaims{}, WrapServiceError(err, goerrors.CategoryAuth, ErrorUnauthorized, "session token is invalid", nil)
	}
	out := SessionClaims{
		MerchantID: claims.Subject,
		Issuer:     claims.Issuer,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}

var _ SessionIssuer = (*JWTSessionIssuer)(nil)
