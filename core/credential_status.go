package core

import (
	"strings"
	"time"
)

const DefaultCredentialExpiringSoonWindow = 24 * time.Hour

// ResolveCredentialStatus evaluates expiry and refreshability for a credential
// without exposing its tokens.
func ResolveCredentialStatus(now time.Time, credential MerchantCredential, expiringSoonWindow time.Duration) CredentialStatus {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if expiringSoonWindow <= 0 {
		expiringSoonWindow = DefaultCredentialExpiringSoonWindow
	}

	status := CredentialStatus{
		MerchantID:  credential.MerchantID,
		ExpiresAt:   credential.ExpiresAt,
		CreatedAt:   credential.CreatedAt,
		UpdatedAt:   credential.UpdatedAt,
		TTL:         credential.TTL,
		Refreshable: strings.TrimSpace(credential.RefreshToken) != "",
	}
	if credential.ExpiresAt.IsZero() {
		return status
	}
	expiresAt := credential.ExpiresAt.UTC()
	if !expiresAt.After(now) {
		status.IsExpired = true
		return status
	}
	status.IsExpiringSoon = !expiresAt.After(now.Add(expiringSoonWindow))
	return status
}

// ShouldRefresh reports whether a refresh should run ahead of use.
func (s CredentialStatus) ShouldRefresh() bool {
	return s.Refreshable && (s.IsExpired || s.IsExpiringSoon)
}
