package core

import (
	"context"
	"testing"
	"time"
)

func TestJWTSessionIssuer_IssueAndVerify(t *testing.T) {
	issuer, err := NewJWTSessionIssuer("signing-key", time.Hour, "square-bff")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	session, err := issuer.Issue(context.Background(), "MLR1234")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if session.ExpiresAt.Sub(session.IssuedAt) != time.Hour {
		t.Fatalf("expected one hour lifetime, got %s", session.ExpiresAt.Sub(session.IssuedAt))
	}

	claims, err := issuer.Verify(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.MerchantID != "MLR1234" || claims.Issuer != "square-bff" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
}

func TestJWTSessionIssuer_RejectsForeignAndExpiredTokens(t *testing.T) {
	issuer, _ := NewJWTSessionIssuer("signing-key", time.Hour, "square-bff")
	other, _ := NewJWTSessionIssuer("other-key", time.Hour, "square-bff")

	foreign, err := other.Issue(context.Background(), "MLR1234")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Verify(context.Background(), foreign.Token); !HasTextCode(err, ErrorUnauthorized) {
		t.Fatalf("expected unauthorized for foreign signature, got %v", err)
	}

	session, _ := issuer.Issue(context.Background(), "MLR1234")
	issuer.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	if _, err := issuer.Verify(context.Background(), session.Token); !HasTextCode(err, ErrorUnauthorized) {
		t.Fatalf("expected unauthorized for expired token, got %v", err)
	}
}

func TestNewJWTSessionIssuer_RequiresKey(t *testing.T) {
	if _, err := NewJWTSessionIssuer("  ", time.Hour, ""); err == nil {
		t.Fatalf("expected empty signing key to be rejected")
	}
}
