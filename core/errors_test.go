package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		textCode string
		status   int
	}{
		{name: "not found sentinel", err: fmt.Errorf("lookup: %w", ErrNotFound), textCode: ErrorNotFound, status: http.StatusNotFound},
		{name: "already exists sentinel", err: fmt.Errorf("insert: %w", ErrAlreadyExists), textCode: ErrorCredentialExists, status: http.StatusConflict},
		{name: "expired state", err: ErrStateExpired, textCode: ErrorOAuthStateInvalid, status: http.StatusUnauthorized},
		{name: "bad input heuristic", err: errors.New("merchant id is required"), textCode: ErrorInvalidRequest, status: http.StatusBadRequest},
		{name: "rich error passthrough", err: PKCEMismatchError(), textCode: ErrorPKCEMismatch, status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := ServiceErrorMapper(tc.err)
			if mapped == nil {
				t.Fatalf("expected mapped error")
			}
			if mapped.TextCode != tc.textCode {
				t.Fatalf("expected text code %q, got %q", tc.textCode, mapped.TextCode)
			}
			if mapped.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, mapped.Code)
			}
		})
	}
	if ServiceErrorMapper(nil) != nil {
		t.Fatalf("expected nil mapping for nil error")
	}
}

func TestWrapServiceError_OverridesWrappedCategory(t *testing.T) {
	inner := NewServiceError("provider said no", goerrors.CategoryBadInput, ErrorInvalidRequest, nil)
	wrapped := ExchangeFailedError(inner)

	var richErr *goerrors.Error
	if !goerrors.As(wrapped, &richErr) {
		t.Fatalf("expected rich error")
	}
	if richErr.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %s", richErr.Category)
	}
	if richErr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", richErr.Code)
	}
	if richErr.TextCode != ErrorExchangeFailed {
		t.Fatalf("expected exchange failed text code, got %q", richErr.TextCode)
	}
}

func TestProviderDeniedError_CarriesProviderCode(t *testing.T) {
	err := ProviderDeniedError(" access_denied ", "user cancelled")
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected rich error")
	}
	if richErr.Metadata["provider_error"] != "access_denied" {
		t.Fatalf("expected provider error metadata, got %#v", richErr.Metadata)
	}
	if richErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", richErr.Code)
	}
}
