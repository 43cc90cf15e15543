package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorInvalidRequest      = "BFF_INVALID_REQUEST"
	ErrorOAuthStateInvalid   = "BFF_OAUTH_STATE_INVALID"
	ErrorPKCEMismatch        = "BFF_PKCE_MISMATCH"
	ErrorProviderDenied      = "BFF_PROVIDER_DENIED"
	ErrorExchangeFailed      = "BFF_EXCHANGE_FAILED"
	ErrorIdentityFetchFailed = "BFF_IDENTITY_FETCH_FAILED"
	ErrorCredentialExists    = "BFF_CREDENTIAL_EXISTS"
	ErrorNotFound            = "BFF_NOT_FOUND"
	ErrorSignatureInvalid    = "BFF_SIGNATURE_INVALID"
	ErrorHandlerFailed       = "BFF_HANDLER_FAILED"
	ErrorUnauthorized        = "BFF_UNAUTHORIZED"
	ErrorInternal            = "BFF_INTERNAL_ERROR"
)

var (
	ErrNotFound      = errors.New("core: record not found")
	ErrAlreadyExists = errors.New("core: record already exists")
	ErrStateNotFound = errors.New("core: oauth state not found")
	ErrStateExpired  = errors.New("core: oauth state expired")
)

func NewServiceError(
	message string,
	category goerrors.Category,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(serviceHTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(RedactSensitiveMap(metadata))
	}
	return err
}

func WrapServiceError(
	source error,
	category goerrors.Category,
	textCode string,
	message string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return NewServiceError(message, category, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message)
	// Wrap keeps the category of an existing rich error; force ours.
	err.Category = category
	err.Code = serviceHTTPStatus(category)
	err.TextCode = textCode
	if len(metadata) > 0 {
		err.WithMetadata(RedactSensitiveMap(metadata))
	}
	return err
}

func InvalidRequestError(message string, metadata map[string]any) error {
	return NewServiceError(message, goerrors.CategoryBadInput, ErrorInvalidRequest, metadata)
}

func InvalidStateError(source error) error {
	return WrapServiceError(source, goerrors.CategoryAuth, ErrorOAuthStateInvalid, "oauth state is invalid or expired", nil)
}

func PKCEMismatchError() error {
	return NewServiceError("pkce code verifier mismatch", goerrors.CategoryAuth, ErrorPKCEMismatch, nil)
}

func ProviderDeniedError(code string, description string) error {
	return NewServiceError("authorization denied by provider", goerrors.CategoryAuthz, ErrorProviderDenied, map[string]any{
		"provider_error":             strings.TrimSpace(code),
		"provider_error_description": strings.TrimSpace(description),
	})
}

func ExchangeFailedError(source error) error {
	return WrapServiceError(source, goerrors.CategoryExternal, ErrorExchangeFailed, "authorization code exchange failed", nil)
}

func IdentityFetchFailedError(source error, metadata map[string]any) error {
	return WrapServiceError(source, goerrors.CategoryExternal, ErrorIdentityFetchFailed, "merchant identity lookup failed", metadata)
}

func AlreadyExistsError(merchantID string) error {
	return WrapServiceError(ErrAlreadyExists, goerrors.CategoryConflict, ErrorCredentialExists, "credential already exists", map[string]any{
		"merchant_id": merchantID,
	})
}

func NotFoundError(kind string, id string) error {
	return WrapServiceError(ErrNotFound, goerrors.CategoryNotFound, ErrorNotFound, kind+" not found", map[string]any{
		"id": id,
	})
}

func SignatureInvalidError(source error) error {
	return WrapServiceError(source, goerrors.CategoryAuth, ErrorSignatureInvalid, "webhook signature verification failed", nil)
}

func HandlerFailureError(source error, eventType string) error {
	return WrapServiceError(source, goerrors.CategoryOperation, ErrorHandlerFailed, "webhook handler failed", map[string]any{
		"event_type": eventType,
	})
}

// FieldValidationError reports one invalid field of a command or query
// message.
func FieldValidationError(scope string, field string, message string) error {
	return goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorInvalidRequest).
		WithSeverity(goerrors.SeverityError)
}

// MissingDependencyError reports a handler built without a collaborator.
func MissingDependencyError(scope string, dependency string) error {
	return newServiceError(fmt.Sprintf("%s: %s is required", scope, dependency), goerrors.CategoryInternal, ErrorInternal)
}

func InternalError(source error, message string) error {
	return WrapServiceError(source, goerrors.CategoryInternal, ErrorInternal, message, nil)
}

// TextCode returns the stable text code carried by err, if any.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

func HasTextCode(err error, code string) bool {
	return err != nil && TextCode(err) == code
}

// ServiceErrorMapper maps any error onto the service taxonomy.
func ServiceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return WrapServiceError(err, goerrors.CategoryNotFound, ErrorNotFound, "record not found", nil)
	case errors.Is(err, ErrAlreadyExists):
		return WrapServiceError(err, goerrors.CategoryConflict, ErrorCredentialExists, "record already exists", nil)
	case errors.Is(err, ErrStateNotFound), errors.Is(err, ErrStateExpired):
		return WrapServiceError(err, goerrors.CategoryAuth, ErrorOAuthStateInvalid, "oauth state is invalid or expired", nil)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorInvalidRequest)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorInvalidRequest
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorUnauthorized
	case goerrors.CategoryConflict:
		return ErrorCredentialExists
	case goerrors.CategoryExternal:
		return ErrorExchangeFailed
	case goerrors.CategoryOperation:
		return ErrorHandlerFailed
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
