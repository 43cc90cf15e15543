package httpapi

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/goliatone/go-square-bff/core"
)

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

const (
	modeJSON     = "json"
	modeRedirect = "redirect"
)

type authorizeRequest struct {
	Scopes      []string `validate:"dive,required"`
	RedirectURI string   `validate:"omitempty,url"`
	Mode        string   `validate:"omitempty,oneof=json redirect"`
}

type updateStatusRequest struct {
	Status       string `json:"status" validate:"required,oneof=pending processed failed"`
	ErrorMessage string `json:"error_message" validate:"max=2048"`
}

type listRequest struct {
	Limit int `validate:"gte=0,lte=500"`
}

// validateRequest reports the first failing field as an invalid request.
func validateRequest(req any) error {
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return core.InvalidRequestError(err.Error(), nil)
	}
	first := fieldErrs[0]
	return core.InvalidRequestError("invalid request parameter", map[string]any{
		"field": strings.ToLower(first.Field()),
		"rule":  first.Tag(),
	})
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.InvalidRequestError("limit must be an integer", map[string]any{"field": "limit"})
	}
	return limit, nil
}

func parseBool(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, core.InvalidRequestError("invalid boolean parameter", map[string]any{"value": raw})
	}
	return value, nil
}
