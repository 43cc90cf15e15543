package core

import (
	"regexp"
	"strings"
)

const RedactedValue = "[REDACTED]"

// sensitiveKeyParts marks a metadata key as secret when the key contains
// any of them.
var sensitiveKeyParts = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"access_key",
	"refresh",
	"credential",
	"signature",
	"verifier",
	"code",
}

// traceabilityKeys look sensitive but carry identifiers needed for tracing.
var traceabilityKeys = map[string]struct{}{
	"merchant_id":    {},
	"event_id":       {},
	"event_type":     {},
	"record_id":      {},
	"state_hash":     {},
	"flow_state":     {},
	"error_code":     {},
	"text_code":      {},
	"status_code":    {},
	"token_obtained": {},
	"request_id":     {},
	"trace_id":       {},
}

// squareSecretPattern matches Square access and refresh tokens, authorization
// codes and application secrets embedded in free text.
var squareSecretPattern = regexp.MustCompile(`\b(?:EAAA|EQAA)[A-Za-z0-9_-]{8,}|\bsq0(?:cgp|cgb|csp|atp)-[A-Za-z0-9_-]+`)

// RedactSensitiveMap returns a copy of metadata with secret keys replaced
// and Square secrets masked inside string values.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	target := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactValue(value)
	}
	return target
}

// RedactSecrets masks Square tokens, codes and secrets found in text.
func RedactSecrets(text string) string {
	if text == "" {
		return text
	}
	return squareSecretPattern.ReplaceAllString(text, RedactedValue)
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case string:
		return RedactSecrets(typed)
	case map[string]any:
		return RedactSensitiveMap(typed)
	case map[string]string:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = item
		}
		return RedactSensitiveMap(out)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactValue(typed[i])
		}
		return out
	default:
		return value
	}
}

func shouldRedactKey(key string) bool {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
	if key == "" {
		return false
	}
	if _, ok := traceabilityKeys[key]; ok {
		return false
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}
