package core

import (
	"fmt"
	"strings"
)

// Square permission scopes this service is allowed to request.
const (
	ScopeItemsRead           = "ITEMS_READ"
	ScopeItemsWrite          = "ITEMS_WRITE"
	ScopeInventoryRead       = "INVENTORY_READ"
	ScopeInventoryWrite      = "INVENTORY_WRITE"
	ScopeMerchantProfileRead = "MERCHANT_PROFILE_READ"
	ScopeOrdersRead          = "ORDERS_READ"
	ScopeOrdersWrite         = "ORDERS_WRITE"
	ScopeCustomersRead       = "CUSTOMERS_READ"
	ScopeCustomersWrite      = "CUSTOMERS_WRITE"
)

var allowedScopes = []string{
	ScopeItemsRead,
	ScopeItemsWrite,
	ScopeInventoryRead,
	ScopeInventoryWrite,
	ScopeMerchantProfileRead,
	ScopeOrdersRead,
	ScopeOrdersWrite,
	ScopeCustomersRead,
	ScopeCustomersWrite,
}

func AllowedScopes() []string {
	return append([]string(nil), allowedScopes...)
}

func IsAllowedScope(scope string) bool {
	scope = strings.ToUpper(strings.TrimSpace(scope))
	for _, allowed := range allowedScopes {
		if scope == allowed {
			return true
		}
	}
	return false
}

// ResolveScopes normalizes requested scopes against the allow-list, falling
// back to defaults when nothing was requested. Unknown scopes are rejected.
func ResolveScopes(requested []string, defaults []string) ([]string, error) {
	source := requested
	if len(normalizeScopes(requested)) == 0 {
		source = defaults
	}
	scopes := normalizeScopes(source)
	if len(scopes) == 0 {
		return nil, fmt.Errorf("core: at least one scope is required")
	}
	var rejected []string
	for _, scope := range scopes {
		if !IsAllowedScope(scope) {
			rejected = append(rejected, scope)
		}
	}
	if len(rejected) > 0 {
		return nil, InvalidRequestError("requested scopes are not allowed", map[string]any{
			"rejected_scopes": rejected,
		})
	}
	return scopes, nil
}

// ParseScopeList accepts space or comma separated scope strings.
func ParseScopeList(values ...string) []string {
	var out []string
	for _, value := range values {
		out = append(out, strings.Fields(strings.ReplaceAll(value, ",", " "))...)
	}
	return normalizeScopes(out)
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(input))
	for _, value := range input {
		normalized := strings.ToUpper(strings.TrimSpace(value))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
