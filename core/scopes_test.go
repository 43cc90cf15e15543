package core

import (
	"reflect"
	"testing"
)

func TestResolveScopes(t *testing.T) {
	defaults := []string{ScopeItemsRead, ScopeMerchantProfileRead}

	got, err := ResolveScopes(nil, defaults)
	if err != nil {
		t.Fatalf("resolve defaults: %v", err)
	}
	if !reflect.DeepEqual(got, defaults) {
		t.Fatalf("expected defaults, got %#v", got)
	}

	got, err = ResolveScopes([]string{"orders_read", " ORDERS_READ ", "customers_write"}, defaults)
	if err != nil {
		t.Fatalf("resolve requested: %v", err)
	}
	if !reflect.DeepEqual(got, []string{ScopeOrdersRead, ScopeCustomersWrite}) {
		t.Fatalf("expected normalized unique scopes, got %#v", got)
	}

	if _, err := ResolveScopes([]string{"BANK_ACCOUNTS_READ"}, defaults); !HasTextCode(err, ErrorInvalidRequest) {
		t.Fatalf("expected unknown scope to be rejected, got %v", err)
	}
	if _, err := ResolveScopes(nil, nil); err == nil {
		t.Fatalf("expected an empty scope set to be rejected")
	}
}

func TestParseScopeList(t *testing.T) {
	got := ParseScopeList("items_read,inventory_read", "MERCHANT_PROFILE_READ items_read")
	want := []string{ScopeItemsRead, ScopeInventoryRead, ScopeMerchantProfileRead}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %#v, got %#v", want, got)
	}
}
