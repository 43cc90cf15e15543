// Package core contains the domain types, contracts, and orchestration for the
// Square OAuth exchange. Storage, provider, and transport adapters depend on
// this package; core must not depend on them.
package core
