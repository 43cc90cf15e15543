// Package providers contains the HTTP plumbing shared by upstream OAuth
// providers. The Square implementation lives in providers/square.
package providers
