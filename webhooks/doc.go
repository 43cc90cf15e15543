// Package webhooks verifies, stores, and dispatches Square webhook
// deliveries.
//
// Every delivery is stored as a new pending record before dispatch, then
// moved to processed or failed exactly once. Redeliveries of the same
// event_id produce new records and never rewrite the terminal status of an
// earlier one.
package webhooks
