// Package redisstore keeps pending PKCE authorizations in Redis so every BFF
// instance behind a load balancer sees the same consume-once state.
package redisstore
