// Package ratelimit bounds request rate per client with a fixed window.
//
// The limiter is an explicit, injectable component owning a concurrency-safe
// map from client key to counter state, so tests can construct isolated
// instances. Keys are the authenticated principal when available, falling
// back to the remote address for unauthenticated calls; the policy is chosen
// by the dispatcher, not here.
package ratelimit
