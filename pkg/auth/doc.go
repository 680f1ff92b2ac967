// Package auth is the core of the warden service: opaque token issuance
// and TTL-bounded storage, compare-and-swap sliding renewal, the
// permissions cache, effective-access resolution, and the orchestration
// of the check-token and check-permission request paths.
//
// Tokens are random 256-bit identifiers resolved through the store, not
// self-contained signed tokens: revocation is a single row delete and is
// immediate. Concurrent renewals of the same token are serialized by a
// conditional UPDATE on the previously observed expiry; at most one
// renewer observes renewed=true and a renewal racing the reaper cannot
// resurrect an expired token.
package auth
