// Package shopauth provides the credential and session-issuance core of the
// ProductsAPI backend: Argon2id password verification, per-identity
// brute-force lockout, and HS256 session tokens.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// shopauth is the public surface. It exposes [Engine], [Builder], [Config], and value types
// (LoginResult, MetricsSnapshot, AuditEvent). The lockout state machine and its stores live
// in internal/limiters, audit dispatch in internal/audit. The password and jwt packages are
// usable on their own.
//
// User records are owned by the caller through [UserRepository]; the engine never creates
// or migrates them.
//
// # What this package must NOT do
//
//   - Log or audit plaintext passwords, credential blobs, or the signing secret.
//   - Distinguish an unknown username from a wrong password in any returned error.
//   - Hold a lockout lock across a UserRepository call.
//
// # Performance contract
//
// Login costs one Argon2id derivation whether or not the user exists, and none when the
// identity is locked. ChangePassword costs two. ValidateToken performs no I/O.
package shopauth
