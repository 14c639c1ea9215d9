// Package middleware exposes HTTP middleware that admits requests carrying a
// valid shopauth session token.
//
// # Guards
//
//   - [Guard] wraps a net/http handler.
//   - [GinGuard] is the equivalent gin handler.
//   - [RequireRole] and [GinRequireRole] additionally pin the role claim.
//
// Each guard reads the Authorization bearer token, calls ValidateToken on the
// supplied validator, and stores the validated claims in the request context.
//
// # What this package must NOT do
//
//   - Parse or sign tokens directly (delegates to the validator).
//   - Tell the client why a token was rejected.
package middleware
