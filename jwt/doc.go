// Package jwt issues and validates HS256 session tokens.
//
// A token carries sub (the authenticated username), role, iat, exp and a
// random jti so two tokens minted in the same second never collide. The
// signing secret is copied once at construction and is never logged.
//
// Validation pins the algorithm to HS256, requires exp, and reports every
// rejection as a *ValidationError whose Reason distinguishes malformed
// input, bad signatures and expiry.
package jwt
