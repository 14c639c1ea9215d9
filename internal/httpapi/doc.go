// Package httpapi is the productsapi HTTP surface over a shopauth engine.
//
// Routes:
//
//	POST /login            username + password -> session token
//	PUT  /change-password  bearer token required
//	POST /users            admin bearer token required; creates a user
//	GET  /healthz
//	GET  /metrics          when a metrics handler is configured
//
// Every response carries HSTS and Content-Security-Policy headers. CORS allows
// any origin unless AllowedOrigins lists glob patterns.
package httpapi
