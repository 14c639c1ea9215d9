// Package appconfig loads productsapi configuration.
//
// Sources are layered, later ones winning: built-in defaults, an optional YAML
// file, an optional .env file, SHOPAUTH_* environment variables, and
// explicitly set command-line flags. Errors carry oops codes
// CONFIG_LOAD_FAILED or CONFIG_INVALID.
package appconfig
