// Package providers implements core.OAuthClient over golang.org/x/oauth2.
// Provider presets live in subpackages; google is the one the daemon wires.
package providers
