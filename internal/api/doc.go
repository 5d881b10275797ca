// Package api hosts the HTTP handlers of streamhook.
//
// Webhook handlers read the raw body once, verify it with the provider's
// signature scheme, answer handshakes, and hand normalized events to the
// ingestion processor. Error mapping to status codes happens only here.
//
// The internal live-status routes are mounted only when an internal token is
// configured and require it as a bearer token.
package api
