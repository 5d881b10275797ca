// Package server hosts the webhook receivers, the internal live-status API and
// the metrics endpoint behind one HTTP server.
//
// Every route shares the same middleware chain: request id, request logging,
// metrics, security headers and rate limiting.
package server
