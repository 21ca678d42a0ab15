// Package api implements the HTTP command surface and operator WebSocket
// for medtwin.
//
// This package provides:
//   - twin and replica management under /api/v1
//   - the pairing handshake as a blocking POST
//   - device commands (display text, LED broadcast)
//   - an audit trail of operator commands
//   - a WebSocket Hub that delivers notifications to connected operators
//
// # Security
//
// Every route except /health and /metrics requires a bearer token issued
// by the auth package. The token subject is the owning user; the "oid"
// claim is the operator id used for twin login and WebSocket delivery.
// Browsers may pass the token as ?token= on the WebSocket upgrade.
//
// # Errors
//
// Failures are returned as {"error":{"code":..., "message":...}} with the
// status derived from the domain sentinel errors (see statusFor).
package api
