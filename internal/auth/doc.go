// Package auth issues and verifies the bearer tokens of the command API.
//
// A token names two identities:
//   - the subject is the user that owns twins and replicas
//   - the "oid" claim is the operator id that receives notifications
//
// Tokens are HS256 JWTs signed with the configured secret and validated
// by signature and expiry only; there is no server-side session state.
package auth
