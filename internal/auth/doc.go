// Package auth provides authentication for gatekeep.
//
// # Tokens
//
// API clients authenticate with HS256-signed JWTs issued by POST /auth/login.
// Tokens carry the principal id and username and a fixed expiry; there is no
// revocation store, so an issued token remains valid until it expires. The
// signing secret is loaded from configuration and must be at least
// MinSecretLength bytes.
//
// Verification failures are reported with the most specific error:
//
//   - ErrBadSignature: the signature does not verify against the secret
//   - ErrExpired: the signature verifies but the token is past its expiry
//   - ErrMalformed: the token cannot be decoded at all
//
// # Credentials
//
// Login passwords are checked against bcrypt hashes held by the user store.
// All login failures collapse into ErrInvalidCredentials so responses never
// reveal whether a username exists.
package auth
