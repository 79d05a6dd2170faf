// Package identity implements the identity and credential security core for
// the Giftwell application: session lifecycle and rotation, personal access
// token issuance and verification, external identity linking, and first-admin
// bootstrap.
//
// The package is framework agnostic. The web layer calls it synchronously and
// owns routing, rate limiting, and rendering. Persistence goes through bun
// repositories so every multi-row invariant check runs inside a single
// transaction.
//
// Subpackages:
//
//   - secrets: authenticated encryption for OAuth tokens at rest, with a
//     legacy plaintext fallback for pre-migration rows.
//   - credentials: bearer token generation, classification, and argon2id
//     hashing for personal access tokens.
//   - linking: the sign-in resolution state machine that decides whether an
//     external identity signs in, links, creates a user, or is rejected.
package identity
