// Package token hashes refresh tokens for server-side storage.
//
// Only the hash of a refresh token is ever persisted. With a key configured the
// hash is HMAC-SHA256(token, key); without one it falls back to SHA-256(token),
// which is only acceptable for local development.
//
// Output is always 64 lowercase hex characters so stores can compare values in
// constant time.
package token
