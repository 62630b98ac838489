// Package session issues, verifies and rotates chatd's credential pairs.
//
// Access tokens are short-lived HS256 JWTs signed with the access secret and
// are never stored. Refresh tokens are HS256 JWTs signed with a separate
// refresh secret; the hash of the single current refresh token of each user
// lives in a Store. Refresh is rotation: the stored hash is swapped with a
// compare-and-swap, so a superseded token can never succeed again and
// concurrent refreshes with the same token have exactly one winner.
//
// Transport (cookies, headers) is handled by the HTTP layer.
package session
