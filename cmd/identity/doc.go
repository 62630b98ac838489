// Package identity is the user collaborator of chatd.
//
// It owns user accounts (credentials, display fields, last-seen), room
// membership as far as session resolution needs it, and the single stored
// refresh-token hash per user. Both stores implement the same contract:
// MemoryStore for development and tests, PostgresStore for deployments.
package identity
