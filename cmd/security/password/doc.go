// Package password hashes and verifies account passwords.
//
// New hashes are Argon2id in a PHC-like encoding:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Accounts imported from the previous deployment carry bcrypt hashes
// ($2a$, $2b$, $2y$). Those still verify, and NeedsRehash reports them so the
// login path can upgrade them to Argon2id.
//
// Hash strings are untrusted input: Verify bounds the decoded parameters
// before doing any work.
package password
