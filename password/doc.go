// Package password implements password hashing and verification with fixed Argon2id parameters.
//
// # Storage format
//
// A credential is a 48-byte blob, 16-byte salt followed by the 32-byte digest,
// stored as standard base64 text. Untagged blobs are always read under
// [Baseline], parameter version 1. A 49-byte blob whose first byte is a known
// version tag is read under that version's parameters, and a hasher with
// unregistered parameters embeds them in front of the blob. Verification never
// depends on the verifying hasher's own parameters, so cost rotation does not
// strand existing credentials. [Argon2.NeedsRehash] reports blobs written under
// strictly weaker parameters and never asks for a downgrade.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length, reuse)
// is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive credentials.
//   - Import any other shopauth package.
//   - Accept cost parameters from request input.
//   - Log plaintext passwords or digests.
package password
