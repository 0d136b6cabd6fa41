// Package keygen produces fixed-size chunks of cryptographically random key
// material.
//
// A Generator wraps a Source, the trusted CSPRNG primitive. Two sources are
// provided:
//   - SystemSource: the operating system CSPRNG via crypto/rand
//   - ChaChaSource: an XChaCha20 keystream keyed freshly from a seed source on
//     every call
//
// Sources fail closed: any failure to obtain entropy is reported as
// ErrEntropyUnavailable and never replaced by weaker randomness. Generators
// are stateless with respect to sessions and are safe for concurrent use by
// any number of sessions.
package keygen
