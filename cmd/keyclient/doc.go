// Package main (cmd/keyclient) fetches key material from a keyserver.
//
// Example usage:
//
//	keyclient --server http://127.0.0.1:8080 bulk --count 64 --out pad.bin
//	keyclient stream --count 5000 --session alice-bob --role sender --out pad.bin
//	keyclient health
//
// Without --session the stream command uses the stateless /stream endpoint.
// With --keep-session the session is left suspended and can be resumed later
// with the same id.
package main
