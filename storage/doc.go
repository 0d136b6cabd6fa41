// Package storage implements attachment stores for suspended key-delivery
// sessions.
//
// An attachment holds a session's identity and counters only (see
// interfaces.Attachment); these backends never see key material. Backends are
// created from a location URI by AttachmentStoreFactory:
//
//   - memory:// - in-process map, lost on restart (default)
//   - file:///var/lib/keystream - one JSON file per session
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=... - S3 or compatible
//   - vault://host:8200/secret/keystream?tls=true - HashiCorp Vault KV v2, token from VAULT_TOKEN
//
// Session ids are caller supplied, so every persistent backend addresses an
// attachment by the hex SHA-256 of its session id rather than the raw id.
package storage
