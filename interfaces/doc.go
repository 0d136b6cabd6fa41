// Package interfaces defines the types shared between the session layer and
// the attachment storage backends, separating the contracts from their
// implementations.
//
// # Attachments
//
// Attachment is everything about a session that survives suspension: the
// session id, the role label and the number of chunks generated so far. Key
// material is never part of an attachment.
//
// AttachmentStore is implemented by the backends in package storage (memory,
// file, S3 and Vault) and selected by URI at start-up.
//
// # Errors
//
//   - ErrAttachmentNotFound: no attachment stored for the session id
//   - ErrBackendUnavailable: the backend could not be reached
//   - ErrInvalidLocationURI: the store URI could not be parsed
package interfaces
