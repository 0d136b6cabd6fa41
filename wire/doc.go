// Package wire defines the control-message protocol spoken over the streaming
// key-delivery transports and the encoders that frame key chunks.
//
// Control messages are closed sum types: ClientMessage (request_key,
// end_session, ping) and ServerMessage (connected, key_chunk, progress,
// session_complete, error, pong). Adding a new kind means adding a type and
// a case to the exhaustive switches in this package.
//
// Wire format:
//
//	client -> server   ping
//	                   {"type":"request_key","chunk_count":N}   ("count" is accepted too)
//	                   {"type":"end_session"}
//	server -> client   pong
//	                   {"type":"connected","session_id":"...","role":"..."}
//	                   {"type":"key_chunk","index":I,"data":"<base64>"}
//	                   {"type":"progress","current":C,"total":T}
//	                   {"type":"session_complete","total_chunks":N}
//	                   {"type":"error","message":"..."}
//
// key_chunk frames are never produced by encoding/json: the Encoder writes
// them into a scratch buffer bounded by the chunk size so that the encoded
// key material can be wiped once the frame has been transmitted.
package wire
