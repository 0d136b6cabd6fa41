// Package session implements the key-delivery session state machine and the
// registry that binds session ids to connections.
//
// A Session is driven by a single goroutine (Run) that owns all writes to its
// Transport. The connection reader hands inbound frames to Deliver; pending
// control messages are examined at every chunk boundary, so ping, end_session
// and disconnects are honoured while a request is being served.
//
// States:
//
//	Idle       --request_key-->       Generating
//	Generating --complete/failure-->  Idle
//	any        --end_session/close--> Closed
//
// Only the attachment (id, role, counters) survives a session. Key material
// lives in the pacing controller's locked buffer and the encoder's scratch
// space, both wiped after every chunk.
package session
