// Package streamhandler implements the websocket key delivery endpoints and
// their client.
//
// Two endpoints are served:
//   - GET /stream: a stateless stream. Each request_key is answered with raw
//     binary chunk frames followed by progress and session_complete text
//     messages. Nothing outlives the connection.
//   - GET /session/{session_id}?role=: a resumable session. The service
//     announces itself with a connected message and sends chunks as base64
//     key_chunk JSON messages. Dropping the connection suspends the session;
//     reconnecting with the same id resumes it with its role and counters.
//
// Requests without a websocket upgrade get 400 "WebSocket required".
//
// Each connection has one reader goroutine delivering inbound frames to the
// session and one goroutine (the HTTP handler) running the session, which is
// the only writer of data frames.
package streamhandler
