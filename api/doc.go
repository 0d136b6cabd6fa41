/*
Package api holds the configuration and HTTP-level constants shared by the key
delivery handlers, the server shell and the clients.

The service hands out keyB material for split one-time-pad transfers over two
transports:

  - api/keyhandler: bulk delivery, GET /key/{count} returns count chunks of
    16 KiB as one octet-stream response. Also serves /health and the CORS
    preflight.
  - api/streamhandler: websocket delivery, either stateless (/stream, binary
    frames) or session scoped (/session/{session_id}, base64 key_chunk JSON
    messages with resumable counters).

Each subpackage contains the HTTP handler and the matching Go client.

# Security Model

Key material is generated on request, held in locked memory only for the
duration of a single chunk write, and never stored or logged. The only durable
state is a session attachment: session id, role label and a chunk counter.
*/
package api
