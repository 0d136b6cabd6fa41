// Package pacing drives key generation for one request at the speed of the
// transport.
//
// The Controller holds exactly one chunk in memory at a time: it generates a
// chunk, hands it to the Sink, wipes it, and only then generates the next one.
// A blocking Sink therefore throttles generation, which is the whole
// backpressure mechanism. Between chunks the controller yields to the Sink so
// the transport can process control messages (ping, end_session) and
// observes cancellation, so no new chunk starts after the request was
// cancelled.
//
// Progress is reported every Cadence chunks and on the final chunk, not per
// chunk.
package pacing
