/*
Package httpserver wires the key delivery service into a runnable HTTP server.

It builds the entropy source and pacing controller from api.KeyServiceConfig,
creates the session registry on top of an attachment store, and mounts both
transports on a chi router:

  - GET /key/{count}, GET /health: bulk delivery (access logged)
  - GET /stream, GET /session/{session_id}: websocket delivery
  - GET /livez, /readyz, /drain, /undrain: orchestration endpoints
  - /debug/pprof: profiling, when enabled

Every response carries Access-Control-Allow-Origin: * and OPTIONS requests
are answered as CORS preflights. Prometheus metrics are served on a separate
listener.

# Shutdown

Shutdown marks the server not ready, waits for the drain period so load
balancers stop routing to it, shuts down the HTTP listener and then cancels
the remaining websocket sessions. Session scoped connections are suspended
with close code 1001, so their attachments survive for a resume elsewhere.
*/
package httpserver
