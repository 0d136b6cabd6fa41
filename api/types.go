package api

// Response headers of the bulk endpoint.
const (
	HeaderChunkCount = "X-Chunk-Count"
	HeaderChunkSize  = "X-Chunk-Size"
)

// HealthBody is the plain text body of GET /health.
const HealthBody = "keystream OK"

// Plain text error bodies.
const (
	ErrBodyNotFound          = "Not Found"
	ErrBodyGenerationFailed  = "Random generation failed"
	ErrBodyWebSocketRequired = "WebSocket required"
)
