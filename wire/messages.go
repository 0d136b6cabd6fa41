package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Message type discriminators.
const (
	TypeRequestKey      = "request_key"
	TypeEndSession      = "end_session"
	TypeConnected       = "connected"
	TypeKeyChunk        = "key_chunk"
	TypeProgress        = "progress"
	TypeSessionComplete = "session_complete"
	TypeError           = "error"

	// PingText and PongText are plain-text liveness sentinels, not JSON.
	PingText = "ping"
	PongText = "pong"
)

var (
	// ErrProtocolViolation is the parent of every client message parse error.
	ErrProtocolViolation = errors.New("protocol violation")

	ErrMalformedMessage   = fmt.Errorf("%w: malformed message", ErrProtocolViolation)
	ErrUnknownMessageType = fmt.Errorf("%w: unknown message type", ErrProtocolViolation)
	ErrInvalidChunkCount  = fmt.Errorf("%w: invalid chunk count", ErrProtocolViolation)
)

// ClientMessage is a message sent from the client to the service.
type ClientMessage interface {
	clientMessage()
}

// RequestKey asks for ChunkCount chunks of key material.
type RequestKey struct {
	ChunkCount int64
}

// EndSession gracefully terminates the session.
type EndSession struct{}

// Ping is a liveness check.
type Ping struct{}

func (RequestKey) clientMessage() {}
func (EndSession) clientMessage() {}
func (Ping) clientMessage()       {}

// ServerMessage is a message sent from the service to the client.
type ServerMessage interface {
	serverMessage()
}

type Connected struct {
	SessionID string
	Role      string
}

// KeyChunk carries one chunk. Data is the raw (decoded) chunk.
type KeyChunk struct {
	Index int64
	Data  []byte
}

type Progress struct {
	Current int64
	Total   int64
}

type SessionComplete struct {
	TotalChunks int64
}

type Error struct {
	Message string
}

type Pong struct{}

func (Connected) serverMessage()       {}
func (KeyChunk) serverMessage()        {}
func (Progress) serverMessage()        {}
func (SessionComplete) serverMessage() {}
func (Error) serverMessage()           {}
func (Pong) serverMessage()            {}

type clientEnvelope struct {
	Type       string      `json:"type"`
	ChunkCount json.Number `json:"chunk_count,omitempty"`
	Count      json.Number `json:"count,omitempty"`
}

// parseChunkCount accepts any non-negative integer. Counts beyond int64
// saturate to math.MaxInt64 and are clamped later like any oversized request.
func parseChunkCount(n json.Number) (int64, error) {
	v, err := strconv.ParseUint(n.String(), 10, 64)
	switch {
	case errors.Is(err, strconv.ErrRange):
		return math.MaxInt64, nil
	case err != nil:
		return 0, fmt.Errorf("%w: %q", ErrInvalidChunkCount, n.String())
	case v > math.MaxInt64:
		return math.MaxInt64, nil
	}
	return int64(v), nil
}

// ParseClientMessage decodes one inbound text frame. Errors wrap
// ErrProtocolViolation.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	if string(data) == PingText {
		return Ping{}, nil
	}

	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case TypeRequestKey:
		raw := env.ChunkCount
		if raw == "" {
			raw = env.Count
		}
		if raw == "" {
			return nil, ErrInvalidChunkCount
		}
		count, err := parseChunkCount(raw)
		if err != nil {
			return nil, err
		}
		return RequestKey{ChunkCount: count}, nil
	case TypeEndSession:
		return EndSession{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

// MarshalClientMessage encodes a client message for transmission.
func MarshalClientMessage(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Ping:
		return []byte(PingText), nil
	case RequestKey:
		return json.Marshal(struct {
			Type       string `json:"type"`
			ChunkCount int64  `json:"chunk_count"`
		}{TypeRequestKey, m.ChunkCount})
	case EndSession:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{TypeEndSession})
	default:
		return nil, fmt.Errorf("unsupported client message %T", msg)
	}
}

// MarshalServerMessage encodes a server message. KeyChunk is supported for
// completeness, but the session loop uses Encoder.EncodeKeyChunk so the
// encoded bytes can be wiped.
func MarshalServerMessage(msg ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Pong:
		return []byte(PongText), nil
	case Connected:
		return json.Marshal(struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
			Role      string `json:"role"`
		}{TypeConnected, m.SessionID, m.Role})
	case KeyChunk:
		return appendKeyChunk(nil, m.Index, m.Data), nil
	case Progress:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Current int64  `json:"current"`
			Total   int64  `json:"total"`
		}{TypeProgress, m.Current, m.Total})
	case SessionComplete:
		return json.Marshal(struct {
			Type        string `json:"type"`
			TotalChunks int64  `json:"total_chunks"`
		}{TypeSessionComplete, m.TotalChunks})
	case Error:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{TypeError, m.Message})
	default:
		return nil, fmt.Errorf("unsupported server message %T", msg)
	}
}

type serverEnvelope struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	Role        string `json:"role"`
	Index       int64  `json:"index"`
	Data        string `json:"data"`
	Current     int64  `json:"current"`
	Total       int64  `json:"total"`
	TotalChunks int64  `json:"total_chunks"`
	Message     string `json:"message"`
}

// ParseServerMessage decodes one text frame received from the service. It is
// used by clients; the service never parses its own messages.
func ParseServerMessage(data []byte) (ServerMessage, error) {
	if bytes.Equal(data, []byte(PongText)) {
		return Pong{}, nil
	}

	var env serverEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case TypeConnected:
		return Connected{SessionID: env.SessionID, Role: env.Role}, nil
	case TypeKeyChunk:
		chunk, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: key_chunk data: %v", ErrMalformedMessage, err)
		}
		return KeyChunk{Index: env.Index, Data: chunk}, nil
	case TypeProgress:
		return Progress{Current: env.Current, Total: env.Total}, nil
	case TypeSessionComplete:
		return SessionComplete{TotalChunks: env.TotalChunks}, nil
	case TypeError:
		return Error{Message: env.Message}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}
