package streamhandler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/ruteri/keystream/interfaces"
	"github.com/ruteri/keystream/session"
	"github.com/ruteri/keystream/wire"
)

var (
	// ErrServerError wraps error messages sent by the service.
	ErrServerError = errors.New("key service error")

	// ErrUnexpectedMessage is returned when the service deviates from the protocol.
	ErrUnexpectedMessage = errors.New("unexpected message from key service")
)

// StreamClient is a client for the websocket endpoints. It is not safe for
// concurrent use.
type StreamClient struct {
	conn *websocket.Conn

	// SessionID and Role are set from the connected message on session
	// scoped connections.
	SessionID string
	Role      interfaces.Role

	stateless bool
}

// Progress is called with every progress message received during RequestKey.
type Progress func(current, total int64)

// DialStream opens a stateless stream on the service at baseURL (http or ws scheme).
func DialStream(ctx context.Context, baseURL string) (*StreamClient, error) {
	conn, err := dial(ctx, baseURL, "/stream", nil)
	if err != nil {
		return nil, err
	}
	return &StreamClient{conn: conn, stateless: true}, nil
}

// DialSession opens or resumes session id. An empty role lets the service
// decide: sender for new sessions, the stored role for resumed ones.
func DialSession(ctx context.Context, baseURL, id string, role interfaces.Role) (*StreamClient, error) {
	query := url.Values{}
	if role != "" {
		query.Set("role", string(role))
	}

	conn, err := dial(ctx, baseURL, "/session/"+url.PathEscape(id), query)
	if err != nil {
		return nil, err
	}

	c := &StreamClient{conn: conn}
	msg, err := c.readServerMessage()
	if err != nil {
		conn.Close()
		return nil, err
	}
	connected, ok := msg.(wire.Connected)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("%w: expected connected, got %T", ErrUnexpectedMessage, msg)
	}
	c.SessionID = connected.SessionID
	c.Role = interfaces.Role(connected.Role)
	return c, nil
}

func dial(ctx context.Context, baseURL, path string, query url.Values) (*websocket.Conn, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + path)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.RawQuery = query.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("could not connect to %s (%d): %s", u.Redacted(), resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("could not connect to %s: %w", u.Redacted(), err)
	}
	return conn, nil
}

// RequestKey asks for count chunks and writes them to w in index order. It
// returns the number of chunks the service committed to, which is count
// unless clamped.
func (c *StreamClient) RequestKey(count int64, w io.Writer, progress Progress) (int64, error) {
	if err := c.send(wire.RequestKey{ChunkCount: count}); err != nil {
		return 0, err
	}

	var received int64
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("could not read from key service: %w", err)
		}

		if messageType == websocket.BinaryMessage {
			if !c.stateless {
				return received, fmt.Errorf("%w: binary frame on session connection", ErrUnexpectedMessage)
			}
			if _, err := w.Write(data); err != nil {
				return received, err
			}
			received++
			continue
		}

		msg, err := wire.ParseServerMessage(data)
		if err != nil {
			return received, err
		}

		switch m := msg.(type) {
		case wire.KeyChunk:
			if m.Index != received {
				return received, fmt.Errorf("%w: chunk %d out of order, expected %d", ErrUnexpectedMessage, m.Index, received)
			}
			if _, err := w.Write(m.Data); err != nil {
				return received, err
			}
			received++
		case wire.Progress:
			if progress != nil {
				progress(m.Current, m.Total)
			}
		case wire.SessionComplete:
			if m.TotalChunks != received {
				return received, fmt.Errorf("%w: session_complete for %d chunks after %d", ErrUnexpectedMessage, m.TotalChunks, received)
			}
			return m.TotalChunks, nil
		case wire.Error:
			// A rejected overlapping request does not end the running one.
			if m.Message == session.MsgRequestInProgress {
				continue
			}
			return received, fmt.Errorf("%w: %s", ErrServerError, m.Message)
		case wire.Pong:
		default:
			return received, fmt.Errorf("%w: %T", ErrUnexpectedMessage, msg)
		}
	}
}

// Ping sends a ping and waits for the pong.
func (c *StreamClient) Ping() error {
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(wire.PingText)); err != nil {
		return err
	}
	msg, err := c.readServerMessage()
	if err != nil {
		return err
	}
	if _, ok := msg.(wire.Pong); !ok {
		return fmt.Errorf("%w: expected pong, got %T", ErrUnexpectedMessage, msg)
	}
	return nil
}

// End sends end_session, waits for the acknowledgement and the close frame.
func (c *StreamClient) End() error {
	if err := c.send(wire.EndSession{}); err != nil {
		return err
	}

	msg, err := c.readServerMessage()
	if err != nil {
		return err
	}
	if complete, ok := msg.(wire.SessionComplete); !ok || complete.TotalChunks != 0 {
		return fmt.Errorf("%w: expected session_complete, got %#v", ErrUnexpectedMessage, msg)
	}

	_, _, err = c.conn.ReadMessage()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return c.conn.Close()
	}
	c.conn.Close()
	return fmt.Errorf("expected normal close: %w", err)
}

// Close drops the connection without ending the session, which leaves a
// session scoped connection resumable.
func (c *StreamClient) Close() error {
	return c.conn.Close()
}

func (c *StreamClient) send(msg wire.ClientMessage) error {
	data, err := wire.MarshalClientMessage(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *StreamClient) readServerMessage() (wire.ServerMessage, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("could not read from key service: %w", err)
	}
	if messageType != websocket.TextMessage {
		return nil, fmt.Errorf("%w: binary frame", ErrUnexpectedMessage)
	}
	return wire.ParseServerMessage(data)
}
