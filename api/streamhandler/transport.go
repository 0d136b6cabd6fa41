package streamhandler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// connTransport adapts a websocket connection to session.Transport. Writes
// come from the session goroutine only; Close may race with them, which
// gorilla permits for control frames and Close.
type connTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func newConnTransport(conn *websocket.Conn, writeTimeout time.Duration) *connTransport {
	return &connTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *connTransport) WriteText(frame []byte) error {
	return t.write(websocket.TextMessage, frame)
}

func (t *connTransport) WriteBinary(frame []byte) error {
	return t.write(websocket.BinaryMessage, frame)
}

func (t *connTransport) write(messageType int, frame []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	return t.conn.WriteMessage(messageType, frame)
}

// Close sends a close frame with code and reason, then closes the connection.
// Only the first call has an effect.
func (t *connTransport) Close(code int, reason string) error {
	t.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		if code != 0 {
			_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		}
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
