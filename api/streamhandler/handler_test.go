package streamhandler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/ruteri/keystream/interfaces"
	"github.com/ruteri/keystream/keygen"
	"github.com/ruteri/keystream/pacing"
	"github.com/ruteri/keystream/session"
	"github.com/ruteri/keystream/storage"
	"github.com/ruteri/keystream/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChunkSize = 128

type testEnv struct {
	server   *httptest.Server
	handler  *Handler
	registry *session.Registry
	store    interfaces.AttachmentStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessionCfg := &session.Config{
		Pacer:     pacing.NewController(keygen.NewGeneratorWithSize(nil, testChunkSize), 2),
		MaxChunks: 50,
		Log:       logger,
	}
	store := storage.NewMemoryBackend()
	registry := session.NewRegistry(sessionCfg, store)

	handler := NewHandler(&Config{
		Session:      sessionCfg,
		WriteTimeout: 5 * time.Second,
	}, registry, logger)

	mux := chi.NewRouter()
	handler.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		handler.Close()
		server.Close()
	})

	return &testEnv{server: server, handler: handler, registry: registry, store: store}
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + path
}

func readText(t *testing.T, conn *websocket.Conn) wire.ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	msg, err := wire.ParseServerMessage(data)
	require.NoError(t, err)
	return msg
}

func TestPlainHTTPRejected(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/stream", "/session/abc"} {
		resp, err := http.Get(env.server.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Equal(t, "WebSocket required\n", string(body), path)
	}
	assert.Equal(t, 0, env.registry.Active())
	assert.Equal(t, int64(0), env.registry.Stats().Opened)
}

func TestSession_RequestKeyThenEnd(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/session/abc"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, wire.Connected{SessionID: "abc", Role: "sender"}, readText(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"request_key","chunk_count":3}`)))

	var chunks [][]byte
	for i := 0; i < 3; i++ {
		msg := readText(t, conn)
		kc, ok := msg.(wire.KeyChunk)
		require.True(t, ok, "got %#v", msg)
		assert.Equal(t, int64(i), kc.Index)
		assert.Len(t, kc.Data, testChunkSize)
		if i == 1 {
			// cadence is 2 in this environment
			assert.Equal(t, wire.Progress{Current: 2, Total: 3}, readText(t, conn))
		}
		chunks = append(chunks, kc.Data)
	}
	assert.Equal(t, wire.Progress{Current: 3, Total: 3}, readText(t, conn))
	assert.Equal(t, wire.SessionComplete{TotalChunks: 3}, readText(t, conn))
	assert.False(t, bytes.Equal(chunks[0], chunks[1]))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(wire.PingText)))
	assert.Equal(t, wire.Pong{}, readText(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"end_session"}`)))
	assert.Equal(t, wire.SessionComplete{TotalChunks: 0}, readText(t, conn))

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "session_complete", closeErr.Text)
}

func TestSession_ClientRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client, err := DialSession(ctx, env.server.URL, "round-trip", interfaces.RoleReceiver)
	require.NoError(t, err)
	assert.Equal(t, "round-trip", client.SessionID)
	assert.Equal(t, interfaces.RoleReceiver, client.Role)

	var progress []int64
	var buf bytes.Buffer
	total, err := client.RequestKey(5, &buf, func(current, total int64) {
		assert.Equal(t, int64(5), total)
		progress = append(progress, current)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Equal(t, 5*testChunkSize, buf.Len())
	assert.Equal(t, []int64{2, 4, 5}, progress)

	clamped, err := client.RequestKey(1000, io.Discard, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(50), clamped)

	require.NoError(t, client.Ping())
	require.NoError(t, client.End())

	require.Eventually(t, func() bool { return env.registry.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
	_, err = env.store.Load(ctx, "round-trip")
	assert.ErrorIs(t, err, interfaces.ErrAttachmentNotFound)
}

func TestSession_ResumeAfterDisconnect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := DialSession(ctx, env.server.URL, "resume-me", interfaces.RoleReceiver)
	require.NoError(t, err)
	_, err = first.RequestKey(4, io.Discard, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool { return env.registry.Active() == 0 }, 5*time.Second, 10*time.Millisecond)

	second, err := DialSession(ctx, env.server.URL, "resume-me", "")
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, "resume-me", second.SessionID)
	assert.Equal(t, interfaces.RoleReceiver, second.Role)

	live, ok := env.registry.Lookup("resume-me")
	require.True(t, ok)
	assert.Equal(t, int64(4), live.ChunksGenerated())
}

func TestSession_SecondConnectionTakesOver(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	oldConn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/session/shared"), nil)
	require.NoError(t, err)
	defer oldConn.Close()
	readText(t, oldConn)

	newClient, err := DialSession(ctx, env.server.URL, "shared", "")
	require.NoError(t, err)
	defer newClient.Close()

	oldConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = oldConn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, 1012, closeErr.Code)
	assert.Equal(t, "session resumed elsewhere", closeErr.Text)

	total, err := newClient.RequestKey(1, io.Discard, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestSession_InvalidParameters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := DialSession(ctx, env.server.URL, "abc", interfaces.Role("admin"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invalid role")

	_, err = DialSession(ctx, env.server.URL, strings.Repeat("x", session.MaxSessionIDLength+1), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid session id")
}

func TestSession_MalformedMessagesIgnored(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/session/noisy"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readText(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(wire.PingText)))

	assert.Equal(t, wire.Pong{}, readText(t, conn))
}

func TestStream_BinaryChunks(t *testing.T) {
	env := newTestEnv(t)

	client, err := DialStream(context.Background(), env.server.URL)
	require.NoError(t, err)
	defer client.Close()

	var buf bytes.Buffer
	total, err := client.RequestKey(3, &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Equal(t, 3*testChunkSize, buf.Len())

	data := buf.Bytes()
	assert.False(t, bytes.Equal(data[:testChunkSize], data[testChunkSize:2*testChunkSize]))

	assert.Equal(t, 0, env.registry.Active())
}

func TestStream_RawFrames(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/stream"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"request_key","chunk_count":1}`)))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Len(t, data, testChunkSize)

	assert.Equal(t, wire.Progress{Current: 1, Total: 1}, readText(t, conn))
	assert.Equal(t, wire.SessionComplete{TotalChunks: 1}, readText(t, conn))
}

func TestHandlerClose_SuspendsSessions(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/session/shutdown"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readText(t, conn)

	env.handler.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)

	_, err = env.store.Load(context.Background(), "shutdown")
	assert.NoError(t, err)
}

// scriptedServer accepts one session connection, waits for request_key and
// replies with the given frames.
func scriptedServer(t *testing.T, frames ...wire.ServerMessage) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		write := func(msg wire.ServerMessage) error {
			data, err := wire.MarshalServerMessage(msg)
			if err != nil {
				return err
			}
			return conn.WriteMessage(websocket.TextMessage, data)
		}
		if write(wire.Connected{SessionID: "scripted", Role: "sender"}) != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for _, frame := range frames {
			if write(frame) != nil {
				return
			}
		}
		conn.ReadMessage()
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_OverlappingRequestRejectionKeepsTransfer(t *testing.T) {
	server := scriptedServer(t,
		wire.KeyChunk{Index: 0, Data: []byte{1, 2}},
		wire.Error{Message: session.MsgRequestInProgress},
		wire.KeyChunk{Index: 1, Data: []byte{3, 4}},
		wire.SessionComplete{TotalChunks: 2},
	)

	client, err := DialSession(context.Background(), server.URL, "scripted", "")
	require.NoError(t, err)
	defer client.Close()

	var out bytes.Buffer
	total, err := client.RequestKey(2, &out, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, []byte{1, 2, 3, 4}, out.Bytes())
}

func TestClient_GenerationFailureEndsTransfer(t *testing.T) {
	server := scriptedServer(t,
		wire.KeyChunk{Index: 0, Data: []byte{1, 2}},
		wire.Error{Message: session.MsgGenerationFailed},
	)

	client, err := DialSession(context.Background(), server.URL, "scripted", "")
	require.NoError(t, err)
	defer client.Close()

	received, err := client.RequestKey(2, io.Discard, nil)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int64(1), received)
}
