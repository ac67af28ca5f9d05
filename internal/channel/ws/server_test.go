package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/soyeahso/cmdbot/internal/domain"
	"github.com/soyeahso/cmdbot/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token-123"

type recorder struct {
	mu   sync.Mutex
	invs []domain.Invocation
}

func (r *recorder) handle(inv domain.Invocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invs = append(r.invs, inv)
}

func (r *recorder) snapshot() []domain.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Invocation(nil), r.invs...)
}

func testServer(t *testing.T) (*Server, *httptest.Server, *recorder) {
	t.Helper()
	srv := New(config.WebSocketConfig{}, testToken, "!", logging.New(nil, "silent"))
	rec := &recorder{}
	srv.OnCommand(rec.handle)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, rec
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	assert.Equal(t, FrameTypeEvent, challenge.Type)
	assert.Equal(t, EventChallenge, challenge.Event)
	return conn
}

func connect(t *testing.T, conn *websocket.Conn, clientID, token string) Frame {
	t.Helper()
	req, err := NewRequest("req-1", MethodConnect, ConnectParams{
		Protocol: ProtocolVersion,
		Client:   ClientInfo{ID: clientID, Version: "1.0.0"},
		Auth:     &ConnectAuth{Token: token},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func login(t *testing.T, ts *httptest.Server, clientID string) (*websocket.Conn, HelloOK) {
	t.Helper()
	conn := dial(t, ts)
	resp := connect(t, conn, clientID, testToken)
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK, "handshake failed: %+v", resp.Error)

	var hello HelloOK
	require.NoError(t, json.Unmarshal(resp.Payload, &hello))
	return conn, hello
}

func TestHealthEndpoint(t *testing.T) {
	_, ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
}

func TestNotFoundEndpoint(t *testing.T) {
	_, ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandshakeSuccess(t *testing.T) {
	srv, ts, _ := testServer(t)
	_, hello := login(t, ts, "alice")

	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.Equal(t, "!", hello.Prefix)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Eventually(t, func() bool { return srv.Clients() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandshakeRejected(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		token    string
		code     string
	}{
		{"wrong token", "alice", "wrong", "unauthorized"},
		{"no token", "alice", "", "unauthorized"},
		{"no client id", "", testToken, "invalid_params"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, ts, _ := testServer(t)
			conn := dial(t, ts)
			resp := connect(t, conn, tt.clientID, tt.token)

			require.NotNil(t, resp.OK)
			assert.False(t, *resp.OK)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, 0, srv.Clients())
		})
	}
}

func TestHandshakeWrongFirstFrame(t *testing.T) {
	_, ts, _ := testServer(t)
	conn := dial(t, ts)

	req, err := NewRequest("req-1", MethodCommand, CommandParams{Command: "status"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "protocol_error", resp.Error.Code)
}

func TestHandshakeRateLimited(t *testing.T) {
	srv, ts, _ := testServer(t)
	for i := 0; i < authRateMaxFails; i++ {
		srv.limiter.recordFailure("127.0.0.1:1")
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestCommandAndReply(t *testing.T) {
	srv, ts, rec := testServer(t)
	conn, hello := login(t, ts, "alice")

	req, err := NewRequest("req-2", MethodCommand, CommandParams{Text: "!Execute uptime -p"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var ack Frame
	require.NoError(t, conn.ReadJSON(&ack))
	require.NotNil(t, ack.OK)
	require.True(t, *ack.OK)
	var payload CommandAck
	require.NoError(t, json.Unmarshal(ack.Payload, &payload))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	inv := rec.snapshot()[0]
	assert.Equal(t, payload.InvocationID, inv.ID)
	assert.Equal(t, "ws", inv.ChannelID)
	assert.Equal(t, "execute", inv.Command)
	assert.Equal(t, []string{"uptime", "-p"}, inv.Args)
	assert.Equal(t, "alice", inv.SenderID)
	assert.Equal(t, domain.ChatKindPrivate, inv.ChatKind)
	assert.Equal(t, hello.Server.ConnID, inv.ChatID)

	require.NoError(t, srv.Send(context.Background(), domain.OutboundMessage{
		ChannelID: "ws",
		ChatID:    inv.ChatID,
		Body:      "up 3 days",
		ReplyToID: inv.ID,
	}))

	var event Frame
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, FrameTypeEvent, event.Type)
	assert.Equal(t, EventReply, event.Event)
	var reply ReplyPayload
	require.NoError(t, json.Unmarshal(event.Payload, &reply))
	assert.Equal(t, ReplyPayload{InvocationID: inv.ID, Body: "up 3 days"}, reply)
}

func TestStructuredCommand(t *testing.T) {
	_, ts, rec := testServer(t)
	conn, _ := login(t, ts, "alice")

	req, err := NewRequest("req-2", MethodCommand, CommandParams{Command: " GitLog ", Args: []string{"5"}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var ack Frame
	require.NoError(t, conn.ReadJSON(&ack))
	require.True(t, *ack.OK)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "gitlog", rec.snapshot()[0].Command)
	assert.Equal(t, []string{"5"}, rec.snapshot()[0].Args)
}

func TestCommandErrors(t *testing.T) {
	_, ts, rec := testServer(t)
	conn, _ := login(t, ts, "alice")

	for _, f := range []struct {
		method string
		params any
		code   string
	}{
		{MethodCommand, CommandParams{Text: "status without prefix"}, "invalid_params"},
		{MethodCommand, CommandParams{}, "invalid_params"},
		{"shell.open", map[string]any{}, "method_not_found"},
	} {
		req, err := NewRequest("r", f.method, f.params)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(req))

		var resp Frame
		require.NoError(t, conn.ReadJSON(&resp))
		require.NotNil(t, resp.Error, f.method)
		assert.Equal(t, f.code, resp.Error.Code)
	}
	assert.Empty(t, rec.snapshot())
}

func TestSend_UnknownConnection(t *testing.T) {
	srv, _, _ := testServer(t)
	err := srv.Send(context.Background(), domain.OutboundMessage{ChatID: "gone", Body: "hi"})
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestStartStop(t *testing.T) {
	srv := New(config.WebSocketConfig{Bind: "127.0.0.1", Port: 0}, testToken, "!", logging.New(nil, "silent"))

	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 10*time.Millisecond)
	assert.True(t, srv.Status().Running)

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.False(t, srv.Status().Running)
}

func TestStartCancelled(t *testing.T) {
	srv := New(config.WebSocketConfig{Bind: "127.0.0.1"}, testToken, "!", logging.New(nil, "silent"))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
