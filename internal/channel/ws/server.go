// Package ws implements the WebSocket command transport using
// gorilla/websocket. Each authenticated connection is a private chat whose
// ChatID is the connection ID.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/soyeahso/cmdbot/internal/domain"
	"github.com/soyeahso/cmdbot/internal/logging"
	"github.com/soyeahso/cmdbot/internal/version"
)

const (
	maxPayload       = 64 * 1024
	handshakeTimeout = 10 * time.Second
)

// ErrUnknownConnection is returned by Send when the target connection has
// gone away.
var ErrUnknownConnection = errors.New("ws: unknown connection")

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// Server is the WebSocket transport. It implements domain.Transport.
type Server struct {
	cfg      config.WebSocketConfig
	token    string
	prefix   string
	log      *logging.Logger
	clients  *ClientRegistry
	limiter  *authRateLimiter
	upgrader websocket.Upgrader
	eventSeq atomic.Int64

	mu         sync.RWMutex
	handler    func(inv domain.Invocation)
	httpServer *http.Server
	addr       string
	running    bool
	lastErr    string
}

// New creates a WebSocket transport. token is the bot credential clients
// must present; prefix is used to parse free-text command frames.
func New(cfg config.WebSocketConfig, token, prefix string, log *logging.Logger) *Server {
	log = log.Sub("ws")
	return &Server{
		cfg:     cfg,
		token:   token,
		prefix:  prefix,
		log:     log,
		clients: NewClientRegistry(log),
		limiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
	}
}

func (s *Server) ID() string { return "ws" }

func (s *Server) OnCommand(handler func(inv domain.Invocation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Status returns the current runtime status.
func (s *Server) Status() domain.TransportStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.TransportStatus{
		ChannelID: "ws",
		Connected: s.running,
		Running:   s.running,
		LastError: s.lastErr,
	}
}

// Addr returns the listen address once Start has bound it.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Clients returns the number of authenticated connections.
func (s *Server) Clients() int { return s.clients.Count() }

func (s *Server) bindAddr() string {
	host := s.cfg.Bind
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
}

// Handler returns the HTTP handler serving /health and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("/", handleNotFound)
	return withMiddleware(mux, s.log)
}

// Start listens for connections and blocks until ctx is cancelled, Stop is
// called, or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.bindAddr())
	if err != nil {
		s.setErr(err)
		return fmt.Errorf("ws listen on %s: %w", s.bindAddr(), err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.running = true
	s.lastErr = ""
	s.mu.Unlock()

	if host, _, _ := net.SplitHostPort(s.addr); !net.ParseIP(host).IsLoopback() {
		s.log.Warn().Str("addr", s.addr).Msg("listening beyond loopback without TLS; put a TLS proxy in front")
	}
	s.log.Info().Str("addr", s.addr).Msg("websocket transport ready")

	stopCtx, stop := context.WithCancel(ctx)
	defer stop()
	go s.limiter.run(stopCtx)
	go func() {
		<-stopCtx.Done()
		s.shutdown()
	}()

	err = srv.Serve(ln)
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.setErr(err)
		return err
	}
	return ctx.Err()
}

// Stop closes every connection and shuts the listener down.
func (s *Server) Stop(_ context.Context) error {
	s.shutdown()
	return nil
}

func (s *Server) shutdown() {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return
	}
	s.clients.CloseAll()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("websocket shutdown")
	}
}

func (s *Server) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err.Error()
}

// Send delivers a reply as a "reply" event to the connection named by
// msg.ChatID.
func (s *Server) Send(_ context.Context, msg domain.OutboundMessage) error {
	client, ok := s.clients.Get(msg.ChatID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, msg.ChatID)
	}
	return client.SendEvent(EventReply, ReplyPayload{
		InvocationID: msg.ReplyToID,
		Body:         msg.Body,
	}, s.eventSeq.Add(1))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "not found", http.StatusNotFound)
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed handshakes")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.limiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(client)
}

// handshake authenticates a new connection.
// Flow: server sends challenge, client sends connect, server replies hello.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent(EventChallenge, map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != MethodConnect {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if reason := authorize(s.token, params.Auth); reason != "" {
		sendErrorAndClose(conn, frame.ID, "unauthorized", reason)
		return nil, fmt.Errorf("auth failed: %s", reason)
	}
	if params.Client.ID == "" {
		sendErrorAndClose(conn, frame.ID, "invalid_params", "client.id is required")
		return nil, errors.New("connect without client id")
	}

	conn.SetReadDeadline(time.Time{})
	client := NewClient(conn, params.Client)

	resp, err := NewResponse(frame.ID, HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Name:    version.Name,
			Version: version.Version,
			ConnID:  client.ConnID,
		},
		Prefix: s.prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	if err := client.Send(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Msg("client authenticated")
	return client, nil
}

// readLoop processes request frames from an authenticated client.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else if !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}

		switch frame.Method {
		case MethodCommand:
			s.handleCommand(client, frame)
		default:
			client.RespondError(frame.ID, "method_not_found", "unknown method: "+frame.Method)
		}
	}
}

// handleCommand acknowledges a command frame and hands the invocation to the
// registered handler. Replies follow as events.
func (s *Server) handleCommand(client *Client, frame Frame) {
	var p CommandParams
	if err := json.Unmarshal(frame.Params, &p); err != nil {
		client.RespondError(frame.ID, "invalid_params", err.Error())
		return
	}

	inv, ok := s.invocation(client, p)
	if !ok {
		client.RespondError(frame.ID, "invalid_params", "no command given")
		return
	}
	if err := client.Respond(frame.ID, CommandAck{InvocationID: inv.ID}); err != nil {
		return
	}

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler != nil {
		handler(inv)
	}
}

func (s *Server) invocation(client *Client, p CommandParams) (domain.Invocation, bool) {
	name, args := strings.ToLower(strings.TrimSpace(p.Command)), p.Args
	if name == "" {
		var ok bool
		if name, args, ok = domain.ParseCommand(p.Text, s.prefix); !ok {
			return domain.Invocation{}, false
		}
	}
	return domain.Invocation{
		ID:        uuid.New().String(),
		ChannelID: "ws",
		Command:   name,
		Args:      args,
		SenderID:  client.Info.ID,
		ChatKind:  domain.ChatKindPrivate,
		ChatID:    client.ConnID,
		Timestamp: time.Now(),
	}, true
}

// sendErrorAndClose sends an error response and a close frame.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteJSON(NewErrorResponse(reqID, code, message))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
