package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"careline/cmd/internal/auth"
	v1 "careline/shared/contracts/chat/v1"
)

const (
	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// Gateway is the websocket entrypoint of the relay.
//
// It authenticates the handshake against the token verifier, registers the
// connection, and runs the per-connection read/write/heartbeat loops. All
// protocol interpretation is delegated to the Dispatcher.
type Gateway struct {
	log        *slog.Logger
	state      *State
	dispatcher *Dispatcher
	verifier   auth.TokenVerifier

	// Cross-origin browser clients need their origin host authorized for
	// websocket.Accept; patterns are derived from the configured origins.
	originPatterns []string
	devInsecure    bool

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with env-tunable limits.
func NewGateway(log *slog.Logger, state *State, dispatcher *Dispatcher, verifier auth.TokenVerifier) *Gateway {
	g := &Gateway{
		log:        log,
		state:      state,
		dispatcher: dispatcher,
		verifier:   verifier,
	}

	// InsecureSkipVerify bypasses origin checks entirely; dev-only knob.
	g.devInsecure = envBoolWS("CARELINE_WS_DEV_INSECURE", false)
	g.originPatterns = originPatternsFrom(envCSVWS("CARELINE_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"))

	g.writeTimeout = envDurationWS("CARELINE_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("CARELINE_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("CARELINE_WS_SEND_QUEUE", defaultSendQueueSize)
	if g.sendQueueSize < minSendQueueSize {
		g.sendQueueSize = minSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("CARELINE_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("CARELINE_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("CARELINE_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("CARELINE_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so the gateway can be mounted as an http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the connection until it terminates.
// Route shape: GET /chat/ws/{user_id}?token=<credential>.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	pathUserID := r.PathValue("user_id")
	token := r.URL.Query().Get("token")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	// The credential decides the identity; the path id must agree with it.
	// Auth failures close with 1008 and never reach the registry.
	identity, err := g.verifier.Verify(token)
	if err != nil || (pathUserID != "" && identity.UserID != pathUserID) {
		g.log.Info("ws.reject.auth", "user_id", pathUserID, "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "Authentication failed")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	client := g.state.Register(identity, g.sendQueueSize, now)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It runs the full disconnect sequence exactly
	// once regardless of which loop hit a terminal condition first.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.state.Disconnect(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	if err := g.state.SendTo(client, v1.ConnectionConfirmed{
		Type:    v1.KindConnectionConfirmed,
		Message: "Connected to careline chat",
		UserInfo: v1.UserInfo{
			UserID: identity.UserID,
			Role:   identity.Role,
			Name:   identity.DisplayName,
		},
		Timestamp: now,
	}); err != nil {
		shutdown(websocket.StatusInternalError, "confirm failed")
		return
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// Done fired outside shutdown: superseded or dropped after a
				// delivery failure. The closure is a no-op on normal paths.
				shutdown(websocket.StatusPolicyViolation, "connection superseded")
				return
			case frame := <-client.Frames():
				if err := g.writeFrame(ctx, conn, frame); err != nil {
					g.log.Info("ws.write.fail", "user_id", identity.UserID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "user_id", identity.UserID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "user_id", identity.UserID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		eventNow := time.Now().UTC()
		if !rl.Allow(eventNow) {
			g.state.metrics.rateLimited()
			_ = g.state.SendTo(client, v1.NewError("Too many events"))
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		g.dispatcher.HandleFrame(client, data, eventNow)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *Gateway) writeFrame(parent context.Context, conn *websocket.Conn, frame []byte) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, errors.New("unsupported message type")
	}
	return data, nil
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

// originPatternsFrom extracts the host part of each allowed origin;
// websocket.Accept matches OriginPatterns against origin hosts.
func originPatternsFrom(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	out := make([]string, 0, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
