// Package bridge pairs one client-facing websocket with one upstream
// websocket for the lifetime of a call, forwarding frames in both
// directions. Client control messages pass through the outbound
// rewriter on the way upstream; upstream frames are forwarded
// transparently.
package bridge

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/swara-ai/swara/internal/rewrite"
)

const (
	// Time allowed to write a message to either peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to the client with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the client.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// State is the bridge lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateBridged
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateBridged:
		return "bridged"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observer receives a read-only copy of every upstream frame after it
// has been forwarded to the client. The forward path never depends on
// the observer.
type Observer func(messageType int, data []byte)

// Options configures a single bridge session.
type Options struct {
	UpstreamURL string
	Credential  string
	ModelConfig *rewrite.ExternalModelConfig
	Observer    Observer
	Registry    *Registry
	Logger      *zap.Logger

	// Dialer overrides the upstream dialer.
	Dialer *websocket.Dialer
}

// peer wraps a websocket connection with write serialization. The data
// pump and the ping loop both write to the client socket.
type peer struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (p *peer) write(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return p.ws.WriteMessage(messageType, data)
}

func (p *peer) writeClose(code int, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return p.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// Bridge owns exactly one client socket and one upstream socket. No
// other component writes to either; sessions share no mutable state.
type Bridge struct {
	ID string

	client   *peer
	upstream *peer

	modelConfig *rewrite.ExternalModelConfig
	observe     Observer
	registry    *Registry
	logger      *zap.Logger

	// mu guards the Connecting→Bridged transition so a shutdown racing
	// the upstream dial cannot leak the freshly opened socket.
	mu        sync.Mutex
	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
}

// Handle upgrades the inbound request and runs the bridge until either
// side reaches a terminal close state. Pre-upgrade validation (upgrade
// header, configured credential) is the caller's responsibility and
// must happen before any socket opens.
func Handle(c echo.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	b := &Bridge{
		ID:          uuid.NewString(),
		client:      &peer{ws: conn},
		modelConfig: opts.ModelConfig,
		observe:     opts.Observer,
		registry:    opts.Registry,
		done:        make(chan struct{}),
	}
	b.logger = logger.With(zap.String("session_id", b.ID))
	b.state.Store(int32(StateConnecting))

	if b.registry != nil {
		b.registry.register(b)
	}

	// Client reads start immediately so close events are observed even
	// while the upstream dial is in flight; data frames arriving in
	// that window are dropped, not buffered.
	go b.clientPump()
	go b.connectUpstream(opts)

	return nil
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Done is closed when the bridge reaches the terminal state.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func (b *Bridge) connectUpstream(opts Options) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		}
	}
	dialer.Subprotocols = []string{"token", opts.Credential}

	conn, resp, err := dialer.Dial(opts.UpstreamURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		b.logger.Error("Upstream connect failed",
			zap.String("url", opts.UpstreamURL),
			zap.Int("status", status),
			zap.Error(err))
		b.shutdown(websocket.CloseInternalServerErr, "upstream connection failed")
		return
	}

	b.mu.Lock()
	if b.State() != StateConnecting {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.upstream = &peer{ws: conn}
	b.state.Store(int32(StateBridged))
	b.mu.Unlock()
	b.logger.Info("Session bridged", zap.String("upstream", opts.UpstreamURL))

	go b.pingLoop()
	b.upstreamPump()
}

// clientPump forwards client frames upstream. Text frames pass through
// the outbound rewriter first; binary frames forward byte-for-byte.
func (b *Bridge) clientPump() {
	b.client.ws.SetReadLimit(maxMessageSize)
	b.client.ws.SetReadDeadline(time.Now().Add(pongWait))
	b.client.ws.SetPongHandler(func(string) error {
		b.client.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := b.client.ws.ReadMessage()
		if err != nil {
			code, reason := closeCodeFrom(err, "client connection closed")
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Error("Client socket error", zap.Error(err))
			}
			b.shutdown(code, reason)
			return
		}

		if b.State() != StateBridged {
			// Lossy by design: the session start window drops rather
			// than queueing unboundedly.
			b.logger.Warn("Dropping client frame before upstream is open",
				zap.Int("type", messageType),
				zap.Int("size", len(message)))
			continue
		}

		switch messageType {
		case websocket.TextMessage:
			message = rewrite.Rewrite(message, b.modelConfig)
		case websocket.BinaryMessage:
			// Forwarded as-is, no transcoding.
		default:
			b.logger.Warn("Ignoring client frame of unknown type", zap.Int("type", messageType))
			continue
		}

		if err := b.upstream.write(messageType, message); err != nil {
			b.logger.Error("Upstream write failed", zap.Error(err))
			b.shutdown(websocket.CloseInternalServerErr, "upstream write failed")
			return
		}
	}
}

// upstreamPump forwards upstream frames to the client verbatim, then
// hands a copy to the observer.
func (b *Bridge) upstreamPump() {
	for {
		messageType, message, err := b.upstream.ws.ReadMessage()
		if err != nil {
			code, reason := closeCodeFrom(err, "upstream connection closed")
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Error("Upstream socket error", zap.Error(err))
			}
			b.shutdown(code, reason)
			return
		}

		if err := b.client.write(messageType, message); err != nil {
			b.logger.Error("Client write failed", zap.Error(err))
			b.shutdown(websocket.CloseInternalServerErr, "client write failed")
			return
		}

		if b.observe != nil {
			b.observe(messageType, message)
		}
	}
}

func (b *Bridge) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.client.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-b.done:
			return
		}
	}
}

// Close tears the session down with a normal closure.
func (b *Bridge) Close(reason string) {
	b.shutdown(websocket.CloseNormalClosure, reason)
}

// shutdown propagates closure to both sockets with the same
// code/reason pair, then releases the session. Guarded against double
// close; errors while closing are logged, never re-thrown.
func (b *Bridge) shutdown(code int, reason string) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.state.Store(int32(StateClosing))
		upstream := b.upstream
		b.mu.Unlock()

		b.logger.Info("Closing session",
			zap.Int("code", code),
			zap.String("reason", reason))

		if err := b.client.writeClose(code, reason); err != nil {
			b.logger.Debug("Client close write failed", zap.Error(err))
		}
		if err := b.client.ws.Close(); err != nil {
			b.logger.Debug("Client close failed", zap.Error(err))
		}

		if upstream != nil {
			if err := upstream.writeClose(code, reason); err != nil {
				b.logger.Debug("Upstream close write failed", zap.Error(err))
			}
			if err := upstream.ws.Close(); err != nil {
				b.logger.Debug("Upstream close failed", zap.Error(err))
			}
		}

		b.state.Store(int32(StateClosed))
		if b.registry != nil {
			b.registry.unregister(b)
		}
		close(b.done)
	})
}

// closeCodeFrom extracts the code/reason pair from a socket error,
// defaulting to 1011 with the supplied reason. Receive-only codes
// (1005, 1006) cannot be echoed into a close frame and map to 1011.
func closeCodeFrom(err error, fallback string) (int, string) {
	ce, ok := err.(*websocket.CloseError)
	if !ok || ce.Code == websocket.CloseNoStatusReceived || ce.Code == websocket.CloseAbnormalClosure {
		return websocket.CloseInternalServerErr, fallback
	}
	reason := ce.Text
	if reason == "" {
		reason = fallback
	}
	return ce.Code, reason
}
