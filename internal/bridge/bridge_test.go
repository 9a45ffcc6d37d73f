package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/swara-ai/swara/internal/rewrite"
)

// fakeUpstream is a websocket server standing in for the speech-agent
// service. Accepted connections are handed to the test via conns.
type fakeUpstream struct {
	server *httptest.Server
	conns  chan *websocket.Conn
	protos chan string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	f := &fakeUpstream{
		conns:  make(chan *websocket.Conn, 1),
		protos: make(chan string, 1),
	}

	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case f.protos <- r.Header.Get("Sec-WebSocket-Protocol"):
		default:
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upstream upgrade failed: %v", err)
			return
		}
		f.conns <- conn
	}))

	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeUpstream) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeUpstream) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("upstream connection never arrived")
		return nil
	}
}

// startBridge runs the relay endpoint against the fake upstream and
// returns a connected client socket.
func startBridge(t *testing.T, opts Options) *websocket.Conn {
	t.Helper()

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return Handle(c, opts)
	})

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func waitForConn(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return messageType, data
}

// waitBridged blocks until the single session in the registry reaches
// the Bridged state. Frames sent before that are dropped by design.
func waitBridged(t *testing.T, registry *Registry) {
	t.Helper()
	waitFor(t, func() bool {
		sessions := registry.Sessions()
		return len(sessions) == 1 && sessions[0].State() == StateBridged
	})
}

func TestBridgeForwardsBinaryAudioUnchanged(t *testing.T) {
	upstream := newFakeUpstream(t)
	registry := NewRegistry(zap.NewNop())
	client := startBridge(t, Options{
		UpstreamURL: upstream.wsURL(),
		Credential:  "test-key",
		Registry:    registry,
		Logger:      zap.NewNop(),
	})
	upstreamConn := upstream.accept(t)
	waitBridged(t, registry)

	audio := []byte{0x01, 0x02, 0x03, 0xff}
	if err := client.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	messageType, got := waitForConn(t, upstreamConn)
	if messageType != websocket.BinaryMessage {
		t.Errorf("Expected binary frame, got type %d", messageType)
	}
	if string(got) != string(audio) {
		t.Errorf("Expected %v forwarded byte-for-byte, got %v", audio, got)
	}
}

func TestBridgeCarriesCredentialSubprotocol(t *testing.T) {
	upstream := newFakeUpstream(t)
	startBridge(t, Options{
		UpstreamURL: upstream.wsURL(),
		Credential:  "secret-token",
		Logger:      zap.NewNop(),
	})
	upstream.accept(t)

	select {
	case protos := <-upstream.protos:
		if !strings.Contains(protos, "token") || !strings.Contains(protos, "secret-token") {
			t.Errorf("Expected bearer subprotocol, got %q", protos)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no subprotocol header observed")
	}
}

func TestBridgeRewritesAgentRequest(t *testing.T) {
	upstream := newFakeUpstream(t)
	registry := NewRegistry(zap.NewNop())
	client := startBridge(t, Options{
		UpstreamURL: upstream.wsURL(),
		Credential:  "test-key",
		ModelConfig: &rewrite.ExternalModelConfig{Provider: "openai", APIKey: "byo-key"},
		Registry:    registry,
		Logger:      zap.NewNop(),
	})
	upstreamConn := upstream.accept(t)
	waitBridged(t, registry)

	request := `{"type":"agent-request","agent":{"model":"aura","instructions":"hi"}}`
	if err := client.WriteMessage(websocket.TextMessage, []byte(request)); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	_, got := waitForConn(t, upstreamConn)

	var decoded map[string]interface{}
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("forwarded message is not JSON: %v", err)
	}
	agent := decoded["agent"].(map[string]interface{})
	think, ok := agent["think"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected think block to be injected")
	}
	auth := think["auth"].(map[string]interface{})
	if auth["value"] != "byo-key" {
		t.Errorf("Expected injected api key, got %v", auth["value"])
	}
	if agent["instructions"] != "hi" {
		t.Errorf("Expected instructions preserved, got %v", agent["instructions"])
	}
}

func TestBridgeForwardsUpstreamToClient(t *testing.T) {
	upstream := newFakeUpstream(t)

	observed := make(chan []byte, 1)
	client := startBridge(t, Options{
		UpstreamURL: upstream.wsURL(),
		Credential:  "test-key",
		Observer: func(messageType int, data []byte) {
			select {
			case observed <- data:
			default:
			}
		},
		Logger: zap.NewNop(),
	})
	upstreamConn := upstream.accept(t)

	payload := `{"type":"transcript","transcript":"hello"}`
	if err := upstreamConn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("upstream write failed: %v", err)
	}

	_, got := waitForConn(t, client)
	if string(got) != payload {
		t.Errorf("Expected %q forwarded verbatim, got %q", payload, got)
	}

	select {
	case tapped := <-observed:
		if string(tapped) != payload {
			t.Errorf("Observer saw %q, want %q", tapped, payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("observer never called")
	}
}

func TestBridgeClosePropagation(t *testing.T) {
	upstream := newFakeUpstream(t)
	registry := NewRegistry(zap.NewNop())
	client := startBridge(t, Options{
		UpstreamURL: upstream.wsURL(),
		Credential:  "test-key",
		Registry:    registry,
		Logger:      zap.NewNop(),
	})
	upstreamConn := upstream.accept(t)
	waitBridged(t, registry)

	// Drain the upstream side so close frames are processed.
	closeCode := make(chan int, 1)
	go func() {
		for {
			if _, _, err := upstreamConn.ReadMessage(); err != nil {
				if ce, ok := err.(*websocket.CloseError); ok {
					closeCode <- ce.Code
				} else {
					closeCode <- -1
				}
				return
			}
		}
	}()

	deadline := time.Now().Add(time.Second)
	client.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), deadline)
	client.Close()

	select {
	case code := <-closeCode:
		if code != websocket.CloseNormalClosure {
			t.Errorf("Expected close code %d propagated, got %d", websocket.CloseNormalClosure, code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("upstream never observed the close")
	}
}

func TestBridgeRegistryLifecycle(t *testing.T) {
	upstream := newFakeUpstream(t)
	registry := NewRegistry(zap.NewNop())

	client := startBridge(t, Options{
		UpstreamURL: upstream.wsURL(),
		Credential:  "test-key",
		Registry:    registry,
		Logger:      zap.NewNop(),
	})
	upstream.accept(t)

	waitFor(t, func() bool { return registry.Count() == 1 })

	client.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	client.Close()

	waitFor(t, func() bool { return registry.Count() == 0 })
}

func TestRegistryCloseAllDrainsSessions(t *testing.T) {
	upstream := newFakeUpstream(t)
	registry := NewRegistry(zap.NewNop())

	startBridge(t, Options{
		UpstreamURL: upstream.wsURL(),
		Credential:  "test-key",
		Registry:    registry,
		Logger:      zap.NewNop(),
	})
	upstream.accept(t)
	waitBridged(t, registry)

	sessions := registry.Sessions()
	registry.CloseAll("shutting down")

	// CloseAll returns only after every session hit the terminal state.
	for _, b := range sessions {
		select {
		case <-b.Done():
		default:
			t.Fatalf("Session %s not terminal after CloseAll", b.ID)
		}
		if b.State() != StateClosed {
			t.Errorf("Expected closed state, got %s", b.State())
		}
	}

	waitFor(t, func() bool { return registry.Count() == 0 })
}

func TestBridgeUpstreamConnectFailureClosesClient(t *testing.T) {
	// Dial a server that is not there.
	client := startBridge(t, Options{
		UpstreamURL: "ws://127.0.0.1:1/nowhere",
		Credential:  "test-key",
		Logger:      zap.NewNop(),
	})

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := client.ReadMessage()
	if err == nil {
		t.Fatal("Expected the client socket to be closed")
	}
	if ce, ok := err.(*websocket.CloseError); ok {
		if ce.Code != websocket.CloseInternalServerErr {
			t.Errorf("Expected close code 1011, got %d", ce.Code)
		}
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateConnecting: "connecting",
		StateBridged:    "bridged",
		StateClosing:    "closing",
		StateClosed:     "closed",
	}
	for state, want := range states {
		if state.String() != want {
			t.Errorf("Expected %q, got %q", want, state.String())
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}
