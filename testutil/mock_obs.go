// Package testutil provides an in-process OBS WebSocket v5 server for
// client tests: it performs the Hello/Identify handshake, answers requests,
// and can push events or inject failures.
package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// RequestHandler produces the response payload for one request type. Return
// ok=false to answer with a failed request status.
type RequestHandler func(requestData json.RawMessage) (responseData interface{}, ok bool, comment string)

// MockOBS is a single-connection OBS WebSocket v5 stand-in.
type MockOBS struct {
	Password string // empty disables the auth challenge

	listener net.Listener
	server   *http.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]RequestHandler
	requests []string // request types seen, in order

	// DropAfterIdentify closes the connection right after the handshake,
	// exercising the client's disconnect path.
	DropAfterIdentify bool
}

type wsMessage struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewMockOBS creates a stopped mock server.
func NewMockOBS() *MockOBS {
	return &MockOBS{handlers: make(map[string]RequestHandler)}
}

// Start listens on a loopback port.
func (m *MockOBS) Start() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	m.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", m.serveWS)
	m.server = &http.Server{Handler: mux}
	go func() { _ = m.server.Serve(ln) }()
	return nil
}

// Stop closes the server and any live connection.
func (m *MockOBS) Stop() {
	m.mu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()
	if m.server != nil {
		_ = m.server.Close()
	}
}

// URL returns the websocket URL of the running server.
func (m *MockOBS) URL() string {
	return "ws://" + m.listener.Addr().String()
}

// Handle registers the response for a request type. Unregistered types get a
// generic success with empty response data.
func (m *MockOBS) Handle(requestType string, h RequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[requestType] = h
}

// Requests returns the request types received so far, in arrival order.
func (m *MockOBS) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// PushEvent sends an op 5 event to the connected client.
func (m *MockOBS) PushEvent(eventType string, eventData interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("mock obs: no client connected")
	}
	data, err := json.Marshal(map[string]interface{}{
		"eventType": eventType,
		"eventData": eventData,
	})
	if err != nil {
		return err
	}
	return conn.WriteJSON(wsMessage{Op: 5, D: data})
}

// DropConnection closes the active client connection without stopping the
// server, so the client sees an unexpected disconnect.
func (m *MockOBS) DropConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

func (m *MockOBS) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	defer conn.Close()

	challenge, salt := randomToken(), randomToken()
	if err := m.sendHello(conn, challenge, salt); err != nil {
		return
	}

	var identify wsMessage
	if err := conn.ReadJSON(&identify); err != nil || identify.Op != 1 {
		return
	}
	if m.Password != "" && !m.checkAuth(identify.D, challenge, salt) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(4009, "authentication failed"))
		return
	}

	identified, _ := json.Marshal(map[string]interface{}{"negotiatedRpcVersion": 1})
	if err := conn.WriteJSON(wsMessage{Op: 2, D: identified}); err != nil {
		return
	}

	if m.DropAfterIdentify {
		return
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Op != 6 {
			continue
		}
		if err := m.answer(conn, msg.D); err != nil {
			return
		}
	}
}

func (m *MockOBS) sendHello(conn *websocket.Conn, challenge, salt string) error {
	hello := map[string]interface{}{
		"obsWebSocketVersion": "5.3.3",
		"rpcVersion":          1,
	}
	if m.Password != "" {
		hello["authentication"] = map[string]string{
			"challenge": challenge,
			"salt":      salt,
		}
	}
	data, err := json.Marshal(hello)
	if err != nil {
		return err
	}
	return conn.WriteJSON(wsMessage{Op: 0, D: data})
}

// checkAuth verifies the client's SHA-256 challenge answer.
func (m *MockOBS) checkAuth(identifyData json.RawMessage, challenge, salt string) bool {
	var ident struct {
		Authentication string `json:"authentication"`
	}
	if err := json.Unmarshal(identifyData, &ident); err != nil {
		return false
	}
	secret := sha256.Sum256([]byte(m.Password + salt))
	expect := sha256.Sum256([]byte(base64.StdEncoding.EncodeToString(secret[:]) + challenge))
	return ident.Authentication == base64.StdEncoding.EncodeToString(expect[:])
}

func (m *MockOBS) answer(conn *websocket.Conn, raw json.RawMessage) error {
	var req struct {
		RequestType string          `json:"requestType"`
		RequestID   string          `json:"requestId"`
		RequestData json.RawMessage `json:"requestData"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}

	m.mu.Lock()
	m.requests = append(m.requests, req.RequestType)
	handler := m.handlers[req.RequestType]
	m.mu.Unlock()

	responseData := interface{}(map[string]interface{}{})
	ok, comment := true, ""
	if handler != nil {
		responseData, ok, comment = handler(req.RequestData)
	}

	code := 100
	if !ok {
		code = 204
	}
	payload, err := json.Marshal(map[string]interface{}{
		"requestType": req.RequestType,
		"requestId":   req.RequestID,
		"requestStatus": map[string]interface{}{
			"result":  ok,
			"code":    code,
			"comment": comment,
		},
		"responseData": responseData,
	})
	if err != nil {
		return err
	}
	return conn.WriteJSON(wsMessage{Op: 7, D: payload})
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}
