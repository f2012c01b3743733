// Package obsws implements a minimal OBS WebSocket v5 client covering the
// operations the session orchestrator needs: record start/stop, record
// directory changes, and status queries.
package obsws

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected reports a request issued without an identified connection.
var ErrNotConnected = errors.New("obsws: not connected")

const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

// eventSubscriptionAll subscribes to every event category.
const eventSubscriptionAll = 0xFFFFFFFF

const defaultHandshakeTimeout = 10 * time.Second
const defaultRequestTimeout = 10 * time.Second

type message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type identifyData struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type request struct {
	RequestType string      `json:"requestType"`
	RequestID   string      `json:"requestId"`
	RequestData interface{} `json:"requestData,omitempty"`
}

type response struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment,omitempty"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData,omitempty"`
}

type event struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
}

// Client talks to one OBS instance over its v5 websocket protocol.
type Client struct {
	url      string
	password string
	log      zerolog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	identified bool

	respMu    sync.Mutex
	responses map[string]chan *response

	onRecordStateChanged func(recording bool, outputPath string)
	onDisconnected       func()

	reconnectEnabled bool
	reconnectDelay   time.Duration
	stopOnce         sync.Once
	stopChan         chan struct{}

	handshakeTimeout time.Duration
	requestTimeout   time.Duration

	helloChan      chan *helloData
	identifiedChan chan struct{}
}

// NewClient creates a client for the given websocket URL. The password may
// be empty when OBS authentication is disabled.
func NewClient(url, password string, log zerolog.Logger) *Client {
	return &Client{
		url:              url,
		password:         password,
		log:              log,
		responses:        make(map[string]chan *response),
		reconnectEnabled: true,
		reconnectDelay:   5 * time.Second,
		handshakeTimeout: defaultHandshakeTimeout,
		requestTimeout:   defaultRequestTimeout,
		stopChan:         make(chan struct{}),
		helloChan:        make(chan *helloData, 1),
		identifiedChan:   make(chan struct{}, 1),
	}
}

// Connect dials the backend and completes the Hello/Identify handshake.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("obsws: already connected")
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("obsws: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()

	select {
	case hello := <-c.helloChan:
		return c.identify(hello)
	case <-time.After(c.handshakeTimeout):
		c.teardown()
		return fmt.Errorf("obsws: timeout waiting for Hello")
	}
}

// identify answers the Hello with an Identify message, solving the SHA-256
// auth challenge when the server demands one.
func (c *Client) identify(hello *helloData) error {
	ident := identifyData{
		RPCVersion:         1,
		EventSubscriptions: eventSubscriptionAll,
	}

	if hello.Authentication.Challenge != "" && c.password != "" {
		// secret = base64(sha256(password + salt))
		// auth   = base64(sha256(secret + challenge))
		secret := sha256.Sum256([]byte(c.password + hello.Authentication.Salt))
		secretB64 := base64.StdEncoding.EncodeToString(secret[:])
		auth := sha256.Sum256([]byte(secretB64 + hello.Authentication.Challenge))
		ident.Authentication = base64.StdEncoding.EncodeToString(auth[:])
	}

	if err := c.writeMessage(opIdentify, ident); err != nil {
		c.teardown()
		return fmt.Errorf("obsws: send Identify: %w", err)
	}

	select {
	case <-c.identifiedChan:
		c.mu.Lock()
		c.identified = true
		c.mu.Unlock()
		c.log.Info().Str("obs_ws_version", hello.OBSWebSocketVersion).Msg("connected to OBS websocket")
		return nil
	case <-time.After(c.handshakeTimeout):
		c.teardown()
		return fmt.Errorf("obsws: timeout waiting for Identified")
	}
}

func (c *Client) writeMessage(op int, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := message{Op: op, D: data}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(msg)
}

// readLoop dispatches incoming messages until the connection drops or the
// client is stopped.
func (c *Client) readLoop() {
	defer func() {
		c.teardown()
		if c.onDisconnected != nil {
			c.onDisconnected()
		}
		if c.reconnectEnabled {
			c.reconnectLoop()
		}
	}()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.log.Warn().Int("close_code", closeErr.Code).Str("text", closeErr.Text).Msg("OBS websocket closed")
			}
			return
		}

		switch msg.Op {
		case opHello:
			var hello helloData
			if err := json.Unmarshal(msg.D, &hello); err != nil {
				c.log.Error().Err(err).Msg("malformed Hello from OBS")
				return
			}
			select {
			case c.helloChan <- &hello:
			default:
			}

		case opIdentified:
			select {
			case c.identifiedChan <- struct{}{}:
			default:
			}

		case opEvent:
			var ev event
			if err := json.Unmarshal(msg.D, &ev); err == nil {
				c.handleEvent(&ev)
			}

		case opRequestResponse:
			var resp response
			if err := json.Unmarshal(msg.D, &resp); err == nil {
				c.deliverResponse(&resp)
			}
		}
	}
}

func (c *Client) handleEvent(ev *event) {
	switch ev.EventType {
	case "RecordStateChanged":
		var data struct {
			OutputActive bool   `json:"outputActive"`
			OutputPath   string `json:"outputPath"`
		}
		if err := json.Unmarshal(ev.EventData, &data); err != nil {
			return
		}
		c.log.Debug().Bool("active", data.OutputActive).Str("output", data.OutputPath).Msg("record state changed")
		if c.onRecordStateChanged != nil {
			c.onRecordStateChanged(data.OutputActive, data.OutputPath)
		}
	}
}

func (c *Client) deliverResponse(resp *response) {
	c.respMu.Lock()
	ch, ok := c.responses[resp.RequestID]
	c.respMu.Unlock()
	if ok {
		ch <- resp
	}
}

// sendRequest issues one request and waits for its correlated response.
func (c *Client) sendRequest(requestType string, requestData interface{}) (*response, error) {
	c.mu.RLock()
	ready := c.connected && c.identified
	c.mu.RUnlock()
	if !ready {
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	respChan := make(chan *response, 1)
	c.respMu.Lock()
	c.responses[id] = respChan
	c.respMu.Unlock()
	defer func() {
		c.respMu.Lock()
		delete(c.responses, id)
		c.respMu.Unlock()
	}()

	req := request{RequestType: requestType, RequestID: id, RequestData: requestData}
	c.log.Debug().Str("request_type", requestType).Str("request_id", id).Msg("obs request")
	if err := c.writeMessage(opRequest, req); err != nil {
		return nil, fmt.Errorf("obsws: send %s: %w", requestType, err)
	}

	select {
	case resp := <-respChan:
		if !resp.RequestStatus.Result {
			return nil, fmt.Errorf("obsws: %s failed (code %d): %s",
				requestType, resp.RequestStatus.Code, resp.RequestStatus.Comment)
		}
		return resp, nil
	case <-time.After(c.requestTimeout):
		return nil, fmt.Errorf("obsws: %s timed out after %s", requestType, c.requestTimeout)
	case <-c.stopChan:
		return nil, ErrNotConnected
	}
}

// teardown closes the connection and clears connection flags.
func (c *Client) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.log.Info().Str("url", c.url).Msg("OBS websocket disconnected")
	}
	c.connected = false
	c.identified = false
}

// reconnectLoop retries the connection with exponential backoff and jitter.
// It never issues recording commands on its own: reconnection must not start
// or stop a recording behind the orchestrator's back.
func (c *Client) reconnectLoop() {
	delay := c.reconnectDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-c.stopChan:
			return
		case <-time.After(delay):
		}

		c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting to OBS")
		if err := c.Connect(); err == nil {
			c.log.Info().Int("attempt", attempt).Msg("reconnected to OBS")
			return
		} else {
			c.log.Warn().Int("attempt", attempt).Err(err).Msg("reconnect failed")
		}

		delay *= 2
		if delay > time.Minute {
			delay = time.Minute
		}
		// ±10% jitter
		jitter := time.Duration(float64(delay) * 0.2 * (rand.Float64() - 0.5))
		delay += jitter
		if delay < time.Second {
			delay = time.Second
		}
	}
}

// Disconnect closes the connection and disables reconnection.
func (c *Client) Disconnect() {
	c.reconnectEnabled = false
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.teardown()
}

// SetReconnectEnabled toggles automatic reconnection.
func (c *Client) SetReconnectEnabled(enabled bool) {
	c.reconnectEnabled = enabled
}

// OnRecordStateChanged registers a callback for record state events.
func (c *Client) OnRecordStateChanged(fn func(recording bool, outputPath string)) {
	c.onRecordStateChanged = fn
}

// OnDisconnected registers a callback invoked when the connection drops.
func (c *Client) OnDisconnected(fn func()) {
	c.onDisconnected = fn
}

// IsConnected reports whether the client is connected and identified.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.identified
}
