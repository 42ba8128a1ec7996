// Package tunnel keeps a websocket connection to a public relay and
// forwards relayed requests to the local HTTP API.
package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// localTimeout bounds one forwarded request against the local API.
const localTimeout = 5 * time.Second

// Options configure the relay connection.
type Options struct {
	RelayURL     string
	LocalAPI     string
	Reconnect    time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// Client forwards relay requests to the local API over one websocket.
type Client struct {
	opts   Options
	logger *slog.Logger
	http   *http.Client

	mu sync.Mutex // serializes reply writes
}

// relayRequest is one request pushed down from the relay.
type relayRequest struct {
	ID     string          `json:"id"`
	Path   string          `json:"path"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// relayReply answers one relayRequest by id.
type relayReply struct {
	ID       string          `json:"id"`
	Response json.RawMessage `json:"response"`
}

// New validates options and builds a Client.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	relayURL, err := url.Parse(strings.TrimSpace(opts.RelayURL))
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	if relayURL.Scheme != "ws" && relayURL.Scheme != "wss" {
		return nil, fmt.Errorf("relay url must use ws:// or wss://, got %q", opts.RelayURL)
	}
	localURL, err := url.Parse(strings.TrimSpace(opts.LocalAPI))
	if err != nil {
		return nil, fmt.Errorf("invalid local api url: %w", err)
	}
	if localURL.Scheme != "http" && localURL.Scheme != "https" {
		return nil, fmt.Errorf("local api url must use http:// or https://, got %q", opts.LocalAPI)
	}

	opts.RelayURL = relayURL.String()
	opts.LocalAPI = strings.TrimRight(localURL.String(), "/")
	if opts.Reconnect <= 0 {
		opts.Reconnect = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		opts:   opts,
		logger: logger,
		http:   &http.Client{Timeout: localTimeout},
	}, nil
}

// Run maintains the relay connection until the context is cancelled,
// redialing after every disconnect.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Warn("tunnel connection lost", "error", err, "retry_in", c.opts.Reconnect)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.Reconnect):
		}
	}
}

// runOnce serves one connection until it drops.
func (c *Client) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.opts.RelayURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	c.logger.Info("connected to relay", "url", c.opts.RelayURL)

	readWait := c.opts.PingInterval + c.opts.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	done := make(chan struct{})
	defer close(done)
	go c.keepAlive(ctx, conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read relay message: %w", err)
		}
		c.handleMessage(ctx, conn, message)
	}
}

// keepAlive pings the relay and closes the connection on cancellation.
func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, conn *websocket.Conn, message []byte) {
	var req relayRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.logger.Warn("malformed relay message", "error", err)
		return
	}
	if req.ID == "" {
		c.logger.Warn("relay message without id")
		return
	}

	response := c.forward(ctx, req)
	if err := c.sendReply(conn, relayReply{ID: req.ID, Response: response}); err != nil {
		c.logger.Warn("send relay reply", "id", req.ID, "error", err)
	}
}

// forward proxies one relayed request to the local API. Failures become an
// error payload so the relay always gets an answer for the id.
func (c *Client) forward(ctx context.Context, req relayRequest) json.RawMessage {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return errorPayload(fmt.Sprintf("unsupported method %q", req.Method))
	}

	path := req.Path
	if path == "" {
		path = "/"
	}

	reqCtx, cancel := context.WithTimeout(ctx, localTimeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, c.opts.LocalAPI+path, body)
	if err != nil {
		return errorPayload(err.Error())
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return errorPayload(err.Error())
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errorPayload(err.Error())
	}
	if !json.Valid(payload) {
		return errorPayload(fmt.Sprintf("local API returned non-JSON response (status %d)", resp.StatusCode))
	}
	return payload
}

func (c *Client) sendReply(conn *websocket.Conn, reply relayReply) error {
	payload, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("marshal relay reply: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write relay reply: %w", err)
	}
	return nil
}

func errorPayload(msg string) json.RawMessage {
	payload, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return json.RawMessage(`{"error":"internal error"}`)
	}
	return payload
}
