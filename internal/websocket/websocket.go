// Package websocket is a small gorilla/websocket client for JSON-RPC
// subscriptions against provider websocket endpoints.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/lopnur/internal/clientmetrics"
)

var errNotConnected = errors.New("not connected")

// Config configures the WebSocket client behavior.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	// Counters receives this connection's traffic. Nil gives the client
	// private counters.
	Counters *clientmetrics.Counters
}

// Client is one websocket connection. Reads and writes may run concurrently
// with each other but not with themselves.
type Client struct {
	url            string
	headers        http.Header
	dialer         *websocket.Dialer
	maxMessageSize int64

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	broken  bool

	counters *clientmetrics.Counters
}

func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1024 * 1024
	}
	if cfg.Counters == nil {
		cfg.Counters = clientmetrics.New()
	}

	return &Client{
		url:     cfg.URL,
		headers: cfg.Headers,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		maxMessageSize: cfg.MaxMessageSize,
		counters:       cfg.Counters,
	}
}

// URL returns the endpoint the client dials.
func (c *Client) URL() string {
	return c.url
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		c.counters.Failed()
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(c.maxMessageSize)

	c.conn = conn
	c.broken = false
	c.counters.MarkConnected()
	return nil
}

// WriteJSON sends v as a text frame. The write is bounded by ctx's deadline.
func (c *Client) WriteJSON(ctx context.Context, v any) error {
	conn := c.current()
	if conn == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)

	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.fail()
		return fmt.Errorf("write message: %w", err)
	}
	counter := &countingWriter{w: w}
	if err := jsonEncode(counter, v); err != nil {
		_ = w.Close()
		c.fail()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		c.fail()
		return fmt.Errorf("write message: %w", err)
	}
	c.counters.Sent(counter.n)
	return nil
}

// ReadMessage blocks until a data frame arrives or ctx ends. A failed read
// leaves the connection unusable.
func (c *Client) ReadMessage(ctx context.Context) ([]byte, error) {
	conn := c.current()
	if conn == nil {
		return nil, errNotConnected
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := conn.ReadMessage()
	if err != nil {
		c.fail()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("read message: %w", err)
	}
	c.counters.Received(len(data))
	return data, nil
}

// Healthy reports whether the connection is open and has not failed.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.broken
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	c.writeMu.Lock()
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(5*time.Second),
	)
	c.writeMu.Unlock()

	closeErr := c.conn.Close()
	c.conn = nil
	c.counters.MarkDisconnected()

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return closeErr
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) fail() {
	c.counters.Failed()
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

// EndpointURL derives the websocket URL of an http(s) RPC endpoint.
func EndpointURL(endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	return u.String(), nil
}
