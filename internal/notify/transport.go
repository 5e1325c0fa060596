package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one established push connection
type Conn interface {
	// ReadMessage blocks until the next inbound payload arrives or the
	// connection fails. Closing the connection unblocks it.
	ReadMessage() ([]byte, error)
	Close() error
}

// PushTransport opens push connections to a notification channel address
type PushTransport interface {
	Connect(ctx context.Context, address string) (Conn, error)
}

// WebSocketTransport dials notification channels over WebSocket
type WebSocketTransport struct {
	dialer      *websocket.Dialer
	bearerToken string
}

// NewWebSocketTransport creates a transport sharing the HTTP engine's TLS settings
func NewWebSocketTransport(tlsConfig *tls.Config, handshakeTimeout time.Duration, bearerToken string) *WebSocketTransport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 30 * time.Second
	}
	return &WebSocketTransport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			TLSClientConfig:  tlsConfig,
		},
		bearerToken: bearerToken,
	}
}

// Connect dials address. http and https addresses are mapped to ws and wss.
func (t *WebSocketTransport) Connect(ctx context.Context, address string) (Conn, error) {
	target, err := websocketURL(address)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if t.bearerToken != "" {
		header.Set("Authorization", fmt.Sprintf("Bearer %s", t.bearerToken))
	}

	conn, resp, err := t.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (status %d): %w", target, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}

	return &wsConn{conn: conn}, nil
}

func websocketURL(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("invalid channel address %q: %w", address, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported channel address scheme %q", u.Scheme)
	}
	return u.String(), nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}
