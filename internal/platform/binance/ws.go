package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arbiterlabs/triarb/internal/domain"
)

// writeWait is the time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// cmdID hands out request ids for stream control commands, shared across
// connections so acknowledgements stay unambiguous in logs.
var cmdID atomic.Uint64

// WSConn is a single websocket connection to the exchange stream endpoint.
// It carries many multiplexed symbol streams; the stream client above it
// owns reconnection policy and stream-to-connection assignment.
type WSConn struct {
	url string

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool

	readTimeout time.Duration
}

// DialWS opens a websocket connection with a bounded handshake timeout.
// An HTTP 401/403 handshake rejection is reported as domain.ErrStreamFailed:
// retrying an auth rejection will not help, the caller must treat it as
// terminal.
func DialWS(ctx context.Context, url string, connectTimeout, readTimeout time.Duration) (*WSConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("binance: dial %s: http %d: %w", url, resp.StatusCode, domain.ErrStreamFailed)
		}
		return nil, fmt.Errorf("binance: dial %s: %w", url, err)
	}

	c := &WSConn{url: url, ws: ws, readTimeout: readTimeout}

	// Any pong extends the read deadline; so does any data frame (see Read).
	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	return c, nil
}

// Subscribe sends a SUBSCRIBE command for the given stream names.
func (c *WSConn) Subscribe(streams []string) error {
	if len(streams) == 0 {
		return nil
	}
	return c.sendCommand(WSCommand{
		Method: "SUBSCRIBE",
		Params: streams,
		ID:     cmdID.Add(1),
	})
}

// Unsubscribe sends an UNSUBSCRIBE command for the given stream names.
func (c *WSConn) Unsubscribe(streams []string) error {
	if len(streams) == 0 {
		return nil
	}
	return c.sendCommand(WSCommand{
		Method: "UNSUBSCRIBE",
		Params: streams,
		ID:     cmdID.Add(1),
	})
}

// Read blocks until the next message arrives or the read deadline expires.
// Inbound traffic of any kind extends the deadline, so a healthy connection
// with flowing data never pings out.
func (c *WSConn) Read() ([]byte, error) {
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("binance: read: %w", err)
	}
	c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	return msg, nil
}

// Ping sends a websocket ping frame.
func (c *WSConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrWSDisconnect
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
		return fmt.Errorf("binance: ping: %w", err)
	}
	return nil
}

// Close sends a close frame and tears the connection down. Safe to call more
// than once; it also unblocks a pending Read.
func (c *WSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.ws.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return c.ws.Close()
}

// sendCommand marshals and writes a control command.
func (c *WSConn) sendCommand(cmd WSCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrWSDisconnect
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("binance: marshal command: %w", err)
	}

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("binance: send %s: %w", cmd.Method, err)
	}
	return nil
}
