package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// GorillaDialer opens binary WebSocket channels with gorilla/websocket, for
// peers that reject the handshake WebSocketDialer sends.
type GorillaDialer struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Compression      bool
}

func (d GorillaDialer) Dial(ctx context.Context, address string) (Channel, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = d.HandshakeTimeout
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = defaultHandshakeTimeout
	}
	dialer.EnableCompression = d.Compression

	conn, _, err := dialer.DialContext(ctx, address, d.Header)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)
	return &gorillaChannel{conn: conn}, nil
}

type gorillaChannel struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *gorillaChannel) Read(ctx context.Context) ([]byte, error) {
	// gorilla reads ignore contexts; closing the socket unblocks them
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return data, nil
}

func (c *gorillaChannel) Write(ctx context.Context, data []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *gorillaChannel) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
