package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens one socket per connect attempt.
type Dialer interface {
	// Dial opens a socket to url. It must return promptly once ctx is cancelled.
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is a single open socket. A Conn is used for exactly one
// connect-to-close cycle.
type Conn interface {
	// ReadMessage blocks for the next data frame. The returned error
	// describes why the socket closed.
	ReadMessage() ([]byte, error)

	// WriteMessage hands a text frame to the socket without waiting for the
	// network. Safe for concurrent use.
	WriteMessage(data []byte) error

	// Close sends a close frame with code and reason, then releases the socket.
	// Safe to call more than once and concurrently with ReadMessage.
	Close(code int, reason string) error
}

// NewDialer returns a Dialer backed by gorilla/websocket.
func NewDialer(handshakeTimeout, writeTimeout time.Duration) Dialer {
	return &wsDialer{
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		writeTimeout: writeTimeout,
	}
}

type wsDialer struct {
	dialer       websocket.Dialer
	writeTimeout time.Duration
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newWSConn(conn, d.writeTimeout), nil
}

// writeQueueSize bounds frames waiting for the writer goroutine.
const writeQueueSize = 64

// wsConn adapts *websocket.Conn to Conn. Writes are queued and performed by
// writeLoop so callers never wait on the network.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	out  chan []byte
	done chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	c := &wsConn{
		conn:         conn,
		writeTimeout: writeTimeout,
		out:          make(chan []byte, writeQueueSize),
		done:         make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteMessage queues a text frame. It returns ErrConnClosed after Close and
// ErrWriteQueueFull when the writer has fallen behind.
func (c *wsConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrWriteQueueFull
	}
}

// writeLoop writes queued frames until Close. A failed write closes the
// socket so the reader reports the loss.
func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			if c.writeTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		close(c.done)
		// Best effort; the peer may already be gone.
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
