package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	connWriteTimeout = 10 * time.Second
	sendQueueSize    = 256
)

var errConnClosed = errors.New("connection closed")

type outboundFrame struct {
	messageType int
	payload     []byte
}

// wsConn adapts a gorilla websocket connection to the session.Conn
// interface. Outbound frames pass through a buffered queue drained by a
// dedicated writer goroutine, so broadcast paths never wait on a slow
// socket. The queue is FIFO, which preserves the restore-before-live
// ordering per connection. A client that falls a full queue behind is
// dropped rather than allowed to stall the session.
type wsConn struct {
	id   string
	conn *websocket.Conn

	send     chan outboundFrame
	done     chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan outboundFrame, sendQueueSize),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Writable() bool { return !c.closed.Load() }

func (c *wsConn) WriteRaw(p []byte) error {
	buf := make([]byte, len(p))
	copy(buf, p)
	return c.enqueue(outboundFrame{messageType: websocket.BinaryMessage, payload: buf})
}

func (c *wsConn) WriteControl(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(outboundFrame{messageType: websocket.TextMessage, payload: payload})
}

func (c *wsConn) enqueue(f outboundFrame) error {
	if c.closed.Load() {
		return errConnClosed
	}
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		// Queue full: the client is not keeping up. Mark it unwritable so
		// broadcasts skip it from now on.
		c.closed.Store(true)
		return errConnClosed
	}
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(connWriteTimeout))
			if err := c.conn.WriteMessage(f.messageType, f.payload); err != nil {
				c.closed.Store(true)
				return
			}
		}
	}
}

func (c *wsConn) CloseNormal(reason string) {
	c.closeWith(websocket.CloseNormalClosure, reason)
}

// closeWith sends a close frame (first closer only) and releases the
// connection. Safe alongside the writer goroutine: gorilla permits
// WriteControl concurrently with WriteMessage.
func (c *wsConn) closeWith(code int, reason string) {
	if !c.closed.Swap(true) {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.stop()
}

// stop halts the writer goroutine and closes the socket without sending
// a close frame. Used directly once the peer has already disconnected.
func (c *wsConn) stop() {
	c.closed.Store(true)
	c.stopOnce.Do(func() { close(c.done) })
	_ = c.conn.Close()
}
