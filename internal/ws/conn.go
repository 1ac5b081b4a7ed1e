package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// conn is the room.Conn for one WebSocket. Messages queue on out and a
// single writer goroutine puts them on the wire.
type conn struct {
	id  string
	out chan []byte

	mu     sync.Mutex
	closed bool

	writerDone chan struct{}
	log        *zap.Logger
}

func newConn(outbox int, log *zap.Logger) *conn {
	id := uuid.NewString()
	return &conn{
		id:         id,
		out:        make(chan []byte, outbox),
		writerDone: make(chan struct{}),
		log:        log.With(zap.String("conn_id", id)),
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// Close stops accepting messages. The writer flushes what is already queued
// and then closes the socket.
func (c *conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

func (c *conn) writeLoop(ctx context.Context, sock *websocket.Conn, timeout time.Duration) {
	defer close(c.writerDone)
	for msg := range c.out {
		wctx, cancel := context.WithTimeout(ctx, timeout)
		err := sock.Write(wctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			c.log.Debug("write failed", zap.Error(err))
			c.Close()
			_ = sock.CloseNow()
			return
		}
	}
	_ = sock.Close(websocket.StatusNormalClosure, "bye")
}
