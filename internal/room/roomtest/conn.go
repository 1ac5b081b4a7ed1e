// Package roomtest provides an in-memory room.Conn for tests.
package roomtest

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DoyleJ11/live-score-backend/internal/room"
)

// Message is a decoded event with its raw data kept for typed decoding.
type Message struct {
	Type string
	Data json.RawMessage
}

// Conn records everything sent to it on a buffered channel.
type Conn struct {
	id     string
	mu     sync.Mutex
	out    chan []byte
	closed bool
}

func NewConn(buffer int) *Conn {
	return &Conn{
		id:  "fake-" + uuid.NewString(),
		out: make(chan []byte, buffer),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(msg []byte) bool {
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

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Recv returns the next message, failing the test if none arrives in time
// or the connection was closed with nothing queued.
func (c *Conn) Recv(t *testing.T, within time.Duration) Message {
	t.Helper()
	select {
	case raw, ok := <-c.out:
		if !ok {
			t.Fatalf("connection closed unexpectedly")
		}
		return decode(t, raw)
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return Message{}
	}
}

// RecvType skips messages until one of the given type arrives.
func (c *Conn) RecvType(t *testing.T, typ string, within time.Duration) Message {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case raw, ok := <-c.out:
			if !ok {
				t.Fatalf("connection closed before %q arrived", typ)
			}
			if m := decode(t, raw); m.Type == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", typ)
			return Message{}
		}
	}
}

// Drain returns every queued message without waiting.
func (c *Conn) Drain(t *testing.T) []Message {
	t.Helper()
	var msgs []Message
	for {
		select {
		case raw, ok := <-c.out:
			if !ok {
				return msgs
			}
			msgs = append(msgs, decode(t, raw))
		default:
			return msgs
		}
	}
}

// ExpectClosed drains whatever is queued and then requires the channel to
// be closed.
func (c *Conn) ExpectClosed(t *testing.T, within time.Duration) []Message {
	t.Helper()
	var msgs []Message
	deadline := time.After(within)
	for {
		select {
		case raw, ok := <-c.out:
			if !ok {
				return msgs
			}
			msgs = append(msgs, decode(t, raw))
		case <-deadline:
			t.Fatalf("connection not closed within %v", within)
			return msgs
		}
	}
}

func decode(t *testing.T, raw []byte) Message {
	t.Helper()
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return Message{Type: env.Type, Data: env.Data}
}

// Into decodes the message data into v.
func (m Message) Into(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(m.Data, v); err != nil {
		t.Fatalf("decode %s data: %v", m.Type, err)
	}
}

var _ room.Conn = (*Conn)(nil)
