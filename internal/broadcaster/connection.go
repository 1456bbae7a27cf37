package broadcaster

import (
	"errors"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("connection send buffer is full")
)

// Connection is one client's outbound channel. Payloads are queued by Send
// and drained by the transport that owns the connection.
type Connection struct {
	Id string

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func NewConnection(bufferSize int) *Connection {
	return &Connection{
		Id:     gonanoid.Must(),
		send:   make(chan []byte, bufferSize),
		closed: make(chan struct{}),
	}
}

// Send queues a payload without blocking.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Outbound yields queued payloads in the order they were sent.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// Close is idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func (c *Connection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
