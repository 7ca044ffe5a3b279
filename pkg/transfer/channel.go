package transfer

import (
	"context"
	"errors"
	"io"
	"sync"
)

var (
	// ErrClosed is returned by Send after the channel was closed
	ErrClosed = errors.New("transfer channel closed")

	// ErrTerminated is returned by Send after a Ready or Error message
	ErrTerminated = errors.New("send phase already terminated")
)

// Channel is an unbounded FIFO of messages between one producer and one
// consumer. Send never blocks and never drops; Receive returns messages in
// the order they were sent.
type Channel struct {
	mu         sync.Mutex
	queue      []Message
	notify     chan struct{}
	closed     bool
	terminated bool
}

// NewChannel creates an empty channel
func NewChannel() *Channel {
	return &Channel{notify: make(chan struct{}, 1)}
}

// Send queues m. A Ready or Error message terminates the send phase and
// closes the channel; anything sent afterwards is rejected.
func (c *Channel) Send(m Message) error {
	c.mu.Lock()
	switch {
	case c.terminated:
		c.mu.Unlock()
		return ErrTerminated
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, m)
	if m.Kind.Terminal() {
		c.terminated = true
		c.closed = true
	}
	c.mu.Unlock()

	c.wake()
	return nil
}

// Emit implements Emitter. Messages sent after termination are dropped.
func (c *Channel) Emit(m Message) {
	_ = c.Send(m)
}

// Close ends the channel without a terminal message. Queued messages are
// still delivered.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wake()
}

// Receive returns the next message, blocking until one is queued. It
// returns io.EOF once the channel is closed and drained.
func (c *Channel) Receive(ctx context.Context) (Message, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			m := c.queue[0]
			c.queue[0] = Message{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return m, nil
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return Message{}, io.EOF
		}

		select {
		case <-c.notify:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Len returns the number of queued messages
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Channel) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
