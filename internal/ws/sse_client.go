package ws

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	"log/slog"
)

// SSEClient streams Server-Sent Events over an HTTP response writer. Like
// Client, writes are decoupled from the hub through a bounded queue; a nil
// queue entry stands for a heartbeat comment frame.
type SSEClient struct {
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
}

// NewSSEClient builds an SSE client instance and starts its write pump.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	c := &SSEClient{
		writer:  writer,
		flusher: flusher,
		log:     logger,
		queue:   make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send enqueues a data event without blocking; a full queue disconnects the
// subscriber so the hub evicts it.
func (c *SSEClient) Send(payload []byte) error {
	if payload == nil {
		return nil
	}
	return c.enqueue(payload)
}

// Heartbeat enqueues a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	return c.enqueue(nil)
}

func (c *SSEClient) enqueue(payload []byte) error {
	select {
	case c.queue <- payload:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		c.log.Warn("sse subscriber too slow, disconnecting")
		c.Close()
		return errSendQueueFull
	}
}

func (c *SSEClient) writePump() {
	for {
		select {
		case payload := <-c.queue:
			var err error
			if payload == nil {
				_, err = fmt.Fprint(c.writer, ": ping\n\n")
			} else {
				_, err = fmt.Fprintf(c.writer, "data: %s\n\n", payload)
			}
			if err != nil {
				c.log.Warn("sse send failed", "error", err)
				c.Close()
				return
			}
			c.flusher.Flush()
		case <-c.done:
			return
		}
	}
}

// Close marks the stream as closed and stops the write pump.
func (c *SSEClient) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Done is closed when the stream terminates, letting the handler unblock.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}
