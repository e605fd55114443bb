package ws

import (
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
)

const (
	sendQueueSize = 64
	writeTimeout  = 10 * time.Second
)

var (
	errClientClosed  = errors.New("ws: client closed")
	errSendQueueFull = errors.New("ws: send queue full")
)

// Client represents a websocket client connection. Writes go through a
// bounded queue drained by a dedicated goroutine, so a peer that stops
// reading can never block the hub's broadcast loop.
type Client struct {
	conn  *websocket.Conn
	log   *slog.Logger
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// NewClient constructs a client wrapper and starts its write pump.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	c := &Client{
		conn:  conn,
		log:   logger,
		queue: make(chan []byte, sendQueueSize),
		done:  make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send enqueues a message without blocking. A subscriber whose queue is full
// cannot keep up and gets disconnected; the hub evicts it on the returned
// error.
func (c *Client) Send(payload []byte) error {
	select {
	case c.queue <- payload:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		c.log.Warn("websocket subscriber too slow, disconnecting")
		c.Close()
		return errSendQueueFull
	}
}

func (c *Client) writePump() {
	for {
		select {
		case payload := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close terminates the connection and stops the write pump.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
