package gamebridge

import (
	"sync"

	"github.com/gorilla/websocket"
)

const outboundBufferSize = 64

// Client is one connected game consumer. Writes go through a buffered queue
// drained by WriteLoop so a slow consumer never blocks the hub.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan ServerMessage

	// mu guards topics and orders Queue against Close: a send on c.send only
	// happens while holding the read lock with closed still false.
	mu     sync.RWMutex
	topics map[string]struct{}
	closed bool

	close sync.Once
}

func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan ServerMessage, outboundBufferSize),
		topics: make(map[string]struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Queue enqueues a message, reporting false when the client is closed or its
// buffer is full.
func (c *Client) Queue(msg ServerMessage) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) WriteLoop() {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (c *Client) Close() {
	c.close.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		_ = c.conn.Close()
		close(c.send)
	})
}

func (c *Client) Subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		c.topics[topic] = struct{}{}
	}
}

func (c *Client) Unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.topics, topic)
	}
}

func (c *Client) IsSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.topics[TopicAll]; ok {
		return true
	}
	_, ok := c.topics[topic]
	return ok
}
