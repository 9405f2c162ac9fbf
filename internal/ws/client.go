package ws

import "sync"

// Client is one live signaling connection with user context. A user may
// hold several (multi-device); the registry tracks them all.
type Client struct {
	ConnID string
	UserID uint
	Role   string
	Send   chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(connID string, userID uint, role string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ConnID: connID,
		UserID: userID,
		Role:   role,
		Send:   make(chan []byte, buffer),
	}
}

// Enqueue places a frame on the outbound queue. Returns false when the
// client is closed or its queue is full; slow consumers lose frames rather
// than stalling the coordinator.
func (c *Client) Enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Close shuts the outbound queue. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}
