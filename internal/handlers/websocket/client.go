package websocket

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client is one connected session of an account's notification subscription.
type Client struct {
	AccountID   string
	Conn        *websocket.Conn
	Send        chan []byte   // Channel for outgoing events
	RateLimiter *rate.Limiter // Bounds inbound traffic on a push-only socket
	closed      bool
	mu          sync.Mutex
}

// ReadMessages drains the connection. The subscription socket is push-only;
// inbound frames are discarded, but the pump is what detects disconnects.
func (c *Client) ReadMessages(onClose func(*Client)) {
	defer func() {
		onClose(c)
		log.Debugf("Connection closed for account %s", c.AccountID)
	}()

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			log.Debugf("Error reading message from account %s: %v", c.AccountID, err)
			break
		}
		if !c.RateLimiter.Allow() {
			log.Warnf("Rate limit exceeded for account %s, dropping connection", c.AccountID)
			break
		}
	}
}

// WriteMessages sends queued events to the session.
func (c *Client) WriteMessages() {
	defer func() {
		c.Conn.Close()
	}()

	for message := range c.Send {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}

		err := c.Conn.WriteMessage(websocket.TextMessage, message)
		c.mu.Unlock()

		if err != nil {
			log.Debugf("Error sending event to account %s: %v", c.AccountID, err)
			return
		}
	}
}

// close shuts the send channel exactly once.
func (c *Client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
	c.mu.Unlock()

	c.Conn.Close()
}
