// Package ws exposes the broadcast manager over websockets and a small JSON API.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteWait = 10 * time.Second

// Client is one websocket connection registered with the broadcast manager.
// gorilla connections allow a single concurrent writer; mu serializes them.
type Client struct {
	ID string

	mu   sync.Mutex
	conn *websocket.Conn
}

func newClient(id string, conn *websocket.Conn) *Client {
	return &Client{ID: id, conn: conn}
}

// Send writes payload as one text frame, bounded by ctx's deadline.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) ping(wait time.Duration) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait))
}
