package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Read side gives up if nothing (including pongs) arrives for this long.
	pongWait = 60 * time.Second

	// Outbound frames queued per connection before broadcasts start dropping.
	sendBuffer = 64
)

// Client is one live peer socket. All data frames are funneled through the
// buffered send channel so the write pump is the only goroutine touching
// the connection's write side; per-receiver FIFO order follows from that.
// Control frames (ping, close) go through WriteControl, which gorilla
// allows concurrently.
type Client struct {
	PlayerID string
	Room     RoomRef

	conn   *websocket.Conn
	send   chan any
	server *Server

	closeOnce sync.Once
}

func newClient(s *Server, room RoomRef, playerID string, conn *websocket.Conn) *Client {
	return &Client{
		PlayerID: playerID,
		Room:     room,
		conn:     conn,
		send:     make(chan any, sendBuffer),
		server:   s,
	}
}

// enqueue offers a frame to the write pump without blocking. A full buffer
// drops the frame; the stale sweeper deals with consumers that far behind.
func (c *Client) enqueue(msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeWithReason sends a close frame and tears the socket down. Safe to
// call concurrently with the pumps and safe to call more than once.
func (c *Client) closeWithReason(code int, reason string) {
	c.closeOnce.Do(func() {
		if c.conn == nil {
			return
		}
		deadline := time.Now().Add(writeWait)
		c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.conn.Close()
	})
}

// readPump pulls frames off the socket and hands them to the router. It
// owns the read side and drives disconnect handling when the socket dies.
func (c *Client) readPump() {
	defer func() {
		c.server.handleDisconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.server.registry.Touch(c.Room, c.PlayerID)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.log.Warn("websocket read failed", "room", c.Room, "player", c.PlayerID, "err", err)
			}
			return
		}
		c.server.route(c, raw)
	}
}

// writePump drains the send channel onto the socket. The registry closes
// the channel when the record is dropped, which ends the pump with a clean
// close frame.
func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
