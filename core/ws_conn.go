package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Conn struct {
	ID   ConnID
	Room RoomKey

	conn    *websocket.Conn
	context context.Context
	cfg     ManagerConfig
	logger  *slog.Logger

	// mu guards closed and the send side of writeStream.
	mu          sync.RWMutex
	closed      bool
	// Each item is written as consecutive frames.
	writeStream chan [][]byte

	onFrame          func([]byte)
	onError          func(error)
	notifyDisconnect func()
}

// send queues payloads as one write queue item without blocking. It reports
// false once the connection is closing or when the write queue is full.
func (c *Conn) send(payloads ...[]byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.writeStream <- payloads:
		return true
	default:
		c.logger.Warn("write stream full, dropping frame")
		return false
	}
}

// close stops accepting frames. The write loop drains what is queued and then
// sends a close frame.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.writeStream)
}

func (c *Conn) readLoop() {
	c.logger.Debug("read loop started")
	defer func() {
		c.notifyDisconnect()
		c.conn.Close()
		c.logger.Debug("read loop stopped")
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})
	for {
		format, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.onError(fmt.Errorf("unexpected close: %w", err))
				return
			}
			c.onError(fmt.Errorf("read: %w", err))
			return
		}

		if format != websocket.TextMessage {
			c.logger.Warn(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}

		// Frames of one connection are handled in order on this goroutine.
		c.onFrame(data)
	}
}

func (c *Conn) writeLoop() {
	c.logger.Debug("write loop started")
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case payloads, ok := <-c.writeStream:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.sendClose()
				return
			}
			for _, payload := range payloads {
				c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					c.onError(fmt.Errorf("write: %w", err))
					c.conn.Close()
					return
				}
			}
		case <-c.context.Done():
			c.logger.Debug("context done")
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.sendClose()
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.onError(fmt.Errorf("writing ping: %w", err))
				c.conn.Close()
				return
			}
		}
	}
}

// sendClose writes a close frame and bounds how long the read loop waits for
// the peer to answer it.
func (c *Conn) sendClose() {
	c.logger.Debug("sending close message")
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.WriteWait))
}
