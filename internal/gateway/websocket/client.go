package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/12Particles/pivosync/internal/common/logger"
	"github.com/12Particles/pivosync/pkg/bridge"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Client represents a single UI WebSocket connection. Watches opened by the
// client are tracked and cancelled on every exit path so a dropped connection
// never leaks registry listeners.
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	send chan *bridge.Message

	watches map[string]func() // watch key -> cancel
	closed  bool              // send channel closed, no further enqueues
	mu      sync.Mutex

	logger *logger.Logger
}

// NewClient creates a new gateway client.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:      id,
		conn:    conn,
		hub:     hub,
		send:    make(chan *bridge.Message, 256),
		watches: make(map[string]func()),
		logger:  log.WithFields(zap.String("client_id", id)),
	}
}

// ReadPump pumps messages from the WebSocket connection into the dispatcher.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.cancelAllWatches()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg bridge.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("", "", bridge.ErrorCodeBadRequest, "Invalid message format")
			continue
		}

		c.handleMessage(ctx, &msg)
	}
}

// WritePump pumps messages from the send channel to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("WebSocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleMessage routes one inbound message: watch actions are stateful and
// handled here, everything else goes through the dispatcher.
func (c *Client) handleMessage(ctx context.Context, msg *bridge.Message) {
	switch msg.Action {
	case bridge.ActionTaskWatch:
		c.handleTaskWatch(msg)
	case bridge.ActionTaskUnwatch:
		c.handleUnwatch(msg, "task:")
	case bridge.ActionAttemptWatch:
		c.handleAttemptWatch(msg)
	case bridge.ActionAttemptUnwatch:
		c.handleUnwatch(msg, "attempt:")
	default:
		resp, err := c.hub.dispatcher.Dispatch(ctx, msg)
		if err != nil {
			c.logger.Error("dispatch failed",
				zap.String("action", msg.Action),
				zap.Error(err))
			c.sendError(msg.ID, msg.Action, bridge.ErrorCodeInternalError, "Internal error")
			return
		}
		c.enqueue(resp)
	}
}

type watchRequest struct {
	TaskID    string `json:"task_id,omitempty"`
	AttemptID string `json:"attempt_id,omitempty"`
}

func (c *Client) handleTaskWatch(msg *bridge.Message) {
	var req watchRequest
	if err := msg.ParsePayload(&req); err != nil || req.TaskID == "" {
		c.sendError(msg.ID, msg.Action, bridge.ErrorCodeValidation, "task_id is required")
		return
	}

	key := "task:" + req.TaskID
	if c.hasWatch(key) {
		c.ack(msg)
		return
	}

	ch, cancel := c.hub.watcher.WatchTask(req.TaskID)
	c.addWatch(key, cancel)
	go func() {
		for state := range ch {
			notification, err := bridge.NewNotification(bridge.ActionTaskChanged, state)
			if err != nil {
				continue
			}
			c.enqueue(notification)
		}
	}()
	c.ack(msg)
}

func (c *Client) handleAttemptWatch(msg *bridge.Message) {
	var req watchRequest
	if err := msg.ParsePayload(&req); err != nil || req.AttemptID == "" {
		c.sendError(msg.ID, msg.Action, bridge.ErrorCodeValidation, "attempt_id is required")
		return
	}

	key := "attempt:" + req.AttemptID
	if c.hasWatch(key) {
		c.ack(msg)
		return
	}

	ch, cancel := c.hub.watcher.WatchAttempt(req.AttemptID)
	c.addWatch(key, cancel)
	go func() {
		for snapshot := range ch {
			notification, err := bridge.NewNotification(bridge.ActionAttemptChanged, snapshot)
			if err != nil {
				continue
			}
			c.enqueue(notification)
		}
	}()
	c.ack(msg)
}

func (c *Client) handleUnwatch(msg *bridge.Message, prefix string) {
	var req watchRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, bridge.ErrorCodeBadRequest, "Invalid payload")
		return
	}

	id := req.TaskID
	if prefix == "attempt:" {
		id = req.AttemptID
	}
	c.removeWatch(prefix + id)
	c.ack(msg)
}

func (c *Client) hasWatch(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watches[key]
	return ok
}

func (c *Client) addWatch(key string, cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watches[key] = cancel
}

func (c *Client) removeWatch(key string) {
	c.mu.Lock()
	cancel, ok := c.watches[key]
	delete(c.watches, key)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Client) cancelAllWatches() {
	c.mu.Lock()
	cancels := make([]func(), 0, len(c.watches))
	for _, cancel := range c.watches {
		cancels = append(cancels, cancel)
	}
	c.watches = make(map[string]func())
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (c *Client) ack(msg *bridge.Message) {
	resp, err := bridge.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
	if err != nil {
		return
	}
	c.enqueue(resp)
}

func (c *Client) sendError(id, action, code, message string) {
	errMsg, err := bridge.NewError(id, action, code, message, nil)
	if err != nil {
		return
	}
	c.enqueue(errMsg)
}

// enqueue drops the message if the client is gone or its send buffer is full
// rather than blocking the caller. Serialized against closeSend so a late
// watch delivery can never hit a closed channel.
func (c *Client) enqueue(msg *bridge.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("dropping message for slow client",
			zap.String("action", msg.Action))
	}
}

// closeSend closes the send channel exactly once, ending the write pump.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
