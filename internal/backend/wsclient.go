package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/12Particles/pivosync/internal/common/config"
	apperrors "github.com/12Particles/pivosync/internal/common/errors"
	"github.com/12Particles/pivosync/internal/common/logger"
	"github.com/12Particles/pivosync/internal/events/bus"
	"github.com/12Particles/pivosync/pkg/bridge"
)

// eventSource identifies this component on the event bus.
const eventSource = "backend-bridge"

// WSClient implements Client over a WebSocket connection to the backend.
// Backend notifications (execution lifecycle, messages, task summaries) are
// republished onto the event bus under the notification's action as subject.
type WSClient struct {
	url      string
	cfg      config.BackendConfig
	eventBus bus.EventBus
	logger   *logger.Logger

	conn      *websocket.Conn
	connMu    sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	closed    bool

	pending   map[string]chan *bridge.Message
	pendingMu sync.Mutex
}

// NewWSClient creates a backend bridge client. Connect must be called before use.
func NewWSClient(cfg config.BackendConfig, eventBus bus.EventBus, log *logger.Logger) *WSClient {
	return &WSClient{
		url:      cfg.URL,
		cfg:      cfg,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "backend-bridge")),
		pending:  make(map[string]chan *bridge.Message),
	}
}

// Connect dials the backend and starts the read loop.
func (c *WSClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected {
		return nil
	}
	if c.closed {
		return fmt.Errorf("client is closed")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("connected to backend", zap.String("url", c.url))

	go c.readLoop(conn)
	return nil
}

// Close shuts the connection down and stops reconnecting.
func (c *WSClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.closed = true
	if !c.connected {
		return nil
	}
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected reports whether the bridge connection is up.
func (c *WSClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// StartExecution implements Client.
func (c *WSClient) StartExecution(ctx context.Context, req StartExecutionRequest) (*StartExecutionResponse, error) {
	var resp StartExecutionResponse
	if err := c.call(ctx, bridge.ActionExecutionStart, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendInput implements Client.
func (c *WSClient) SendInput(ctx context.Context, req SendInputRequest) error {
	return c.call(ctx, bridge.ActionExecutionInput, req, nil)
}

// StopExecution implements Client.
func (c *WSClient) StopExecution(ctx context.Context, attemptID string) error {
	req := map[string]string{"attempt_id": attemptID}
	return c.call(ctx, bridge.ActionExecutionStop, req, nil)
}

// IsAttemptActive implements Client.
func (c *WSClient) IsAttemptActive(ctx context.Context, attemptID string) (bool, error) {
	req := map[string]string{"attempt_id": attemptID}
	var resp struct {
		Active bool `json:"active"`
	}
	if err := c.call(ctx, bridge.ActionExecutionActive, req, &resp); err != nil {
		return false, err
	}
	return resp.Active, nil
}

// call performs one request/response round trip with the configured timeout.
func (c *WSClient) call(ctx context.Context, action string, payload, result interface{}) error {
	resp, err := c.request(ctx, action, payload)
	if err != nil {
		return apperrors.BackendUnavailable(action, err)
	}

	if resp.Type == bridge.MessageTypeError {
		ep, perr := resp.ParseError()
		if perr != nil {
			return apperrors.BackendUnavailable(action, fmt.Errorf("unreadable error payload: %w", perr))
		}
		return apperrors.BackendUnavailable(action, fmt.Errorf("backend error [%s]: %s", ep.Code, ep.Message))
	}

	if result != nil && len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, result); err != nil {
			return apperrors.BackendUnavailable(action, fmt.Errorf("failed to unmarshal response: %w", err))
		}
	}
	return nil
}

func (c *WSClient) request(ctx context.Context, action string, payload interface{}) (*bridge.Message, error) {
	// Take the connection and the connected flag under one lock acquisition:
	// a disconnect between a separate check and the conn read would leave a
	// nil conn behind.
	c.connMu.RLock()
	conn := c.conn
	connected := c.connected
	c.connMu.RUnlock()
	if !connected || conn == nil {
		return nil, fmt.Errorf("not connected to backend")
	}

	id := uuid.New().String()
	msg, err := bridge.NewRequest(id, action, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan *bridge.Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err = conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeoutDuration())
	defer cancel()

	select {
	case resp := <-respChan:
		return resp, nil
	case <-timeoutCtx.Done():
		c.dropPending(id)
		return nil, timeoutCtx.Err()
	}
}

func (c *WSClient) dropPending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		var msg bridge.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("bridge read error", zap.Error(err))
			}
			c.handleDisconnect()
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *WSClient) handleMessage(msg *bridge.Message) {
	switch msg.Type {
	case bridge.MessageTypeResponse, bridge.MessageTypeError:
		c.pendingMu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
		if ok {
			ch <- msg
		}
	case bridge.MessageTypeNotification:
		c.publishNotification(msg)
	default:
		c.logger.Debug("ignoring unexpected message type",
			zap.String("type", string(msg.Type)),
			zap.String("action", msg.Action))
	}
}

// publishNotification republishes a backend notification onto the event bus.
// The notification action doubles as the bus subject.
func (c *WSClient) publishNotification(msg *bridge.Message) {
	var data map[string]interface{}
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			c.logger.Warn("dropping notification with unreadable payload",
				zap.String("action", msg.Action),
				zap.Error(err))
			return
		}
	}

	event := bus.NewEvent(msg.Action, eventSource, data)
	if err := c.eventBus.Publish(context.Background(), msg.Action, event); err != nil {
		c.logger.Error("failed to publish backend event",
			zap.String("action", msg.Action),
			zap.Error(err))
	}
}

// handleDisconnect fails all in-flight requests and schedules a reconnect.
func (c *WSClient) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	c.conn = nil
	closed := c.closed
	c.connMu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		errMsg, _ := bridge.NewError(id, "", bridge.ErrorCodeInternalError, "connection lost", nil)
		ch <- errMsg
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !closed {
		go c.reconnectLoop()
	}
}

// Reconnect retries the initial dial in the background. Used when the
// backend is not yet up at startup; disconnects after a successful dial are
// retried automatically.
func (c *WSClient) Reconnect() {
	c.reconnectLoop()
}

// reconnectLoop redials with linear backoff until connected or closed.
func (c *WSClient) reconnectLoop() {
	attempt := 0
	for {
		c.connMu.RLock()
		closed, connected := c.closed, c.connected
		c.connMu.RUnlock()
		if closed || connected {
			return
		}

		attempt++
		if c.cfg.MaxReconnects > 0 && attempt > c.cfg.MaxReconnects {
			c.logger.Error("giving up on backend reconnect",
				zap.Int("attempts", attempt-1))
			return
		}

		wait := c.cfg.ReconnectWaitDuration() * time.Duration(attempt)
		if max := 30 * time.Second; wait > max {
			wait = max
		}
		time.Sleep(wait)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info("backend reconnected", zap.Int("attempts", attempt))
			return
		}
		c.logger.Warn("backend reconnect failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
}
