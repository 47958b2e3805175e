package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/12Particles/pivosync/internal/common/logger"
	"github.com/12Particles/pivosync/internal/execution/facade"
	"github.com/12Particles/pivosync/internal/execution/watch"
	"github.com/12Particles/pivosync/pkg/bridge"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local desktop transport; no cross-origin UI exists.
		return true
	},
}

// Gateway is the UI-facing WebSocket gateway.
type Gateway struct {
	Hub        *Hub
	Dispatcher *bridge.Dispatcher
	logger     *logger.Logger
}

// NewGateway creates a gateway with all handlers registered.
func NewGateway(svc *facade.Service, watcher *watch.Watcher, log *logger.Logger) *Gateway {
	dispatcher := bridge.NewDispatcher()
	hub := NewHub(dispatcher, watcher, log)

	handlers := NewHandlers(svc, log)
	handlers.RegisterHandlers(dispatcher)
	registerHealthHandler(dispatcher)

	return &Gateway{
		Hub:        hub,
		Dispatcher: dispatcher,
		logger:     log.WithFields(zap.String("component", "ws_gateway")),
	}
}

// SetupRoutes adds the WebSocket routes to the Gin engine.
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", g.HandleConnection)
}

// HandleConnection upgrades HTTP to WebSocket and runs the client pumps.
func (g *Gateway) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	g.logger.Debug("WebSocket connection established",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr),
	)

	client := NewClient(clientID, conn, g.Hub, g.logger)
	g.Hub.Register(client)

	go client.WritePump(c.Request.Context())
	client.ReadPump(c.Request.Context())
}

// registerHealthHandler registers the health check handler.
func registerHealthHandler(d *bridge.Dispatcher) {
	d.RegisterFunc(bridge.ActionHealthCheck, func(ctx context.Context, msg *bridge.Message) (*bridge.Message, error) {
		return bridge.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"status":  "ok",
			"service": "pivosync",
		})
	})
}
