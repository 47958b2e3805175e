// Command pivosync runs the execution-state synchronizer: it bridges the
// execution backend's event stream into a local registry and serves UI
// clients over WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	agentregistry "github.com/12Particles/pivosync/internal/agent/registry"
	"github.com/12Particles/pivosync/internal/backend"
	"github.com/12Particles/pivosync/internal/common/config"
	"github.com/12Particles/pivosync/internal/common/logger"
	"github.com/12Particles/pivosync/internal/events"
	"github.com/12Particles/pivosync/internal/execution/facade"
	"github.com/12Particles/pivosync/internal/execution/registry"
	execsync "github.com/12Particles/pivosync/internal/execution/sync"
	"github.com/12Particles/pivosync/internal/execution/watch"
	gatewayws "github.com/12Particles/pivosync/internal/gateway/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to config directory")
	flag.Parse()

	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("pivosync exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ============================================
	// EVENT BUS
	// ============================================
	provided, cleanup, err := events.Provide(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.Error("event bus cleanup error", zap.Error(err))
		}
	}()
	eventBus := provided.Bus
	if provided.NATS != nil {
		log.Info("using NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("using in-memory event bus")
	}

	// ============================================
	// EXECUTION STATE
	// ============================================
	agents, err := agentregistry.New(cfg.Agents.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load agent catalog: %w", err)
	}

	reg := registry.New(log)

	synchronizer := execsync.New(eventBus, reg, log)
	if err := synchronizer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start synchronizer: %w", err)
	}
	defer func() {
		if err := synchronizer.Stop(); err != nil {
			log.Error("synchronizer stop error", zap.Error(err))
		}
	}()

	// ============================================
	// BACKEND BRIDGE
	// ============================================
	bridgeClient := backend.NewWSClient(cfg.Backend, eventBus, log)
	if err := bridgeClient.Connect(ctx); err != nil {
		// The bridge client reconnects on its own once the backend comes up;
		// commands fail with BACKEND_UNAVAILABLE until then.
		log.Warn("backend not reachable at startup", zap.Error(err))
		go bridgeClient.Reconnect()
	}
	defer func() {
		if err := bridgeClient.Close(); err != nil {
			log.Error("bridge close error", zap.Error(err))
		}
	}()

	// ============================================
	// FAÇADE + GATEWAY
	// ============================================
	svc := facade.NewService(bridgeClient, reg, agents, log)
	watcher := watch.New(reg, log)
	gateway := gatewayws.NewGateway(svc, watcher, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	gateway.SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "pivosync",
			"backend": bridgeClient.IsConnected(),
			"clients": gateway.Hub.ClientCount(),
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		gateway.Hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("gateway listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info("pivosync started",
		zap.String("websocket", "/ws"),
		zap.String("health", "/health"),
		zap.String("backend", cfg.Backend.URL))

	err = g.Wait()
	log.Info("pivosync stopped")
	return err
}
