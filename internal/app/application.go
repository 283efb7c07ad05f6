package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"syncdeck/internal/api"
	"syncdeck/internal/config"
	"syncdeck/internal/database"
	"syncdeck/internal/hub"
	"syncdeck/internal/invite"
	"syncdeck/internal/room"
	"syncdeck/internal/router"
	"syncdeck/internal/session"
	"syncdeck/internal/websocket"
	pkgdatabase "syncdeck/pkg/database"
	"syncdeck/pkg/types"
)

var log = logrus.StandardLogger().WithField("component", "app")

// Application coordinates all system components.
// Clean dependency injection with strict initialization order:
// Database → Directory/Invites → Rooms → Registry → Router → Hub → API → HTTP
type Application struct {
	config      *config.Config
	dbManager   *database.Manager
	directory   *session.Directory
	invites     *invite.Service
	rooms       *room.Registry
	registry    *websocket.Registry
	broadcaster *room.Broadcaster
	messageHub  *hub.Hub
	apiServer   *api.Server
	httpServer  *http.Server

	sweepCancel context.CancelFunc
}

// NewApplication creates an application with all components initialized.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Database manager (foundation layer)
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply compiled-in migrations so the schema is current
	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB())
	if err := migrationManager.ApplyMigrations(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Info("database migrations applied")

	// STEP 2: Session directory and invite service over the store
	directory := session.NewDirectory(dbManager, cfg.Session.Timeout, cfg.Session.MaxClients)
	invites := invite.NewService(dbManager, cfg.Session.InviteTTL)

	// STEP 3: Room registry (ephemeral membership view)
	rooms := room.NewRegistry()

	// STEP 4: Connection registry with rate limiting and liveness
	limiter := websocket.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate, cfg.RateLimit.ViolationThreshold)
	registry := websocket.NewRegistry(limiter, rooms, cfg.WebSocket.HeartbeatTimeout)

	// STEP 5: Broadcaster resolving client IDs through the registry
	broadcaster := room.NewBroadcaster(rooms, registry)

	// STEP 6: Message router over all session collaborators
	messageRouter := router.NewRouter(registry, rooms, broadcaster, directory, newActionLogger())

	// STEP 7: Hub driving the router from a single event loop
	messageHub := hub.NewHub(messageRouter)

	// STEP 8: HTTP surfaces
	apiServer := api.NewServer(directory, invites, dbManager, rooms, broadcaster, registry)
	wsHandler := websocket.NewHandler(registry, messageHub, cfg.WebSocket.ReadLimitBytes, cfg.WebSocket.ReadTimeout)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		dbManager:   dbManager,
		directory:   directory,
		invites:     invites,
		rooms:       rooms,
		registry:    registry,
		broadcaster: broadcaster,
		messageHub:  messageHub,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start begins application execution. The hub starts before the HTTP
// server so no accepted socket can submit into a stopped hub.
func (app *Application) Start(ctx context.Context) error {
	log.WithField("addr", app.httpServer.Addr).Info("starting syncdeck")

	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// Background maintenance: expiry sweeps and heartbeat liveness
	sweepCtx, cancel := context.WithCancel(ctx)
	app.sweepCancel = cancel
	go app.directory.RunSweeper(sweepCtx, app.config.Session.SweepInterval)
	go app.invites.RunSweeper(sweepCtx, app.config.Session.SweepInterval)
	go app.registry.RunHeartbeatSweep(sweepCtx, app.config.WebSocket.PingInterval)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify the server came up before reporting success
	select {
	case err := <-serverErrCh:
		app.sweepCancel()
		app.messageHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Info("syncdeck started")
		return nil
	case <-ctx.Done():
		app.sweepCancel()
		app.messageHub.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP → sweeps → Hub → DB.
func (app *Application) Stop(ctx context.Context) error {
	log.Info("shutting down syncdeck")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown error")
	}

	if app.sweepCancel != nil {
		app.sweepCancel()
	}

	if err := app.messageHub.Stop(); err != nil {
		log.WithError(err).Warn("message hub shutdown error")
	}

	if err := app.dbManager.Close(); err != nil {
		log.WithError(err).Warn("database shutdown error")
	}

	log.Info("syncdeck shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// actionLogger records experiment actions to the structured log. It
// stands in for an external export pipeline; action relay to the room
// never waits on it.
type actionLogger struct {
	log *logrus.Entry
}

func newActionLogger() *actionLogger {
	return &actionLogger{log: logrus.StandardLogger().WithField("component", "actions")}
}

func (a *actionLogger) RecordAction(ctx context.Context, event *types.ExperimentEvent) error {
	a.log.WithFields(logrus.Fields{
		"sessionId": event.SessionID,
		"clientId":  event.ClientID,
		"action":    event.Action,
	}).Info("experiment action recorded")
	return nil
}
