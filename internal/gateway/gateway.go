// ABOUTME: Gateway orchestrator wiring the store, presence, routing, and transports
// ABOUTME: Manages the HTTP server and bot adapter lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relaydesk/relaydesk/internal/assign"
	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/bot"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/live"
	"github.com/relaydesk/relaydesk/internal/presence"
	"github.com/relaydesk/relaydesk/internal/router"
	"github.com/relaydesk/relaydesk/internal/store"
)

// Gateway orchestrates the relaydesk server components. It owns the HTTP
// server for the agent portal and API, and the bot adapter when enabled.
type Gateway struct {
	config      *config.Config
	store       *store.SQLiteStore
	registry    *presence.Registry
	broadcaster *live.Broadcaster
	router      *router.Router
	engine      *assign.Engine
	verifier    *auth.JWTVerifier
	botAdapter  *bot.Adapter
	httpServer  *http.Server
	logger      *slog.Logger
}

// initStore creates the store based on config and environment.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("RELAYDESK_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// noopUserNotifier drops user-bound pushes when no bot transport is configured.
// Messages stay queryable through the API either way.
type noopUserNotifier struct {
	logger *slog.Logger
}

func (n *noopUserNotifier) NotifyUser(_ context.Context, session *store.Session, _ *store.Message) bool {
	n.logger.Debug("no user transport configured, message stored only", "session_id", session.ID)
	return false
}

func (n *noopUserNotifier) NotifyUserClosed(_ context.Context, _ *store.Session) {}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	registry := presence.NewRegistry(logger, cfg.Delivery.SendTimeout)
	broadcaster := live.NewBroadcaster(logger)
	portalNotifier := live.NewPortalNotifier(registry, broadcaster, logger)
	authz := auth.NewRoleAuthorizer(s)

	var users router.UserNotifier
	var botClient *bot.Client
	if cfg.Bot.Enabled {
		botClient = bot.NewClient(cfg.Bot.APIBase, cfg.Bot.Token, cfg.Bot.PollTimeout)
		users = bot.NewUserNotifier(botClient, s, logger)
	} else {
		users = &noopUserNotifier{logger: logger.With("component", "user_notifier")}
	}

	rt := router.NewRouter(s, users, portalNotifier, authz, logger)
	engine := assign.NewEngine(s, s, registry, portalNotifier, authz, logger)

	gw := &Gateway{
		config:      cfg,
		store:       s,
		registry:    registry,
		broadcaster: broadcaster,
		router:      rt,
		engine:      engine,
		verifier:    verifier,
		logger:      logger.With("component", "gateway"),
	}

	if cfg.Bot.Enabled {
		gw.botAdapter = bot.NewAdapter(botClient, s, rt, engine, cfg.Bot.PollTimeout, logger)
	}

	wsHandler := live.NewHandler(verifier, s, registry, broadcaster, rt, logger)

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	// Health endpoints, no auth required
	mux.Get("/health", gw.handleHealth)
	mux.Get("/health/ready", gw.handleReady)

	// Agent portal websocket authenticates inside the handler (query token)
	mux.Handle("/ws/agent", wsHandler)

	// API endpoints require a valid agent token
	mux.Route("/api", func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(s, verifier))
		r.Get("/sessions", gw.handleListSessions)
		r.Get("/sessions/{id}/messages", gw.handleListMessages)
		r.Post("/sessions/{id}/claim", gw.handleClaimSession)
		r.Post("/sessions/{id}/close", gw.handleCloseSession)
		r.Post("/sessions/{id}/messages", gw.handleSendMessage)
		r.With(auth.RequireSuperAdminHTTP()).Get("/agents", gw.handleListAgents)
	})

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a component fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if g.botAdapter != nil {
		go func() {
			if err := g.botAdapter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("bot adapter: %w", err)
			}
		}()
	}

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.broadcaster.Close()
	for _, agentID := range g.registry.ConnectedAgents() {
		g.registry.Unregister(agentID)
	}

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once at least one agent holds a live connection.
func (g *Gateway) handleReady(w http.ResponseWriter, _ *http.Request) {
	connected := g.registry.ConnectedAgents()
	if len(connected) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", len(connected))
}
