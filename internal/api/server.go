// Package api provides the Carry REST and WebSocket API server.
package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FocuswithJustin/carry/core/passage"
	"github.com/FocuswithJustin/carry/internal/logging"
	"github.com/FocuswithJustin/carry/internal/server"
	"github.com/FocuswithJustin/carry/internal/store"
)

// Server serves the API over a plan store.
type Server struct {
	cfg      Config
	store    *store.Store
	resolver *passage.Resolver
	hub      *Hub
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	started  time.Time
	handler  http.Handler
}

// New builds a server over st and starts its WebSocket hub.
// Call Close to stop background goroutines.
func New(cfg Config, st *store.Store) *Server {
	opts := []passage.Option{passage.WithCache(cfg.ResolveCacheSize)}
	if cfg.Aliases {
		opts = append(opts, passage.WithAliases())
	}

	s := &Server{
		cfg:      cfg,
		store:    st,
		resolver: passage.New(opts...),
		hub:      NewHub(),
		upgrader: newUpgrader(cfg.AllowedOrigins),
		started:  time.Now(),
	}
	go s.hub.Run()

	if cfg.RateLimitRequests > 0 {
		s.limiter = NewRateLimiter(RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimitRequests,
			BurstSize:         cfg.RateLimitBurst,
		})
	}
	s.handler = s.buildHandler()
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close stops the hub and the rate limiter sweeper. It does not close the store.
func (s *Server) Close() {
	s.hub.Stop()
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// buildHandler wires routes and middleware. Outermost first: request
// logging, CORS, rate limiting, security headers.
func (s *Server) buildHandler() http.Handler {
	var handler http.Handler = server.SecurityHeadersWithCSP(server.APICSPConfig(), s.routes())

	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
		logging.Info("rate limiting enabled",
			"requests_per_minute", s.cfg.RateLimitRequests,
			"burst_size", s.cfg.RateLimitBurst)
	}

	handler = server.CORSMiddlewareWithConfig(server.CORSConfig{AllowedOrigins: s.cfg.AllowedOrigins}, handler)
	if len(s.cfg.AllowedOrigins) > 0 {
		logging.SecurityEvent("cors_configured", "api",
			"mode", "restricted",
			"allowed_origins_count", len(s.cfg.AllowedOrigins))
	} else {
		logging.SecurityEvent("cors_configured", "api",
			"mode", "permissive",
			"note", "allowing all origins (*)")
	}

	return logging.CombinedMiddleware(handler)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /books", s.handleBooks)
	mux.HandleFunc("GET /books/{name}", s.handleBook)

	mux.HandleFunc("GET /passages/resolve", s.handleResolve)
	mux.HandleFunc("POST /passages/resolve", s.handleResolve)

	mux.HandleFunc("GET /orgs/{orgId}/plans", s.handleListPlans)
	mux.HandleFunc("POST /orgs/{orgId}/plans", s.handleCreatePlan)
	mux.HandleFunc("GET /orgs/{orgId}/plans/{planId}", s.handleGetPlan)
	mux.HandleFunc("PUT /orgs/{orgId}/plans/{planId}", s.handleUpdatePlan)
	mux.HandleFunc("DELETE /orgs/{orgId}/plans/{planId}", s.handleDeletePlan)
	mux.HandleFunc("POST /orgs/{orgId}/plans/{planId}/blocks/{index}/passages", s.handleAddPassage)

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully within the configured timeout. Request contexts keep ctx's
// values but not its cancellation, so in-flight requests can finish.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logging.InfoContext(ctx, "shutting down", "timeout", timeout.String())
	s.hub.Stop()
	return srv.Shutdown(shutdownCtx)
}

// Start opens the plan store at cfg.DBPath and serves the API on cfg.Port
// until ctx is cancelled.
func Start(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open plan store: %w", err)
	}
	defer st.Close()

	s := New(cfg, st)
	defer s.Close()

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	logging.Warn("TLS disabled - using plain HTTP",
		"recommendation", "terminate TLS at a reverse proxy for production")
	logging.ServerStartup("rest_api", "http", l.Addr().(*net.TCPAddr).Port,
		"websocket_protocol", "ws",
		"db", server.AbsPath(cfg.DBPath),
		"aliases", cfg.Aliases)

	return s.Serve(ctx, l)
}
