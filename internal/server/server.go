package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/visiongate/visiongate/internal/auth"
	"github.com/visiongate/visiongate/internal/handler"
	"github.com/visiongate/visiongate/internal/ledger"
	"github.com/visiongate/visiongate/internal/server/middleware"
	"github.com/visiongate/visiongate/internal/service"
	"github.com/visiongate/visiongate/internal/store"
	"github.com/visiongate/visiongate/internal/vision"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host             string
	Port             int
	ShutdownTimeout  time.Duration
	CORSOrigins      []string
	MaxBodySize      int64 // bytes
	SolvePerTokenRPM int   // per-token rate limit on the solve endpoint
	GlobalRPM        int   // per-IP rate limit on everything else
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             8080,
		ShutdownTimeout:  30 * time.Second,
		CORSOrigins:      []string{"*"},
		MaxBodySize:      10 * 1024 * 1024, // 10MB, images are base64
		SolvePerTokenRPM: 120,
		GlobalRPM:        600,
	}
}

// Server is the top-level HTTP server. It owns the Chi router, the
// durable store, the token resolver, the ledger, and the vision client.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	resolver   *auth.Resolver
	authSvc    *service.AuthService
	ledger     *ledger.Ledger
	vision     vision.Client
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, resolver *auth.Resolver, authSvc *service.AuthService, l *ledger.Ledger, visionClient vision.Client, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		resolver: resolver,
		authSvc:  authSvc,
		ledger:   l,
		vision:   visionClient,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}
	if s.cfg.GlobalRPM > 0 {
		r.Use(middleware.RateLimit(s.cfg.GlobalRPM))
	}

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	solveHandler := handler.NewSolveHandler(s.vision, s.ledger, s.store, s.logger)
	accountHandler := handler.NewAccountHandler(s.store, s.ledger)
	sysHandler := handler.NewSystemHandler(s.store, s.authSvc, s.ledger, s.resolver)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {

		// Token-authenticated product surface.
		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(s.resolver))

			r.Group(func(r chi.Router) {
				if s.cfg.SolvePerTokenRPM > 0 {
					r.Use(middleware.RateLimitByToken(s.cfg.SolvePerTokenRPM))
				}
				r.Post("/solve", solveHandler.Solve)
			})

			r.Get("/me", accountHandler.Me)
			r.Get("/usage", accountHandler.Usage)
			r.Get("/usage/records", accountHandler.UsageRecords)
			r.Get("/tokens", accountHandler.ListTokens)
			r.Delete("/tokens/{tokenID}", accountHandler.RevokeOwnToken)
		})

		// System APIs (admin management).
		r.Route("/system", func(r chi.Router) {

			// Session endpoints are unauthenticated (login) or
			// self-authenticated (logout).
			r.Post("/admin/session", sysHandler.Login)
			r.Delete("/admin/session", sysHandler.Logout)

			// All other system endpoints require an admin session.
			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminAuth(s.authSvc))

				r.Get("/owners", sysHandler.ListOwners)
				r.Post("/owners", sysHandler.CreateOwner)
				r.Get("/owners/{ownerID}", sysHandler.GetOwner)
				r.Patch("/owners/{ownerID}", sysHandler.SetOwnerActive)
				r.Post("/owners/{ownerID}/verify", sysHandler.VerifyOwnerEmail)
				r.Get("/owners/{ownerID}/tokens", sysHandler.ListOwnerTokens)
				r.Post("/owners/{ownerID}/tokens", sysHandler.IssueToken)
				r.Delete("/tokens/{tokenID}", sysHandler.RevokeToken)

				r.Get("/billing", sysHandler.ListPeriods)
				r.Post("/billing/{periodID}/paid", sysHandler.MarkPaid)
				r.Post("/billing/{periodID}/overdue", sysHandler.MarkOverdue)
				r.Post("/billing/{periodID}/waived", sysHandler.MarkWaived)

				r.Get("/cache", sysHandler.CacheStats)

				// Admin accounts are super-admin territory.
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireSuperAdmin())
					r.Get("/admins", sysHandler.ListAdmins)
					r.Post("/admins", sysHandler.CreateAdmin)
				})
			})
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store answers,
// or 503 when it doesn't.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if _, err := s.store.CountOwners(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close failed", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
