// Package server provides the HTTP server and routing for Steward.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/config"
	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/settings"
	"github.com/aristath/steward/internal/modules/vault"
)

// Config holds server configuration
type Config struct {
	Log         zerolog.Logger
	VaultDB     *database.DB
	ConfigDB    *database.DB
	CacheDB     *database.DB
	Config      *config.Config
	Port        int
	DevMode     bool
	Vault       *vault.Service
	SettingsSvc *settings.Service
	Bus         *events.Bus
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	vaultDB        *database.DB
	configDB       *database.DB
	cacheDB        *database.DB
	cfg            *config.Config
	auth           *TokenStore
	vaultHandlers  *VaultHandlers
	systemHandlers *SystemHandlers
	eventsHandler  *EventsStreamHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	auth := NewTokenStore(cfg.ConfigDB.Conn(), cfg.Log)

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		vaultDB:        cfg.VaultDB,
		configDB:       cfg.ConfigDB,
		cacheDB:        cfg.CacheDB,
		cfg:            cfg.Config,
		auth:           auth,
		vaultHandlers:  NewVaultHandlers(cfg.Vault, cfg.SettingsSvc, cfg.Log),
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.Config.DataDir, cfg.VaultDB, cfg.ConfigDB, cfg.CacheDB),
		eventsHandler:  NewEventsStreamHandler(cfg.Bus, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetJobs registers job instances for manual triggering via API
func (s *Server) SetJobs(rebalance, feeAccrual, quoteSync, backup, cacheCleanup Job) {
	s.systemHandlers.SetJobs(rebalance, feeAccrual, quoteSync, backup, cacheCleanup)
}

// SetJobStatusFunc wires the scheduler's run report into the jobs endpoint
func (s *Server) SetJobStatusFunc(fn func() []JobStatus) {
	s.systemHandlers.SetJobStatusFunc(fn)
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Health check (unauthenticated, for load balancers)
	s.router.Get("/health", s.handleHealth)

	// Event stream (websocket). Authenticated via query token because
	// browser websocket clients cannot set headers.
	s.router.Get("/ws/events", s.auth.RequireAny(s.eventsHandler.ServeHTTP))

	h := s.vaultHandlers
	s.router.Route("/api", func(r chi.Router) {
		// Holder operations: any valid token
		r.Get("/vault", s.auth.RequireAny(h.HandleVaultStatus))
		r.Post("/deposit", s.auth.RequireAny(h.HandleDeposit))
		r.Post("/withdraw", s.auth.RequireAny(h.HandleWithdraw))
		r.Get("/withdraw/preview", s.auth.RequireAny(h.HandlePreviewWithdraw))
		r.Get("/strategies", s.auth.RequireAny(h.HandleListStrategies))
		r.Get("/reports", s.auth.RequireAny(h.HandleRecentReports))

		// Strategy self-reporting: the token's strategy id must match the
		// report it files.
		r.Post("/report", s.auth.RequireStrategy(h.HandleReport))

		// Management operations
		r.Post("/rebalance/execute", s.auth.Require(RoleManagement, h.HandleExecuteRebalance))
		r.Get("/rebalance/should", s.auth.Require(RoleManagement, h.HandleShouldRebalance))
		r.Post("/harvest/{id}", s.auth.Require(RoleManagement, h.HandleHarvest))
		r.Post("/fees/accrue", s.auth.Require(RoleManagement, h.HandleAccrueFees))

		// Governance operations
		r.Post("/strategies", s.auth.Require(RoleGovernance, h.HandleRegisterStrategy))
		r.Patch("/strategies/{id}/ratio", s.auth.Require(RoleGovernance, h.HandleUpdateRatio))
		r.Delete("/strategies/{id}", s.auth.Require(RoleGovernance, h.HandleRevokeStrategy))
		r.Put("/queue", s.auth.Require(RoleGovernance, h.HandleSetQueue))
		r.Put("/deposit-limit", s.auth.Require(RoleGovernance, h.HandleSetDepositLimit))
		r.Put("/fees", s.auth.Require(RoleGovernance, h.HandleSetFees))
		r.Put("/degradation", s.auth.Require(RoleGovernance, h.HandleSetDegradation))
		r.Get("/settings", s.auth.Require(RoleGovernance, h.HandleGetSettings))
		r.Put("/settings/{key}", s.auth.Require(RoleGovernance, h.HandleSetSetting))

		// Guardian operations: the guardian may also pull the brake
		r.Put("/shutdown", s.auth.Require(RoleGuardian, h.HandleSetShutdown))
		r.Post("/strategies/{id}/emergency-exit", s.auth.Require(RoleGuardian, h.HandleEmergencyExit))

		// System monitoring
		r.Get("/system/health", s.auth.RequireAny(s.systemHandlers.HandleSystemHealth))
		r.Get("/system/jobs", s.auth.RequireAny(s.systemHandlers.HandleJobStatuses))
		r.Post("/jobs/{name}", s.auth.Require(RoleManagement, s.systemHandlers.HandleTriggerJob))
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the router for tests.
func (s *Server) Router() http.Handler { return s.router }

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
