// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/dezenmart/escrow-core/internal/auth"
	"github.com/dezenmart/escrow-core/internal/config"
	"github.com/dezenmart/escrow-core/internal/dispute"
	"github.com/dezenmart/escrow-core/internal/health"
	"github.com/dezenmart/escrow-core/internal/logging"
	"github.com/dezenmart/escrow-core/internal/metrics"
	"github.com/dezenmart/escrow-core/internal/purchase"
	"github.com/dezenmart/escrow-core/internal/ratelimit"
	"github.com/dezenmart/escrow-core/internal/realtime"
	"github.com/dezenmart/escrow-core/internal/registry"
	"github.com/dezenmart/escrow-core/internal/security"
	"github.com/dezenmart/escrow-core/internal/state"
	"github.com/dezenmart/escrow-core/internal/trade"
	"github.com/dezenmart/escrow-core/internal/validation"
	"github.com/dezenmart/escrow-core/internal/vault"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	registrySvc  *registry.Service
	stateSvc     *state.Service
	tradeSvc     *trade.Service
	purchaseSvc  *purchase.Service
	vaultSvc     *vault.Service
	disputeSvc   *dispute.Service
	authMgr      *auth.Manager
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.registrySvc = registry.NewService(registry.NewPostgresStore(db))
		s.stateSvc = state.NewService(state.NewPostgresStore(db))
		s.vaultSvc = vault.NewService(vault.NewPostgresStore(db))
		s.authMgr = auth.NewManager(auth.NewPostgresStore(db))

		s.realtimeHub = realtime.NewHub(s.logger)

		s.tradeSvc = trade.NewService(trade.NewPostgresStore(db), s.stateSvc, s.registrySvc).
			WithEvents(s.realtimeHub)
		s.purchaseSvc = purchase.NewService(
			purchase.NewPostgresStore(db),
			s.tradeSvc,
			s.vaultSvc,
			s.stateSvc,
			s.registrySvc,
		).WithEvents(s.realtimeHub)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		s.registrySvc = registry.NewService(registry.NewMemoryStore())
		s.stateSvc = state.NewService(state.NewMemoryStore())
		s.vaultSvc = vault.NewService(vault.NewMemoryStore())
		s.authMgr = auth.NewManager(auth.NewMemoryStore())

		s.realtimeHub = realtime.NewHub(s.logger)

		s.tradeSvc = trade.NewService(trade.NewMemoryStore(), s.stateSvc, s.registrySvc).
			WithEvents(s.realtimeHub)
		s.purchaseSvc = purchase.NewService(
			purchase.NewMemoryStore(),
			s.tradeSvc,
			s.vaultSvc,
			s.stateSvc,
			s.registrySvc,
		).WithEvents(s.realtimeHub)
	}

	// Arbitration sits on top of the purchase lifecycle, gated by the admin
	s.disputeSvc = dispute.NewService(s.purchaseSvc, s.stateSvc)

	s.logger.Info("API authentication enabled")
	s.logger.Info("realtime streaming enabled")

	// Bootstrap the protocol singleton when an admin is configured
	if cfg.AdminAddress != "" {
		if _, err := s.stateSvc.Initialize(ctx, cfg.AdminAddress); err != nil {
			if errors.Is(err, state.ErrAlreadyInitialized) {
				s.logger.Info("protocol already initialized")
			} else {
				return nil, fmt.Errorf("failed to initialize protocol: %w", err)
			}
		} else {
			s.logger.Info("protocol initialized", "admin", cfg.AdminAddress)
		}
	}

	// Health checks
	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.checks.Register("protocol", func(ctx context.Context) health.Status {
		if _, err := s.stateSvc.Get(ctx); err != nil {
			if errors.Is(err, state.ErrNotInitialized) {
				return health.Status{Name: "protocol", Healthy: true, Detail: "not initialized"}
			}
			return health.Status{Name: "protocol", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "protocol", Healthy: true}
	})

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = int(s.cfg.RateLimitRPM)
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time event streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	registryHandler := registry.NewHandler(s.registrySvc)
	tradeHandler := trade.NewHandler(s.tradeSvc)
	purchaseHandler := purchase.NewHandler(s.purchaseSvc)
	vaultHandler := vault.NewHandler(s.vaultSvc)
	disputeHandler := dispute.NewHandler(s.disputeSvc)
	stateHandler := state.NewHandler(s.stateSvc, s.vaultSvc).WithEvents(s.realtimeHub)
	authHandler := auth.NewHandler(s.authMgr)

	// PUBLIC ROUTES (no auth required)
	// Discovery and read endpoints
	registryHandler.RegisterRoutes(v1)
	tradeHandler.RegisterRoutes(v1)
	purchaseHandler.RegisterRoutes(v1)
	vaultHandler.RegisterRoutes(v1)
	stateHandler.RegisterRoutes(v1)

	// AUTH INFO (public)
	v1.GET("/auth/info", authHandler.Info)

	// REGISTRATION (public but returns API key)
	v1.POST("/register/seller", s.registerWithAPIKey(registry.RoleSeller))
	v1.POST("/register/buyer", s.registerWithAPIKey(registry.RoleBuyer))
	v1.POST("/register/logistics", s.registerWithAPIKey(registry.RoleLogistics))

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		tradeHandler.RegisterProtectedRoutes(protected)
		purchaseHandler.RegisterProtectedRoutes(protected)

		// API key management
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.POST("/auth/keys/:keyId/regenerate", authHandler.RegenerateKey)
		protected.GET("/auth/me", authHandler.WhoAmI)
	}

	// ADMIN ROUTES (require API key; admin identity enforced by the services)
	admin := v1.Group("/admin")
	admin.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		stateHandler.RegisterAdminRoutes(admin)
		disputeHandler.RegisterAdminRoutes(admin)
	}
}

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

// registerWithAPIKey handles POST /v1/register/{seller,buyer,logistics}.
// Registration is open but pairs account creation with an API key so the new
// identity can immediately call the protected endpoints.
func (s *Server) registerWithAPIKey(role registry.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req struct {
			Address string `json:"address" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}

		// Validate address format
		if !validation.IsValidEthAddress(req.Address) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
			})
			return
		}

		var (
			account interface{}
			err     error
		)
		switch role {
		case registry.RoleSeller:
			account, err = s.registrySvc.RegisterSeller(ctx, req.Address)
		case registry.RoleBuyer:
			account, err = s.registrySvc.RegisterBuyer(ctx, req.Address)
		case registry.RoleLogistics:
			account, err = s.registrySvc.RegisterProvider(ctx, req.Address)
		}
		if err != nil {
			switch {
			case errors.Is(err, registry.ErrAlreadyRegistered):
				c.JSON(http.StatusConflict, gin.H{
					"error":   "already_registered",
					"message": fmt.Sprintf("This address already holds a %s account", role),
				})
			case errors.Is(err, registry.ErrInvalidAddress):
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_address",
					"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
				})
			default:
				s.logger.Error("failed to register account", "role", role, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_error",
					"message": "Failed to register account",
				})
			}
			return
		}

		metrics.RegistrationsTotal.WithLabelValues(string(role)).Inc()

		// Generate API key for the new account
		rawKey, keyInfo, err := s.authMgr.GenerateKey(ctx, req.Address, "Primary key")
		if err != nil {
			s.logger.Error("failed to generate API key", "error", err)
			// Account was created but key generation failed
			// Still return success but note the issue
			c.JSON(http.StatusCreated, gin.H{
				"account": account,
				"role":    role,
				"warning": "Account registered but API key generation failed. Contact support.",
			})
			return
		}

		s.logger.Info("account registered with API key",
			"address", req.Address,
			"role", role,
			"keyId", keyInfo.ID,
		)

		c.JSON(http.StatusCreated, gin.H{
			"account": account,
			"role":    role,
			"apiKey":  rawKey,
			"keyId":   keyInfo.ID,
			"warning": "Store this API key securely. It will not be shown again.",
			"usage":   "Include 'Authorization: Bearer <apiKey>' header in requests.",
		})
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "ok"
		} else {
			checks[st.Name] = st.Detail
		}
	}

	status := http.StatusOK
	resp := HealthResponse{
		Status:    "healthy",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if !healthy || !s.healthy.Load() {
		status = http.StatusServiceUnavailable
		resp.Status = "unhealthy"
	}

	c.JSON(status, resp)
}

func (s *Server) livenessHandler(c *gin.Context) {
	// Liveness means the process is up; no dependency checks
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "dezenmart-escrow-core",
		"description": "Escrow-mediated trading protocol: sellers list trades, buyers purchase with funds held in custody until delivery is confirmed",
		"version":     "v1",
		"endpoints": gin.H{
			"register":  "POST /v1/register/{seller,buyer,logistics}",
			"trades":    "GET /v1/trades, POST /v1/trades",
			"purchases": "POST /v1/purchases, POST /v1/purchases/:id/{confirm,cancel,dispute}",
			"protocol":  "GET /v1/protocol/stats",
			"events":    "GET /ws",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Sample DB pool stats into Prometheus gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (hub, stats collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
