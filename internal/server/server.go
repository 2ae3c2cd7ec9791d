// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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

	"github.com/adityanair/sentinelbank/internal/auth"
	"github.com/adityanair/sentinelbank/internal/captcha"
	"github.com/adityanair/sentinelbank/internal/config"
	"github.com/adityanair/sentinelbank/internal/fraud"
	"github.com/adityanair/sentinelbank/internal/geocode"
	"github.com/adityanair/sentinelbank/internal/health"
	"github.com/adityanair/sentinelbank/internal/idgen"
	"github.com/adityanair/sentinelbank/internal/ledger"
	"github.com/adityanair/sentinelbank/internal/logging"
	"github.com/adityanair/sentinelbank/internal/metrics"
	"github.com/adityanair/sentinelbank/internal/notify"
	"github.com/adityanair/sentinelbank/internal/ratelimit"
	"github.com/adityanair/sentinelbank/internal/security"
	"github.com/adityanair/sentinelbank/internal/syncutil"
	"github.com/adityanair/sentinelbank/internal/traces"
	"github.com/adityanair/sentinelbank/internal/transaction"
	"github.com/adityanair/sentinelbank/internal/user"
	"github.com/adityanair/sentinelbank/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	users       user.Store
	txns        transaction.Store
	tokens      *auth.TokenIssuer
	authSvc     *auth.Service
	txnSvc      *transaction.Service
	mirror      ledger.Client
	notifier    *notify.Emitter
	rateLimiter *ratelimit.Limiter
	checks      *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	shutdownTraces func(context.Context) error

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

// WithMirror sets a custom ledger mirror (for testing)
func WithMirror(m ledger.Client) Option {
	return func(s *Server) {
		s.mirror = m
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		checks: health.NewRegistry(),
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set mirror/logger)
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

		userStore := user.NewPostgresStore(db)
		if err := userStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate user store", "error", err)
		}
		s.users = userStore

		txnStore := transaction.NewPostgresStore(db)
		if err := txnStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate transaction store", "error", err)
		}
		s.txns = txnStore

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Fail("database", err.Error())
			}
			return health.OK("database")
		})
	} else {
		s.users = user.NewMemoryStore()
		s.txns = transaction.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Mail relay
	var sender notify.Sender = notify.Discard{}
	if cfg.SMTPEnabled() {
		sender = notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		s.logger.Info("mail notifications enabled", "host", cfg.SMTPHost)
	} else {
		s.logger.Info("mail relay not configured, notifications are dropped")
	}
	s.notifier = notify.NewEmitter(sender, s.logger)

	// Captcha
	var verifier captcha.Verifier = captcha.AlwaysPass{}
	if cfg.CaptchaSecret != "" {
		verifier = captcha.NewHTTPVerifier(cfg.CaptchaSecret, cfg.CaptchaEndpoint)
		s.logger.Info("captcha verification enabled")
	}

	// Reverse geocoding for session audit logs
	var geocoder geocode.Resolver = geocode.Static{Name: geocode.Unknown}
	if cfg.GeocodeURL != "" {
		if err := security.ValidateEndpointURL(cfg.GeocodeURL); err != nil {
			return nil, fmt.Errorf("invalid GEOCODE_URL: %w", err)
		}
		geocoder = geocode.NewNominatim(cfg.GeocodeURL)
		s.logger.Info("reverse geocoding enabled", "url", cfg.GeocodeURL)
	}

	// Ledger mirror if not injected
	if s.mirror == nil {
		if cfg.LedgerEnabled() {
			mirror, err := ledger.NewMirror(ledger.Config{
				RPCURL:     cfg.LedgerRPCURL,
				PrivateKey: cfg.LedgerPrivateKey,
				ChainID:    cfg.LedgerChainID,
				Contract:   cfg.LedgerContract,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create ledger mirror: %w", err)
			}
			s.mirror = mirror
			s.logger.Info("ledger mirror enabled", "contract", cfg.LedgerContract, "chain_id", cfg.LedgerChainID)

			s.checks.Register("ledger", func(ctx context.Context) health.Status {
				if !mirror.Available(ctx) {
					return health.Fail("ledger", "rpc unreachable")
				}
				return health.OK("ledger")
			})
		} else {
			s.mirror = ledger.Noop{}
			s.logger.Info("ledger mirror not configured, transfers settle off-ledger")
		}
	}

	// Services. Both share one per-user lock set so auth and transfer
	// writes to the same user record serialize.
	locks := syncutil.NewContextShardedMutex()
	s.tokens = auth.NewTokenIssuer(cfg.JWTSecret, auth.DefaultTokenTTL)
	s.authSvc = auth.NewService(s.users, s.tokens, s.notifier, verifier, geocoder, locks, cfg.ClientURL, s.logger)
	s.txnSvc = transaction.NewService(s.users, s.txns, s.mirror, s.notifier, geocoder, locks, s.logger)

	// External fraud scoring
	if cfg.FraudURL != "" {
		if err := security.ValidateEndpointURL(cfg.FraudURL); err != nil {
			return nil, fmt.Errorf("invalid FRAUD_URL: %w", err)
		}
		s.txnSvc.SetFraudChecker(fraud.NewHTTPChecker(cfg.FraudURL))
		s.logger.Info("fraud scoring enabled", "url", cfg.FraudURL)
	}

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

	// CORS restricted to the web client origin
	s.router.Use(security.CORSMiddleware([]string{s.cfg.ClientURL}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
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

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	authHandler := auth.NewHandler(s.authSvc)
	txnHandler := transaction.NewHandler(s.txnSvc)

	// PUBLIC ROUTES (signup, login, verification, password reset)
	authHandler.RegisterRoutes(v1)

	// PROTECTED ROUTES (require a session token)
	protected := v1.Group("")
	protected.Use(auth.RequireAuth(s.tokens))
	authHandler.RegisterProtectedRoutes(protected)
	txnHandler.RegisterProtectedRoutes(protected)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
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
		"name":        "SentinelBank",
		"description": "Adaptive-authentication web banking",
		"version":     "0.1.0",
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

	// Distributed tracing
	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

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

	// Cancel the context for all background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close ledger RPC connection
	if closer, ok := s.mirror.(interface{ Close() }); ok {
		closer.Close()
		s.logger.Info("ledger mirror closed")
	}

	// Flush pending trace spans
	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
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
	return idgen.New()
}
