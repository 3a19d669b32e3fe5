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

	"github.com/colinmxs/spendgate/internal/auth"
	"github.com/colinmxs/spendgate/internal/circuitbreaker"
	"github.com/colinmxs/spendgate/internal/config"
	"github.com/colinmxs/spendgate/internal/events"
	"github.com/colinmxs/spendgate/internal/health"
	"github.com/colinmxs/spendgate/internal/identity"
	"github.com/colinmxs/spendgate/internal/logging"
	"github.com/colinmxs/spendgate/internal/metrics"
	"github.com/colinmxs/spendgate/internal/quota"
	"github.com/colinmxs/spendgate/internal/ratelimit"
	"github.com/colinmxs/spendgate/internal/realtime"
	"github.com/colinmxs/spendgate/internal/security"
	"github.com/colinmxs/spendgate/internal/traces"
	"github.com/colinmxs/spendgate/internal/usage"
	"github.com/colinmxs/spendgate/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	quotaStore   quota.Store
	eventStore   events.Store
	usageStore   usage.Store
	resolver     *quota.Resolver
	checker      *quota.Checker
	recorder     *events.Recorder
	verifier     *auth.Verifier
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	healthReg    *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	traceStop    func(context.Context) error
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

// WithUsageStore sets a custom usage store (for testing)
func WithUsageStore(store usage.Store) Option {
	return func(s *Server) {
		s.usageStore = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set stores/logger)
	for _, opt := range opts {
		opt(s)
	}

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
		s.quotaStore = quota.NewPostgresStore(db)
		s.eventStore = events.NewPostgresStore(db)
		if s.usageStore == nil {
			s.usageStore = usage.NewPostgresStore(db)
		}
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.quotaStore = quota.NewMemoryStore()
		s.eventStore = events.NewMemoryStore()
		if s.usageStore == nil {
			s.usageStore = usage.NewMemoryStore()
		}
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Usage reads go through a circuit breaker so a failing source degrades
	// to fast fail-open decisions instead of stalled checks.
	breaker := circuitbreaker.New(cfg.UsageBreakerThreshold, cfg.UsageBreakerOpenFor)
	s.usageStore = usage.NewGuardedStore(s.usageStore, breaker)

	// Resolver with optional external permissions service
	resolverOpts := []quota.ResolverOption{quota.WithCacheTTL(cfg.CacheTTL)}
	if cfg.PermissionsURL != "" {
		if cfg.IsProduction() {
			if err := security.ValidateEndpointURL(cfg.PermissionsURL); err != nil {
				return nil, fmt.Errorf("invalid PERMISSIONS_URL: %w", err)
			}
		}
		resolverOpts = append(resolverOpts, quota.WithPermissionResolver(identity.NewClient(cfg.PermissionsURL)))
		s.logger.Info("permissions service enabled", "url", cfg.PermissionsURL)
	}
	s.resolver = quota.NewResolver(s.quotaStore, resolverOpts...)

	// Audit recorder with the configured warning dedup window
	s.recorder = events.NewRecorder(s.eventStore, events.WithWarnWindow(cfg.WarningDedup))

	// Realtime hub for streaming decisions
	s.realtimeHub = realtime.NewHub(s.logger)

	// Checker ties it all together
	s.checker = quota.NewChecker(s.resolver, s.usageStore, s.recorder,
		quota.WithDecisionSink(s.realtimeHub),
		quota.WithUnlimitedSentinel(cfg.UnlimitedDollars),
	)

	s.verifier = auth.NewVerifier(cfg.JWTSecret)

	// Subsystem health checks for /health
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) (string, error) {
			return "", s.db.PingContext(ctx)
		})
	} else {
		s.healthReg.Register("database", func(context.Context) (string, error) {
			return "in-memory", nil
		})
	}
	s.healthReg.Register("usage_source", func(context.Context) (string, error) {
		st := breaker.State("usage_source")
		if st == circuitbreaker.StateOpen {
			return "", fmt.Errorf("circuit %s", st)
		}
		return st.String(), nil
	})

	// Set up router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

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
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Principal extraction (does not reject; route groups enforce)
	s.router.Use(auth.Middleware(s.verifier))
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
	// Health and observability
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket feed of live decisions
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	quotaHandler := quota.NewHandler(s.quotaStore, s.resolver, s.checker, auth.GetPrincipal)
	quotaHandler.OnConfigChange(s.realtimeHub.PublishConfigChange)
	eventsHandler := events.NewHandler(s.eventStore)
	usageHandler := usage.NewHandler(s.usageStore, s.onUsageReset)

	// Authenticated enforcement surface
	v1 := s.router.Group("/v1", auth.RequirePrincipal())
	quotaHandler.RegisterCheckRoutes(v1)
	usageHandler.RegisterRoutes(v1)

	// Admin surface
	admin := s.router.Group("/v1/admin", auth.RequireAdmin(s.cfg.AdminSecret))
	quotaHandler.RegisterAdminRoutes(admin)
	eventsHandler.RegisterRoutes(admin)
	usageHandler.RegisterAdminRoutes(admin)
	admin.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
}

// onUsageReset records the audit event and drops the user's cached
// resolution after an administrative usage reset.
func (s *Server) onUsageReset(c *gin.Context, userID, period string) {
	s.recorder.RecordReset(c.Request.Context(), quota.EventInfo{
		UserID: userID,
		Period: period,
	})
	s.resolver.Invalidate(userID)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse is the full health check payload.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no endpoint configured)
	stop, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Error("failed to initialize tracing", "error", err)
	} else {
		s.traceStop = stop
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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Periodically sweep expired resolver cache entries
	go func() {
		ticker := time.NewTicker(s.cfg.CacheTTL)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if n := s.resolver.SweepCache(); n > 0 {
					s.logger.Debug("swept resolver cache", "expired", n)
				}
			}
		}
	}()

	// DB pool stats for Prometheus
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

	// Cancel the context for all background goroutines (hub, sweeper)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
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

	// Flush traces
	if s.traceStop != nil {
		if err := s.traceStop(ctx); err != nil {
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
