package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/securityguard/internal/auth"
	"github.com/mbd888/securityguard/internal/health"
	"github.com/mbd888/securityguard/internal/idgen"
	"github.com/mbd888/securityguard/internal/logging"
	"github.com/mbd888/securityguard/internal/metrics"
	"github.com/mbd888/securityguard/internal/ratelimit"
	"github.com/mbd888/securityguard/internal/security"
	"github.com/mbd888/securityguard/internal/stream"
	"github.com/mbd888/securityguard/internal/validation"
)

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": "internal_error", "message": "internal error"},
		})
	}))

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.NewCORSPolicy(s.cfg.CORSOrigins).Middleware())
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.ForRPM(s.cfg.RateLimitRPM))
	s.router.Use(s.rateLimiter.Middleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream ID (load balancer, MCP bridge) when it is sane
		requestID := validation.SanitizeString(c.GetHeader("X-Request-ID"), 64)
		if requestID == "" {
			requestID = idgen.RequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		case path == "/health/live" || path == "/health/ready" || path == "/metrics":
			logger.Debug("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/", s.infoHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Live scan events; clients send a JSON subscription frame to filter
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1", auth.Middleware(s.authMgr))
	s.guard.RegisterRoutes(v1)
	auth.NewHandler(s.authMgr).RegisterRoutes(v1)
	v1.GET("/status", s.statusHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "securityguard",
		"version": s.version,
		"endpoints": gin.H{
			"rpc":     "POST /v1/rpc",
			"methods": "GET /v1/methods",
			"status":  "GET /v1/status",
			"auth":    "GET /v1/auth/message, POST /v1/auth/keys",
			"events":  "GET /ws",
			"health":  "GET /health",
			"metrics": "GET /metrics",
		},
	})
}

// statusHandler is a plain GET alias for get_system_status.
func (s *Server) statusHandler(c *gin.Context) {
	status, err := s.guard.Status(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("status failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{"code": "registry_unavailable", "message": "system status unavailable"},
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

// HealthResponse is the /health body.
type HealthResponse struct {
	health.Report
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	report := s.health.Check(ctx)

	httpStatus := http.StatusOK
	if !report.Healthy() {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Report:    report,
		Version:   s.version,
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
// Health checks
// -----------------------------------------------------------------------------

func (s *Server) checkDatabase(ctx context.Context) health.Status {
	if err := s.db.PingContext(ctx); err != nil {
		return health.Status{Healthy: false, Detail: err.Error()}
	}
	stats := s.db.Stats()
	return health.Status{Healthy: true, Detail: fmt.Sprintf("open=%d in_use=%d", stats.OpenConnections, stats.InUse)}
}

func (s *Server) checkRedis(ctx context.Context) health.Status {
	if err := s.cache.Ping(ctx); err != nil {
		return health.Status{Healthy: false, Detail: err.Error()}
	}
	return health.Status{Healthy: true}
}

func (s *Server) checkKafka(ctx context.Context) health.Status {
	if err := stream.Ping(ctx, s.cfg.KafkaBrokers); err != nil {
		return health.Status{Healthy: false, Detail: err.Error()}
	}
	return health.Status{Healthy: true, Detail: fmt.Sprintf("written=%d", s.producer.Written())}
}

// checkState reports the pause state. A paused system is healthy: the pause
// is the guard doing its job.
func (s *Server) checkState(ctx context.Context) health.Status {
	snap, err := s.state.Snapshot(ctx)
	if err != nil {
		return health.Status{Healthy: false, Detail: err.Error()}
	}
	return health.Status{Healthy: true, Detail: string(snap.State)}
}
