// Package server sets up the HTTP server and wires the SecurityGuard
// components behind it.
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

	"github.com/mbd888/securityguard/internal/audit"
	"github.com/mbd888/securityguard/internal/auth"
	"github.com/mbd888/securityguard/internal/config"
	"github.com/mbd888/securityguard/internal/detector"
	"github.com/mbd888/securityguard/internal/guard"
	"github.com/mbd888/securityguard/internal/health"
	"github.com/mbd888/securityguard/internal/intel"
	"github.com/mbd888/securityguard/internal/logging"
	"github.com/mbd888/securityguard/internal/metrics"
	"github.com/mbd888/securityguard/internal/notify"
	"github.com/mbd888/securityguard/internal/policy"
	"github.com/mbd888/securityguard/internal/ratelimit"
	"github.com/mbd888/securityguard/internal/realtime"
	"github.com/mbd888/securityguard/internal/registry"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/stream"
	"github.com/mbd888/securityguard/internal/sysstate"
	"github.com/mbd888/securityguard/internal/thresholds"
	"github.com/mbd888/securityguard/internal/walletscan"
	"github.com/mbd888/securityguard/internal/webhooks"
	"github.com/mbd888/securityguard/migrations"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	version     string
	guard       *guard.Guard
	state       *sysstate.Machine
	authMgr     *auth.Manager
	realtimeHub *realtime.Hub
	producer    *stream.Producer       // nil without KAFKA_BROKERS
	cache       *thresholds.RedisCache // nil without REDIS_URL
	fanout      *notify.Fanout
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

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

// WithVersion sets the version reported by / and /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithDB uses an already opened database instead of DATABASE_URL.
func WithDB(db *sql.DB) Option {
	return func(s *Server) {
		s.db = db
	}
}

// stores groups the persistence backends chosen at startup.
type stores struct {
	registry   registry.Store
	thresholds thresholds.Store
	state      sysstate.Store
	history    risk.History
	approvals  audit.ApprovalStore
	dapps      audit.DAppStore
	webhooks   webhooks.Store
	keys       auth.Store
}

func memoryStores() stores {
	a := audit.NewMemoryStore()
	return stores{
		registry:   registry.NewMemoryStore(),
		thresholds: thresholds.NewMemoryStore(),
		state:      sysstate.NewMemoryStore(),
		history:    risk.NewMemoryHistory(),
		approvals:  a,
		dapps:      a,
		webhooks:   webhooks.NewMemoryStore(),
		keys:       auth.NewMemoryStore(),
	}
}

func postgresStores(db *sql.DB) stores {
	a := audit.NewPostgresStore(db)
	return stores{
		registry:   registry.NewPostgresStore(db),
		thresholds: thresholds.NewPostgresStore(db),
		state:      sysstate.NewPostgresStore(db),
		history:    risk.NewPostgresHistory(db),
		approvals:  a,
		dapps:      a,
		webhooks:   webhooks.NewPostgresStore(db),
		keys:       auth.NewPostgresStore(db),
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		version: "dev",
		logger:  logging.New(cfg.LogLevel, cfg.LogFormat),
		health:  health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	st := memoryStores()
	if s.db == nil && cfg.DatabaseURL != "" {
		db, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	}
	if s.db != nil {
		if err := migrations.Up(ctx, s.db); err != nil {
			return nil, err
		}
		st = postgresStores(s.db)
		s.health.Register("database", true, s.checkDatabase)
	} else {
		s.logger.Warn("DATABASE_URL not set, using in-memory storage (state is lost on restart)")
	}

	det, err := buildDetector(cfg)
	if err != nil {
		return nil, err
	}
	params := cfg.RiskParams()

	reg := registry.New(st.registry)
	th := thresholds.NewService(st.thresholds, cfg.Thresholds())
	if cfg.RedisURL != "" {
		cache, err := thresholds.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.cache = cache
		th.WithCache(cache)
		s.health.Register("redis", false, s.checkRedis)
		s.logger.Info("threshold cache enabled", "backend", "redis")
	}

	s.state = sysstate.New(st.state, cfg.Owner(), reg)
	snap, err := s.state.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load system state: %w", err)
	}
	metrics.SetPaused(snap.Paused())
	s.health.Register("system_state", true, s.checkState)

	// Notification sinks. Each one is optional except the websocket hub.
	s.realtimeHub = realtime.NewHub(s.logger)
	sinks := []notify.Sink{
		webhooks.NewDispatcher(st.webhooks).WithTimeout(cfg.WebhookTimeout),
		s.realtimeHub,
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := stream.NewProducer(stream.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, s.logger)
		if err != nil {
			return nil, err
		}
		s.producer = producer
		sinks = append(sinks, producer)
		s.health.Register("kafka", false, s.checkKafka)
	}
	s.fanout = notify.New(sinks...)

	engine := risk.NewEngine(det, reg, th, policy.NewEngine(s.state, cfg.AutoPause), st.history).
		WithParams(params).
		WithNotifier(s.fanout)
	auditor := audit.New(st.approvals, st.dapps, det, reg, th, st.history).WithParams(params)

	s.guard, err = guard.New(guard.Deps{
		Engine:     engine,
		Registry:   reg,
		Thresholds: th,
		State:      s.state,
		Intel:      intel.New(st.history, reg, th),
		Auditor:    auditor,
		Wallets:    walletscan.New(auditor, reg, st.history),
		Webhooks:   webhooks.NewService(st.webhooks),
		AutoPause:  cfg.AutoPause,
	})
	if err != nil {
		return nil, err
	}

	s.authMgr = auth.NewManager(st.keys, cfg.AdminSecret)
	if cfg.AdminSecret == "" {
		s.logger.Warn("ADMIN_SECRET not set, owner key bootstrap disabled")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	s.logger.Info("securityguard initialized",
		"owner", cfg.Owner(),
		"auto_pause", cfg.AutoPause,
		"thresholds", cfg.Thresholds(),
		"rules", len(det.Rules()),
		"paused", snap.Paused(),
	)
	return s, nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// buildDetector loads SIGNATURE_RULES_FILE when set. DETECTOR_CEILING
// applies unless the table sets its own ceiling.
func buildDetector(cfg *config.Config) (*detector.Detector, error) {
	if cfg.SignatureRulesFile == "" {
		dc := detector.DefaultConfig()
		dc.Ceiling = cfg.DetectorCeiling
		return detector.New(dc), nil
	}
	table, err := detector.LoadTable(cfg.SignatureRulesFile)
	if err != nil {
		return nil, err
	}
	if table.Ceiling == 0 {
		table.Ceiling = cfg.DetectorCeiling
	}
	return table.Build(cfg.ThresholdCritical)
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
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
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

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
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

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Let in-flight notifications finish before their sinks close
	if err := s.fanout.Wait(ctx); err != nil {
		s.logger.Warn("notifications still in flight at shutdown", "error", err)
	}

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.close()

	s.logger.Info("shutdown complete")
	return shutdownErr
}

// close releases background resources. Safe without Run.
func (s *Server) close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			s.logger.Error("kafka producer close error", "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}
}

// Router returns the gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Guard returns the call surface (for in-process clients and tests).
func (s *Server) Guard() *guard.Guard {
	return s.guard
}

// Auth returns the API key manager.
func (s *Server) Auth() *auth.Manager {
	return s.authMgr
}
