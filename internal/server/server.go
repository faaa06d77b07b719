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
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/admission"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/annotate"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/archive"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/config"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/feeds/ethwatch"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/feeds/xrpl"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/health"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/idgen"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/impact"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/logging"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/markov"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/metrics"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/notify"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/pattern"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/pipeline"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/ratelimit"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/realtime"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/registry"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/security"
	sig "github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/store"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/stream"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/traces"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg       *config.Config
	store     store.Store
	db        *sql.DB // nil when no archive database is configured
	partners  *registry.Registry
	pipe      *pipeline.Pipeline
	publisher *stream.Publisher
	scorer    *markov.Scorer
	archive   *archive.Store
	notifier  *notify.Notifier

	realtimeHub *realtime.Hub
	xrplFeed    *xrpl.Listener
	ethWatcher  *ethwatch.Watcher

	checks      *health.Registry
	rateLimiter *ratelimit.Limiter
	stopTraces  func(context.Context) error

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

// WithStore sets a custom shared store (for testing)
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set store/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Shared store (Redis if configured, otherwise in-memory)
	if s.store == nil {
		if cfg.RedisAddr != "" {
			rs, err := store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to redis: %w", err)
			}
			s.store = rs
			s.logger.Info("using redis store", "addr", cfg.RedisAddr)
		} else {
			s.store = store.NewMemory()
			s.logger.Info("using in-memory store (windows and streams will not persist)")
		}
	}
	s.checks.Register("store", func(ctx context.Context) health.Status {
		st := health.Status{Name: "store", Healthy: true}
		if err := s.store.Ping(ctx); err != nil {
			st.Healthy = false
			st.Detail = err.Error()
		}
		return st
	})

	// Archive database (optional)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.archive = archive.NewStore(db, s.logger)
		s.logger.Info("signal archive enabled", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("archive", func(ctx context.Context) health.Status {
			st := health.Status{Name: "archive", Healthy: true}
			if err := db.PingContext(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
	}

	// Partner registry: static configuration unioned with the dynamic
	// set external ingesters keep in the shared store.
	s.partners = registry.New(cfg.PartnerAddresses, cfg.VerifiedDestTags, s.store, s.logger)

	annotator := annotate.New(s.partners, annotate.Config{
		PrepThresholdUSD:   cfg.PrepThresholdUSD,
		LikelyThresholdUSD: cfg.LikelyThresholdUSD,
	}, s.logger)

	patternCfg := pattern.DefaultConfig()
	patternCfg.SettlementHorizon = cfg.SettlementHorizon
	patternCfg.PrepHorizon = cfg.PrepHorizon
	patternCfg.EquityDarkHorizon = cfg.EquityDarkHorizon
	patternCfg.GenericHorizon = cfg.GenericHorizon
	tracker := pattern.New(s.store, patternCfg, s.logger)

	hmmPolicy := markov.DefaultPolicy()
	if cfg.HMMPolicyJSON != "" {
		p, err := markov.PolicyFromJSON(cfg.HMMPolicyJSON)
		if err != nil {
			return nil, fmt.Errorf("invalid HMM policy override: %w", err)
		}
		hmmPolicy = p
		s.logger.Info("HMM policy override loaded")
	}
	s.scorer = markov.NewScorer(hmmPolicy)

	thresholds := markov.Thresholds{
		LargeSettlementUSD: cfg.LargeSettlementUSD,
		SpikeGasUsed:       cfg.SpikeGasUsed,
		SpikeCalldataBytes: cfg.SpikeCalldataBytes,
		SpikeEntropy:       cfg.SpikeEntropy,
		SpikeGasPriceGwei:  cfg.SpikeGasPriceGwei,
	}

	impactPolicy := impact.DefaultPolicy()
	impactPolicy.ODLPrimingUSD = cfg.ODLPrimingUSD
	impactPolicy.TrustlineLimitFloor = cfg.TrustlineLimitFloor
	if cfg.ImpactPolicyJSON != "" {
		// The JSON override is complete: it replaces the config thresholds too.
		p, err := impact.PolicyFromJSON(cfg.ImpactPolicyJSON)
		if err != nil {
			return nil, fmt.Errorf("invalid impact policy override: %w", err)
		}
		impactPolicy = p
		s.logger.Info("impact policy override loaded")
	}
	predictor := impact.New(impactPolicy, s.logger)

	s.publisher = stream.New(s.store, s.logger)

	// Outbound notification, gated by dedup + rate admission.
	webhookURL := cfg.AlertWebhookURL
	if webhookURL != "" {
		if err := security.ValidateEndpointURL(webhookURL); err != nil {
			s.logger.Warn("alert webhook rejected, notifications disabled", "error", err)
			webhookURL = ""
		}
	}
	gate := admission.New(s.store, admission.Config{
		DedupTTL:   cfg.DedupTTL,
		RateWindow: cfg.RateWindow,
		RateCap:    cfg.RateCap,
		RateGrace:  cfg.RateGrace,
	}, s.logger)
	s.notifier = notify.New(notify.Config{
		WebhookURL: webhookURL,
		Secret:     cfg.AlertWebhookSecret,
	}, gate, nil, s.logger)
	if webhookURL != "" {
		s.logger.Info("alert notifications enabled")
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	s.pipe = pipeline.New(annotator, tracker, s.scorer, thresholds, predictor,
		s.publisher, s.notifier, pipeline.Options{
			Broadcaster: s.realtimeHub,
			Archiver:    archiverOrNil(s.archive),
		}, s.logger)

	// Upstream feeds (each optional; a feed with no endpoint is not started)
	if cfg.XRPLWebsocketURL != "" {
		feedCfg := xrpl.DefaultConfig()
		feedCfg.WebsocketURL = cfg.XRPLWebsocketURL
		if cfg.XRPUSDRate > 0 {
			feedCfg.XRPUSDRate = cfg.XRPUSDRate
		}
		s.xrplFeed = xrpl.New(feedCfg, &pipelineSubmitter{s.pipe}, s.logger)
		s.logger.Info("XRPL feed configured", "url", cfg.XRPLWebsocketURL)
	}
	if cfg.EthRPCURL != "" && cfg.VerifierContract != "" {
		if !validation.IsValidEthAddress(cfg.VerifierContract) {
			return nil, fmt.Errorf("VERIFIER_CONTRACT is not a valid address: %q", cfg.VerifierContract)
		}
		watchCfg := ethwatch.DefaultConfig()
		watchCfg.RPCURL = cfg.EthRPCURL
		watchCfg.VerifierContract = common.HexToAddress(cfg.VerifierContract)
		watchCfg.PollInterval = cfg.EthPollInterval
		w, err := ethwatch.New(watchCfg, &pipelineSubmitter{s.pipe}, s.logger)
		if err != nil {
			s.logger.Warn("failed to create verifier watcher", "error", err)
		} else {
			s.ethWatcher = w
			s.logger.Info("verifier watcher configured", "contract", cfg.VerifierContract)
		}
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

// archiverOrNil keeps the pipeline's nil check meaningful: a typed nil
// *archive.Store inside the interface would not compare equal to nil.
func archiverOrNil(a *archive.Store) pipeline.Archiver {
	if a == nil {
		return nil
	}
	return a
}

// pipelineSubmitter adapts the pipeline to the feeds' Submitter interface.
type pipelineSubmitter struct {
	p *pipeline.Pipeline
}

func (a *pipelineSubmitter) Submit(ctx context.Context, raw map[string]any) error {
	_, err := a.p.Ingest(ctx, raw)
	return err
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

	// Rate limiting on the ingest API
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
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

	// Service info
	s.router.GET("/", s.infoHandler)

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group
	v1 := s.router.Group("/v1")

	// Ingestion: the single write path for external producers.
	v1.POST("/signals", s.ingestHandler)

	// Reads over the published log
	v1.GET("/signals", s.listSignalsHandler)
	v1.GET("/pairs", s.listPairsHandler)
	v1.POST("/pairs", s.publishPairHandler)

	// Scorer and registry introspection
	v1.GET("/execution", s.executionHandler)
	v1.GET("/partners", s.partnersHandler)

	// Archive reads (enabled only with a database)
	if s.archive != nil {
		v1.GET("/archive", s.archiveHandler)
	}
}

// ingestHandler handles POST /v1/signals
func (s *Server) ingestHandler(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_json",
			"message": "Request body must be a JSON object",
		})
		return
	}

	sig, err := s.pipe.Ingest(c.Request.Context(), raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signal",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"signal": sig})
}

// listSignalsHandler handles GET /v1/signals?window=3600&kinds=payment,orderbook
func (s *Server) listSignalsHandler(c *gin.Context) {
	window := int64(3600)
	if q := c.Query("window"); q != "" {
		n, err := strconv.ParseInt(q, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_window",
				"message": "window must be a positive number of seconds",
			})
			return
		}
		window = n
	}

	var kinds []sig.Kind
	if q := c.Query("kinds"); q != "" {
		for _, part := range strings.Split(q, ",") {
			k := sig.Kind(strings.TrimSpace(part))
			if !k.IsValid() {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_kind",
					"message": fmt.Sprintf("unknown kind %q", part),
				})
				return
			}
			kinds = append(kinds, k)
		}
	}

	signals, err := s.publisher.FetchWindow(c.Request.Context(), window, kinds...)
	if err != nil {
		logging.L(c.Request.Context()).Error("signal fetch failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "fetch_failed",
			"message": "Failed to read the signal log",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signals": signals,
		"count":   len(signals),
		"window":  window,
	})
}

// listPairsHandler handles GET /v1/pairs?limit=50
func (s *Server) listPairsHandler(c *gin.Context) {
	limit := int64(50)
	if q := c.Query("limit"); q != "" {
		n, err := strconv.ParseInt(q, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be a positive number",
			})
			return
		}
		limit = n
	}

	pairs, err := s.publisher.FetchRecentPairs(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("pair fetch failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "fetch_failed",
			"message": "Failed to read the pair log",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pairs": pairs,
		"count": len(pairs),
	})
}

// publishPairHandler handles POST /v1/pairs (correlated chain/market events)
func (s *Server) publishPairHandler(c *gin.Context) {
	var pair stream.Pair
	if err := c.ShouldBindJSON(&pair); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_json",
			"message": "Request body must be a pair object",
		})
		return
	}
	if pair.Chain == nil || pair.Market == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_pair",
			"message": "Both chain and market legs are required",
		})
		return
	}
	if pair.ID == "" {
		pair.ID = idgen.WithPrefix("pair_")
	}

	if err := s.publisher.PublishPaired(c.Request.Context(), &pair); err != nil {
		logging.L(c.Request.Context()).Error("pair publish failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "publish_failed",
			"message": "Failed to append to the pair log",
		})
		return
	}

	if s.realtimeHub != nil {
		s.realtimeHub.BroadcastPair(&pair)
	}

	c.JSON(http.StatusCreated, gin.H{"pair": pair})
}

// executionHandler exposes the scorer's current state
func (s *Server) executionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"execution_score": s.scorer.Score(),
		"observations":    s.scorer.HistoryLen(),
	})
}

// partnersHandler exposes registry size (addresses themselves stay private)
func (s *Server) partnersHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"partner_count": s.partners.PartnerCount(),
	})
}

// archiveHandler handles GET /v1/archive?limit=50
func (s *Server) archiveHandler(c *gin.Context) {
	limit := 50
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be between 1 and 1000",
			})
			return
		}
		limit = n
	}

	signals, err := s.archive.Recent(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("archive read failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "fetch_failed",
			"message": "Failed to read the archive",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signals": signals,
		"count":   len(signals),
	})
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
		"name":        "coreflow",
		"description": "Cross-venue signal ingestion and enrichment for XRPL flow analysis",
		"version":     "0.1.0",
		"ingest":      "POST /v1/signals",
		"stream":      "GET /ws",
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

	// Tracing export is wired at Run time so tests never dial an exporter.
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.stopTraces = shutdown
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
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start partner registry refresh loop
	go s.partners.Start(runCtx)

	// Start upstream feeds
	if s.xrplFeed != nil {
		go s.xrplFeed.Run(runCtx)
	}
	if s.ethWatcher != nil {
		if err := s.ethWatcher.Start(runCtx); err != nil {
			s.logger.Error("failed to start verifier watcher", "error", err)
		}
	}

	// Collect DB pool stats if archiving
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 30*time.Second)
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

	// Cancel the context for all background goroutines (hub, feeds, registry)
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

	// Stop the verifier watcher
	if s.ethWatcher != nil {
		s.ethWatcher.Stop()
		s.logger.Info("verifier watcher stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Drain the archive queue before closing the database
	if s.archive != nil {
		s.archive.Close()
		s.logger.Info("archive drained")
	}

	// Flush traces
	if s.stopTraces != nil {
		if err := s.stopTraces(ctx); err != nil {
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
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
