// Package api exposes the marketplace over HTTP. Callers authenticate with a
// JWT whose peer_id claim is the identity every economic operation is
// attributed to.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cosmossdk.io/math"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/abyssgrid/gridmarket/config"
	"github.com/abyssgrid/gridmarket/internal/registry"
	"github.com/abyssgrid/gridmarket/internal/rewards"
	"github.com/abyssgrid/gridmarket/internal/scheduler"
	"github.com/abyssgrid/gridmarket/internal/store"
	"github.com/abyssgrid/gridmarket/internal/types"
	"github.com/abyssgrid/gridmarket/pkg/logger"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridmarket_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridmarket_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// Server represents the marketplace API server
type Server struct {
	config    config.APIConfig
	registry  *registry.Registry
	rewards   *rewards.Aggregator
	scheduler *scheduler.Scheduler
	cache     *store.RedisCache
	auth      *AuthManager
	ws        http.Handler
	log       *logger.Logger
	router    *gin.Engine
	server    *http.Server
	limiter   *rate.Limiter
}

// NewServer creates a new API server. cache and ws may be nil.
func NewServer(
	cfg config.APIConfig,
	reg *registry.Registry,
	rew *rewards.Aggregator,
	sched *scheduler.Scheduler,
	cache *store.RedisCache,
	auth *AuthManager,
	ws http.Handler,
	log *logger.Logger,
) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:    cfg,
		registry:  reg,
		rewards:   rew,
		scheduler: sched,
		cache:     cache,
		auth:      auth,
		ws:        ws,
		log:       log,
		router:    router,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit*2),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	// CORS middleware
	s.router.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		allowed := false
		for _, allowedOrigin := range s.config.CORSOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Rate limiting middleware
	s.router.Use(func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMITED",
					"message": "Too many requests, please try again later",
				},
			})
			c.Abort()
			return
		}
		c.Next()
	})

	// Logging + metrics middleware
	s.router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		s.log.Info("API request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"ip", c.ClientIP(),
		)

		apiRequestsTotal.WithLabelValues(c.Request.Method, path, fmt.Sprintf("%d", status)).Inc()
		apiRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration.Seconds())
	})

	// Timeout middleware
	s.router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.Timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	authed := s.router.Group("/api", IdentityMiddleware(s.auth))
	{
		market := authed.Group("/compute-market")
		{
			market.POST("/stake", s.handleStake)
			market.POST("/withdraw", s.handleWithdraw)
			market.POST("/slash", s.handleSlash)
			market.GET("/providers", s.handleGetProviders)
			market.GET("/pricing", s.handleGetPricing)
		}

		compute := authed.Group("/compute")
		{
			compute.POST("/dispatch", s.handleDispatch)
		}

		mining := authed.Group("/mining")
		{
			mining.POST("/claim", s.handleClaim)
			mining.GET("/stats", s.handleGetStats)
			mining.GET("/aggregate", s.handleGetAggregate)
		}
	}

	// Peer mesh endpoint, outside the JWT surface; peers authenticate via the
	// transport handshake.
	if s.ws != nil {
		s.router.GET("/ws", gin.WrapH(s.ws))
	}
}

// Start starts the API server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.log.Info("Starting API server", "address", addr)

	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping API server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles basic liveness check
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func parseAmount(raw string) (math.LegacyDec, error) {
	if raw == "" {
		return math.LegacyDec{}, fmt.Errorf("amount is required")
	}
	amount, err := math.LegacyNewDecFromStr(raw)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

// handleStake handles POST /compute-market/stake
func (s *Server) handleStake(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	peerID := callerPeerID(c)
	p, err := s.registry.Stake(c.Request.Context(), peerID, amount)
	if err != nil {
		respondError(c, err)
		return
	}

	s.invalidateProviderCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"peerId":      p.PeerID,
		"stakeAmount": p.StakeAmount,
		"trustScore":  p.TrustScore,
	})
}

// handleWithdraw handles POST /compute-market/withdraw
func (s *Server) handleWithdraw(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	peerID := callerPeerID(c)
	p, err := s.registry.Withdraw(c.Request.Context(), peerID, amount)
	if err != nil {
		respondError(c, err)
		return
	}

	s.invalidateProviderCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"peerId":      p.PeerID,
		"stakeAmount": p.StakeAmount,
		"withdrawn":   amount,
	})
}

type slashRequest struct {
	PeerID string `json:"peerId"`
	Reason string `json:"reason"`
	Amount string `json:"amount,omitempty"`
}

// handleSlash handles POST /compute-market/slash
func (s *Server) handleSlash(c *gin.Context) {
	var req slashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body")
		return
	}
	if req.PeerID == "" {
		respondValidation(c, "peerId is required")
		return
	}
	if req.Reason == "" {
		respondValidation(c, "reason is required")
		return
	}

	var amount *math.LegacyDec
	if req.Amount != "" {
		parsed, err := parseAmount(req.Amount)
		if err != nil {
			respondValidation(c, err.Error())
			return
		}
		amount = &parsed
	}

	result, err := s.registry.Slash(c.Request.Context(), req.PeerID, req.Reason, amount)
	if err != nil {
		respondError(c, err)
		return
	}

	s.invalidateProviderCache(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

// handleGetProviders handles GET /compute-market/providers
func (s *Server) handleGetProviders(c *gin.Context) {
	ctx := c.Request.Context()

	if s.cache != nil {
		var providers []*types.Provider
		if hit, err := s.cache.GetJSON(ctx, "providers", &providers); err == nil && hit {
			c.JSON(http.StatusOK, gin.H{"providers": providers, "cached": true})
			return
		}
	}

	providers, err := s.registry.List(ctx)
	if err != nil {
		s.log.Error("Failed to list providers", "error", err.Error())
		respondError(c, err)
		return
	}

	if s.cache != nil {
		s.cache.SetJSON(ctx, "providers", providers)
	}

	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// handleGetPricing handles GET /compute-market/pricing
func (s *Server) handleGetPricing(c *gin.Context) {
	cycles, err := strconv.ParseUint(c.DefaultQuery("cycles", "0"), 10, 64)
	if err != nil {
		respondValidation(c, "invalid cycles")
		return
	}
	peerID := c.Query("peerId")

	quote, err := s.rewards.Quote(c.Request.Context(), peerID, cycles)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

type dispatchRequest struct {
	Job *types.Job `json:"job"`
}

// handleDispatch handles POST /compute/dispatch
func (s *Server) handleDispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Job == nil {
		respondValidation(c, "invalid request body, expected {job}")
		return
	}
	if req.Job.ProgramRef == "" {
		respondValidation(c, "job programRef is required")
		return
	}
	if req.Job.JobID == "" {
		respondValidation(c, "job jobId is required")
		return
	}

	result, err := s.scheduler.RequestCompute(c.Request.Context(), req.Job)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

type claimRequest struct {
	CycleIDs   []string `json:"cycleIds"`
	ReceiptIDs []string `json:"receiptIds,omitempty"`
}

// handleClaim handles POST /mining/claim
func (s *Server) handleClaim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body")
		return
	}

	peerID := callerPeerID(c)
	claim, err := s.rewards.Claim(c.Request.Context(), peerID, req.CycleIDs, req.ReceiptIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cycleId":      claim.CycleID,
		"cycles":       claim.CyclesClaimed,
		"zkProofCount": claim.ZkProofCount,
		"rewardCgt":    claim.RewardAmount,
		"receiptIds":   claim.ReceiptIDs,
	})
}

// handleGetStats handles GET /mining/stats
func (s *Server) handleGetStats(c *gin.Context) {
	stats, err := s.rewards.Stats(c.Request.Context(), callerPeerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleGetAggregate handles GET /mining/aggregate
func (s *Server) handleGetAggregate(c *gin.Context) {
	summary, err := s.rewards.AggregateForClaim(c.Request.Context(), callerPeerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) invalidateProviderCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "providers"); err != nil {
		s.log.Warn("provider cache invalidation failed", "error", err.Error())
	}
}
