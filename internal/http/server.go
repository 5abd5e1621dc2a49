// Package http exposes the ledger, budget and reconciliation services as a
// JSON API served by gin.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"lifeops/internal/budget"
	"lifeops/internal/cache"
	"lifeops/internal/core"
	"lifeops/internal/ledger"
	"lifeops/internal/log"
	"lifeops/internal/middleware/ratelimit"
	"lifeops/internal/middleware/security"
	"lifeops/internal/middleware/trace"
	"lifeops/internal/reconcile"
)

const (
	fallbackFamily      = "default"
	projectionCacheSize = 256
	cacheCleanupEvery   = time.Minute
)

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the domain services the API routes to
type Services struct {
	Ledger    *ledger.Service
	Budget    *budget.Service
	Reconcile *reconcile.Service
}

// Options tune the server's ambient behavior
type Options struct {
	DefaultFamily      string
	RateLimitPerMinute int
	CORSOrigins        []string
	CacheTTL           time.Duration
	Logger             *log.Logger
}

type Server struct {
	http.Server
	engine *gin.Engine
	store  Pinger
	logger *log.Logger

	ledger    *ledger.Service
	budget    *budget.Service
	reconcile *reconcile.Service

	defaultFamily string

	// period projections keyed by family|period
	balances     *cache.LRUCache[[]core.CategoryBalance]
	summaries    *cache.LRUCache[*core.BudgetSummary]
	generations  *cache.Generations
	cacheManager *cache.Manager

	limiter *ratelimit.Limiter
}

// NewServer wires routes and middleware. Call Shutdown to release the
// background cleanup goroutines.
func NewServer(addr string, store Pinger, svc Services, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default(log.ComponentHTTP)
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	if opts.DefaultFamily == "" {
		opts.DefaultFamily = fallbackFamily
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}

	s := &Server{
		store:         store,
		logger:        logger,
		ledger:        svc.Ledger,
		budget:        svc.Budget,
		reconcile:     svc.Reconcile,
		defaultFamily: opts.DefaultFamily,
		balances:      cache.NewLRUCache[[]core.CategoryBalance](projectionCacheSize, opts.CacheTTL),
		summaries:     cache.NewLRUCache[*core.BudgetSummary](projectionCacheSize, opts.CacheTTL),
		generations:   cache.NewGenerations(),
		cacheManager:  cache.NewManager(logger),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
		}),
	}
	s.cacheManager.Register(s.balances)
	s.cacheManager.Register(s.summaries)
	s.cacheManager.StartCleanup(cacheCleanupEvery)

	s.engine = s.routes(opts)
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes(opts Options) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(security.TrustedProxies); err != nil {
		s.logger.Warn("Invalid trusted proxies", log.FieldError, err)
	}

	r.Use(
		gin.Recovery(),
		trace.Middleware(s.logger),
		security.Headers(security.DefaultHeadersConfig()),
		security.NewDetector(s.logger).Handler(),
	)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  opts.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", headerFamily, trace.HeaderRequestID},
			ExposeHeaders: []string{"Content-Length", trace.HeaderRequestID},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.GET("/healthz", s.handleHealth)
	r.GET("/readyz", s.handleReady)

	api := r.Group("/api")
	api.Use(s.limiter.Handler(func(c *gin.Context) {
		c.JSON(http.StatusTooManyRequests, errorBody{Error: errorDetail{
			Kind:    "rate_limited",
			Message: "rate limit exceeded, retry later",
		}})
	}))
	api.Use(s.resolveFamily, s.invalidateOnWrite)

	s.registerLedgerRoutes(api)
	s.registerBudgetRoutes(api)
	s.registerReconcileRoutes(api)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody{Error: errorDetail{Kind: string(core.KindNotFound), Message: "route not found"}})
	})
	return r
}

// Shutdown stops background work then drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	s.cacheManager.Stop()
	return s.Server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
