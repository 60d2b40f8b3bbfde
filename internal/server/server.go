package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/handler"
	"github.com/aman-churiwal/admission-gateway/internal/healthcheck"
	"github.com/aman-churiwal/admission-gateway/internal/metrics"
	"github.com/aman-churiwal/admission-gateway/internal/middleware"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

const directoryBreaker = "directory"

type Server struct {
	router   *gin.Engine
	config   *config.Config
	log      *zap.Logger
	redis    *storage.RedisClient
	postgres *storage.Postgres
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	pipeline      *admission.Pipeline
	breaker       *circuitbreaker.CircuitBreaker
	checker       *healthcheck.Checker
	authService   *service.AuthService
	systemHandler *handler.SystemHandler
	adminHandler  *handler.AdminHandler

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

func New(cfg *config.Config, log *zap.Logger, redis *storage.RedisClient, postgres *storage.Postgres, registry *prometheus.Registry) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:   gin.New(),
		config:   cfg,
		log:      log,
		redis:    redis,
		postgres: postgres,
		registry: registry,
		metrics:  metrics.New(registry),
	}

	s.initializeAdmission()
	s.initializeHealthChecks()

	usageService := service.NewUsageService(repository.NewTenantRepository(postgres), ratelimit.NewInspector(redis))
	s.authService = service.NewAuthService(repository.NewUserRepository(postgres), cfg.Auth.JWTSecret, cfg.Auth.JWTExpiryHours)
	s.adminHandler = handler.NewAdminHandler(s.authService, usageService, log)
	s.systemHandler = handler.NewSystemHandler(s.checker, map[string]*circuitbreaker.CircuitBreaker{
		directoryBreaker: s.breaker,
	})

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) initializeAdmission() {
	adm := s.config.Admission

	s.breaker = circuitbreaker.New(circuitbreaker.Config{
		Name:            directoryBreaker,
		MaxFailures:     s.config.Breaker.MaxFailures,
		Timeout:         s.config.Breaker.Timeout,
		HalfOpenSuccess: s.config.Breaker.HalfOpenSuccess,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			s.log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			s.metrics.BreakerStateChanged(name, from, to)
		},
	})

	identityCfg := admission.ResolverConfig{
		CacheTTL:    adm.IdentityCacheTTL,
		CallTimeout: adm.CallTimeout,
		Breaker:     s.breaker,
		Observer:    s.metrics,
	}
	planCfg := identityCfg
	planCfg.CacheTTL = adm.PlanCacheTTL

	limiterCfg := admission.LimiterConfig{CallTimeout: adm.CallTimeout}
	stageLog := s.log.Named("admission")

	s.pipeline = admission.New(
		admission.NewIdentityResolver(s.redis, repository.NewAPIKeyRepository(s.postgres), identityCfg, stageLog),
		admission.NewPlanResolver(s.redis, repository.NewTenantRepository(s.postgres), planCfg, stageLog),
		admission.NewBurstLimiter(ratelimit.NewTokenBucket(s.redis), adm.BurstRefillInterval, adm.BurstBucketTTL, limiterCfg, stageLog),
		admission.NewSustainedLimiter(ratelimit.NewSlidingWindow(s.redis), adm.SustainedWindow, limiterCfg, stageLog),
		admission.NewQuotaEnforcer(ratelimit.NewMonthlyCounter(s.redis), limiterCfg, stageLog),
		admission.WithObserver(s.metrics),
		admission.WithLogger(stageLog),
	)
}

func (s *Server) initializeHealthChecks() {
	s.checker = healthcheck.NewChecker(&healthcheck.Config{
		Interval: s.config.Health.Interval,
		Timeout:  s.config.Health.Timeout,
	}, s.log)

	s.checker.Register("redis", s.redis.Ping)
	s.checker.Register("postgres", s.postgres.Ping)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.log))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.log.Named("http")))
	if s.config.Metrics.Enabled {
		s.router.Use(middleware.Metrics(s.metrics))
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.systemHandler.Health)

	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Path, gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/v1")
	v1.Use(middleware.Admission(s.pipeline, s.config.Admission.CredentialHeader))
	{
		v1.GET("/whoami", handler.Whoami)
	}

	// Without a signing secret there is no way to authenticate operators.
	if s.config.Auth.JWTSecret == "" {
		s.log.Warn("auth.jwt_secret not set, admin API disabled")
		return
	}

	admin := s.router.Group("/admin")
	{
		admin.POST("/login", s.adminHandler.Login)

		protected := admin.Group("")
		protected.Use(middleware.RequireAuth(s.authService))
		protected.GET("/tenants/:id/usage", s.adminHandler.TenantUsage)
		protected.GET("/breakers", s.systemHandler.CircuitBreakerStatus)
		protected.POST("/breakers/:name/reset", s.systemHandler.ResetCircuitBreaker)
	}
}

// Run serves until Shutdown is called. The number of concurrently open
// connections is capped by server.max_connections.
func (s *Server) Run(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.config.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.Server.MaxConnections)
	}

	httpServer := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.httpServer = httpServer
	s.checker.Start()
	s.mu.Unlock()

	s.log.Info("starting admission gateway",
		zap.String("addr", ln.Addr().String()),
		zap.String("environment", s.config.Server.Environment),
		zap.Int("max_connections", s.config.Server.MaxConnections),
	)

	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")

	s.mu.Lock()
	s.closed = true
	httpServer := s.httpServer
	s.mu.Unlock()

	s.checker.Stop()

	if httpServer != nil {
		return httpServer.Shutdown(ctx)
	}

	return nil
}

// EnsureAdmin creates the configured bootstrap admin if it does not exist.
func (s *Server) EnsureAdmin(ctx context.Context) error {
	email, password := s.config.Auth.AdminEmail, s.config.Auth.AdminPassword
	if email == "" || password == "" {
		return nil
	}

	created, err := s.authService.EnsureAdmin(ctx, email, password)
	if err != nil {
		return err
	}
	if created {
		s.log.Info("bootstrap admin created", zap.String("email", email))
	}
	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
