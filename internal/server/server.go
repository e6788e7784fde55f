package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/studyowl/sessionsync/internal/adapters/cache"
	"github.com/studyowl/sessionsync/internal/adapters/identity"
	"github.com/studyowl/sessionsync/internal/adapters/remote"
	apihttp "github.com/studyowl/sessionsync/internal/api/http"
	"github.com/studyowl/sessionsync/internal/api/middleware"
	"github.com/studyowl/sessionsync/internal/api/ws"
	"github.com/studyowl/sessionsync/internal/config"
	"github.com/studyowl/sessionsync/internal/logging"
	"github.com/studyowl/sessionsync/internal/monitoring"
	"github.com/studyowl/sessionsync/internal/navigation"
	"github.com/studyowl/sessionsync/internal/session"
)

// Server wires the sync engine, its adapters and the HTTP surface.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	engine  *session.Engine
	metrics *monitoring.Metrics
	http    *http.Server

	cancelUptime context.CancelFunc
}

// New assembles the full daemon from configuration.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewDefault()
	}
	log := logger.Named("server")

	registry := prometheus.NewRegistry()
	metrics := monitoring.New(registry)

	fileCache, err := cache.New(cfg.Cache.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init cache: %w", err)
	}
	fileCache.WithMetrics(metrics)

	var remoteStore session.RemoteStore
	if cfg.Remote.Enabled && cfg.Remote.BaseURL != "" {
		remoteStore = remote.New(remote.Config{
			BaseURL:  cfg.Remote.BaseURL,
			APIKey:   cfg.Remote.APIKey,
			RetryMax: cfg.Remote.RetryMax,
		}, logger)
		log.Info("remote sync enabled", zap.String("base_url", cfg.Remote.BaseURL))
	} else {
		remoteStore = remote.Disabled{}
		log.Warn("remote sync disabled, running cache-only")
	}

	source := identity.New([]byte(cfg.Identity.JWTSecret), logger)
	mirror := navigation.NewMirror()

	engine := session.NewEngine(fileCache, remoteStore, mirror, source, logger, metrics, session.Options{
		CreateDebounce: cfg.Engine.CreateDebounce,
		RemoteTimeout:  cfg.Engine.RemoteTimeout,
		FlushTimeout:   cfg.Engine.FlushTimeout,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}
	router.Use(monitoring.Middleware(metrics))

	handlers := apihttp.NewHandlers(engine, source, mirror)
	hub := ws.NewHub(engine, mirror, logger, metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	router.POST("/v1/auth/signin", handlers.SignIn)
	router.POST("/v1/auth/signout", handlers.SignOut)

	router.GET("/v1/sessions", handlers.ListSessions)
	router.POST("/v1/sessions", handlers.CreateSession)
	router.DELETE("/v1/sessions", handlers.DeleteAllSessions)
	router.POST("/v1/sessions/:id/activate", handlers.ActivateSession)
	router.POST("/v1/sessions/:id/clear", handlers.ClearSession)
	router.PATCH("/v1/sessions/:id", handlers.RenameSession)
	router.DELETE("/v1/sessions/:id", handlers.DeleteSession)

	router.POST("/v1/messages", handlers.AppendMessage)
	router.POST("/v1/navigate", handlers.Navigate)
	router.POST("/v1/flush", handlers.Flush)

	router.GET("/stream", hub.HandleConnection)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	return &Server{
		cfg:     cfg,
		logger:  log,
		engine:  engine,
		metrics: metrics,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Engine exposes the sync engine, mainly for tests.
func (s *Server) Engine() *session.Engine {
	return s.engine
}

// Run starts the engine and serves HTTP until the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.engine.Start(ctx)

	uptimeCtx, cancel := context.WithCancel(ctx)
	s.cancelUptime = cancel
	go s.tickUptime(uptimeCtx)

	s.logger.Info("listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then flushes the engine. The engine
// flush runs after the HTTP drain so no lifecycle operation races it.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelUptime != nil {
		s.cancelUptime()
	}
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := s.engine.Close(ctx); err != nil {
		return fmt.Errorf("engine close: %w", err)
	}
	s.logger.Info("shutdown complete")
	return nil
}

func (s *Server) tickUptime(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.TickUptime()
		}
	}
}
