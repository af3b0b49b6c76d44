package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/cricket-hawkeye/server/cache"
	"github.com/san-kum/cricket-hawkeye/server/charts"
	"github.com/san-kum/cricket-hawkeye/server/config"
	"github.com/san-kum/cricket-hawkeye/server/delivery"
	"github.com/san-kum/cricket-hawkeye/server/handlers"
	"github.com/san-kum/cricket-hawkeye/server/middleware"
	"github.com/san-kum/cricket-hawkeye/server/processor"
	"github.com/san-kum/cricket-hawkeye/server/render"
	"github.com/san-kum/cricket-hawkeye/server/session"
	"github.com/san-kum/cricket-hawkeye/server/trajectory"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	sessions    *session.Manager
	analyzer    *processor.Analyzer
	cache       cache.Cache
	rateLimiter *middleware.RateLimiter
	config      *config.Config
}

func main() {
	cfg := config.LoadConfig()

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := NewServer(cfg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))

		var err error
		if cfg.Security.EnableHTTPS {
			err = srv.ListenAndServeTLS(cfg.Security.CertFile, cfg.Security.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	server.Shutdown()

	logger.Info("Server exited")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	snapshots := cache.NewMemoryCache(cfg.Render.CacheSize, cfg.Render.SnapshotTTL, logger.Named("cache"))

	sessions := session.NewManager(session.ManagerConfig{
		FPS:         cfg.Analysis.FPS,
		IdleTTL:     cfg.Session.IdleTTL,
		MaxSessions: cfg.Session.MaxSessions,
	}, logger.Named("session"))
	sessions.OnEvict(func(id string) {
		if _, err := snapshots.DeletePrefix(context.Background(), id+":"); err != nil {
			logger.Warn("Failed to drop snapshots", zap.Error(err), zap.String("session_id", id))
		}
	})

	analyzer := processor.NewAnalyzer(processor.AnalyzerConfig{
		Frames:          cfg.Analysis.Frames,
		Delay:           cfg.Analysis.Delay,
		Workers:         cfg.Analysis.Workers,
		QueueSize:       cfg.Analysis.QueueSize,
		Params:          trajectory.DefaultParams(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, delivery.NewSampler(), logger.Named("analyzer"))

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)

	if cfg.Render.ChartAssets != "" {
		charts.AssetsHost = cfg.Render.ChartAssets
	}

	router := gin.New()

	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders(charts.AssetsHost))
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize, cfg.Security.MaxUploadSize))
	router.Use(middleware.InputValidation())
	router.Use(middleware.TimeoutHandler(cfg.Security.RequestTimeout))

	renderer := render.NewRenderer()
	sessionHandler := handlers.NewSessionHandler(sessions, analyzer, renderer, snapshots, handlers.SnapshotOptions{
		Width:       cfg.Render.Width,
		Height:      cfg.Render.Height,
		Supersample: cfg.Render.Supersample,
		TTL:         cfg.Render.SnapshotTTL,
	}, logger.Named("http"))
	wsHandler := handlers.NewWebSocketHandler(sessions, analyzer, renderer, cfg.Security.AllowedOrigins, logger.Named("ws"))

	setupRoutes(router, sessionHandler, wsHandler, rateLimiter, cfg.Server.StaticDir)

	return &Server{
		router:      router,
		logger:      logger,
		sessions:    sessions,
		analyzer:    analyzer,
		cache:       snapshots,
		rateLimiter: rateLimiter,
		config:      cfg,
	}
}

// Shutdown waits for running analyses, then releases sessions and caches.
func (s *Server) Shutdown() {
	if err := s.analyzer.Shutdown(); err != nil {
		s.logger.Error("Failed to shutdown analyzer", zap.Error(err))
	}

	s.sessions.Shutdown()

	if s.rateLimiter != nil {
		s.rateLimiter.Shutdown()
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Failed to close cache", zap.Error(err))
		}
	}
}

func setupRoutes(router *gin.Engine, sh *handlers.SessionHandler, wsHandler *handlers.WebSocketHandler, rateLimiter *middleware.RateLimiter, staticDir string) {
	router.GET("/health", middleware.HealthCheck())

	router.GET("/ws/sessions/:id", rateLimiter.RateLimit(), wsHandler.HandleWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/health", middleware.HealthCheck())

		limited := api.Group("/")
		limited.Use(rateLimiter.RateLimit())
		{
			limited.GET("/stats", sh.GetStats)

			limited.GET("/sessions", sh.ListSessions)
			limited.POST("/sessions", sh.CreateSession)
			limited.GET("/sessions/:id", sh.GetSession)
			limited.DELETE("/sessions/:id", sh.DeleteSession)

			limited.POST("/sessions/:id/video", sh.UploadVideo)
			limited.DELETE("/sessions/:id/video", sh.ResetVideo)
			limited.POST("/sessions/:id/analyze", sh.Analyze)
			limited.POST("/sessions/:id/playback", sh.UpdatePlayback)

			limited.GET("/sessions/:id/metrics", sh.GetMetrics)
			limited.GET("/sessions/:id/scene", sh.GetScene)
			limited.GET("/sessions/:id/snapshot", sh.GetSnapshot)
			limited.GET("/sessions/:id/charts", sh.GetCharts)
			limited.GET("/sessions/:id/elevation.png", sh.GetElevation)
		}
	}

	if staticDir != "" {
		router.Static("/static", staticDir)
		router.StaticFile("/", filepath.Join(staticDir, "index.html"))
	}
}
