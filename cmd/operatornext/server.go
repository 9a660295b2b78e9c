package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/OperatorNext/OperatorNext/agent/browser"
	"github.com/OperatorNext/OperatorNext/api/handlers"
	"github.com/OperatorNext/OperatorNext/config"
	"github.com/OperatorNext/OperatorNext/internal/archive"
	"github.com/OperatorNext/OperatorNext/internal/cache"
	"github.com/OperatorNext/OperatorNext/internal/database"
	"github.com/OperatorNext/OperatorNext/internal/metrics"
	"github.com/OperatorNext/OperatorNext/internal/server"
	"github.com/OperatorNext/OperatorNext/internal/sysmetrics"
	"github.com/OperatorNext/OperatorNext/internal/telemetry"
	"github.com/OperatorNext/OperatorNext/task"
)

// skipAuthPaths 免认证的探活路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 持有任务服务及其全部依赖，负责 API 与 Metrics 两个 HTTP 服务器的生命周期
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	collector *metrics.Collector
	otel      *telemetry.Providers
	redis     *cache.Manager
	pool      *database.PoolManager
	archive   *archive.Store
	service   *task.Service
	health    *handlers.HealthHandler

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 按配置装配依赖。ctx 是所有请求上下文的父上下文，取消后进行中的任务流随之结束。
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector("operatornext", logger),
		health:    handlers.NewHealthHandler(logger),
	}

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = providers

	service, err := s.initTaskService(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.service = service

	handler := s.routes(ctx)
	s.httpManager = server.NewManager(ctx, "api", handler, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		s.metricsManager = server.NewManager(ctx, "metrics", mux, server.Config{
			Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, logger)
	}

	return s, nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initTaskService 装配日志存储、归档、采样器与浏览器 Agent 工厂
func (s *Server) initTaskService(ctx context.Context) (*task.Service, error) {
	cfg := s.cfg
	opts := []task.Option{task.WithObserver(s.collector)}

	if sampler, err := sysmetrics.NewCollector(s.logger); err != nil {
		s.logger.Warn("system metrics unavailable, snapshots will be empty", zap.Error(err))
	} else {
		opts = append(opts, task.WithSampler(sampler))
	}

	if cfg.Task.Journal == "redis" {
		mgr, err := cache.NewManager(cache.Config{
			Addr:                cfg.Redis.Addr,
			Password:            cfg.Redis.Password,
			DB:                  cfg.Redis.DB,
			KeyPrefix:           cfg.Redis.KeyPrefix,
			MaxRetries:          cache.DefaultConfig().MaxRetries,
			PoolSize:            cfg.Redis.PoolSize,
			MinIdleConns:        cfg.Redis.MinIdleConns,
			TLS:                 cfg.Redis.TLS,
			HealthCheckInterval: cache.DefaultConfig().HealthCheckInterval,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("init redis journal: %w", err)
		}
		s.redis = mgr
		s.health.RegisterCheck(handlers.NewPingCheck("redis", mgr.Ping))
		opts = append(opts, task.WithJournal(task.NewRedisJournal(mgr, cfg.Task.JournalTTL, s.logger)))
	}

	if cfg.Task.ArchiveEnabled {
		pool, err := database.Open(cfg.Database, s.logger)
		if err != nil {
			return nil, fmt.Errorf("init task archive: %w", err)
		}
		s.pool = pool
		s.archive = archive.NewStore(pool, s.collector, s.logger)
		if cfg.Database.AutoMigrate {
			if err := s.archive.AutoMigrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate task archive: %w", err)
			}
		}
		s.health.RegisterCheck(handlers.NewPingCheck("database", s.archive.Ping))
		opts = append(opts, task.WithArchiver(s.archive))
	}

	factory := browser.NewFactory(cfg, s.logger, browser.WithRecorder(s.collector))

	return task.NewService(factory, task.ServiceConfig{
		RunTimeout:   cfg.Agent.RunTimeout,
		WriteTimeout: cfg.Task.WSWriteTimeout,
		Diagnostics: task.Diagnostics{
			CDPEndpoint:     cfg.Browser.CDPURL,
			RemoteDebugPort: cfg.Browser.RemoteDebugPort,
			ContainerName:   cfg.Browser.ContainerName,
		},
	}, s.logger, opts...)
}

// =============================================================================
// 🌐 路由与中间件
// =============================================================================

// routes 注册全部 API 路由并包裹中间件链
func (s *Server) routes(ctx context.Context) http.Handler {
	var archiveReader handlers.ArchiveReader
	if s.archive != nil {
		archiveReader = s.archive
	}
	tasks := handlers.NewTaskHandler(s.service, archiveReader, s.logger)
	stream := handlers.NewStreamHandler(s.service, s.cfg.Server.CORSAllowedOrigins, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealth)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /api/tasks", tasks.HandleCreate)
	mux.HandleFunc("GET /api/tasks", tasks.HandleList)
	mux.HandleFunc("GET /api/tasks/archive", tasks.HandleArchive)
	mux.HandleFunc("GET /api/tasks/{task_id}", tasks.HandleGet)
	mux.HandleFunc("GET /api/tasks/{task_id}/stats", tasks.HandleStats)
	mux.HandleFunc("GET /api/tasks/{task_id}/events", tasks.HandleEvents)
	mux.HandleFunc("GET /api/ws/tasks/{task_id}", stream.HandleStream)

	return s.middleware(ctx, mux)
}

// middleware 构建中间件链，顺序由外到内
func (s *Server) middleware(ctx context.Context, h http.Handler) http.Handler {
	cfg := s.cfg.Server
	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		SecurityHeaders(),
		StreamDeadlines(s.logger),
		CORS(cfg.CORSAllowedOrigins),
	}
	if cfg.JWT.Enabled {
		chain = append(chain, JWTAuth(cfg.JWT, skipAuthPaths, s.logger))
	}
	if len(cfg.APIKeys) > 0 {
		chain = append(chain, APIKeyAuth(cfg.APIKeys, skipAuthPaths, cfg.AllowQueryAPIKey, s.logger))
	}
	if cfg.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(ctx, float64(cfg.RateLimitRPS), cfg.RateLimitBurst, s.logger))
	}
	return Chain(h, chain...)
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 启动 API 与 Metrics 服务器并阻塞，直到 ctx 取消或任一服务器异常退出
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("journal", s.cfg.Task.Journal),
		zap.Bool("archive_enabled", s.cfg.Task.ArchiveEnabled),
	)

	return g.Wait()
}

// Close 释放遥测、Redis 与数据库资源，可重复调用
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.otel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown cleanup failed", zap.Error(err))
		return
	}
	s.logger.Info("Graceful shutdown completed")
}
