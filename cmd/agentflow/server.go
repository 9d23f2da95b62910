// Package main provides the AgentFlow server implementation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/fenwicklabs/atomicresearch/api/handlers"
	"github.com/fenwicklabs/atomicresearch/config"
	"github.com/fenwicklabs/atomicresearch/internal/cache"
	"github.com/fenwicklabs/atomicresearch/internal/database"
	"github.com/fenwicklabs/atomicresearch/internal/metrics"
	"github.com/fenwicklabs/atomicresearch/internal/server"
	"github.com/fenwicklabs/atomicresearch/internal/telemetry"
	"github.com/fenwicklabs/atomicresearch/llm/factory"
	"github.com/fenwicklabs/atomicresearch/research/orchestrator"
	"github.com/fenwicklabs/atomicresearch/research/search"
	"github.com/fenwicklabs/atomicresearch/research/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🖥️ Server 结构（重构版）
// =============================================================================

// Server 是 AgentFlow 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	otel       *telemetry.Providers
	db         *gorm.DB

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler   *handlers.HealthHandler
	researchHandler *handlers.ResearchHandler
	chatHandler     *handlers.ChatHandler

	// 搜索结果缓存（可选，Redis 不可达时保持为 nil，registry 退化为无缓存）
	searchCache *cache.Manager

	// 研究编排器（持有搜索/LLM 资源，需在关闭时释放）
	researchOrchestrator *orchestrator.Orchestrator

	// 指标收集器
	metricsCollector *metrics.Collector

	// 热更新管理器
	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otel *telemetry.Providers, db *gorm.DB) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		otel:       otel,
		db:         db,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("agentflow", s.logger)

	// 2. 初始化 Handlers
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 3. 初始化热更新管理器
	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() error {
	// 健康检查 handler
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	if err := s.initResearchHandler(); err != nil {
		return fmt.Errorf("failed to init research handler: %w", err)
	}

	s.logger.Info("Handlers initialized")
	return nil
}

// initResearchHandler 构建研究编排器依赖的 LLM Provider、搜索注册表及三个研究
// Agent，装配出 Orchestrator 并包装为 HTTP handler。
func (s *Server) initResearchHandler() error {
	rcfg := s.cfg.Research

	provider, err := factory.NewProviderFromConfig(s.cfg.LLM.DefaultProvider, factory.ProviderConfig{
		APIKey:  s.cfg.LLM.APIKey,
		BaseURL: s.cfg.LLM.BaseURL,
		Model:   rcfg.Model,
		Timeout: s.cfg.LLM.Timeout,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create research LLM provider: %w", err)
	}

	httpClient := search.NewSharedHTTPClient(search.DefaultSharedHTTPConfig(), s.logger)
	registry := search.NewRegistry(
		search.Strategy(rcfg.Strategy),
		search.NewFallbackProvider(s.logger),
		s.logger,
		search.NewGroundingProvider(context.Background(), rcfg.Model, s.logger),
		search.NewCustomWebProvider(httpClient, s.logger),
		search.NewKeylessProvider(httpClient, s.logger),
		search.NewSecondaryProvider(httpClient, s.logger),
	)

	if s.cfg.Redis.Addr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = s.cfg.Redis.Addr
		cacheCfg.Password = s.cfg.Redis.Password
		cacheCfg.DB = s.cfg.Redis.DB
		if s.cfg.Redis.PoolSize > 0 {
			cacheCfg.PoolSize = s.cfg.Redis.PoolSize
		}
		if s.cfg.Redis.MinIdleConns > 0 {
			cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
		}
		mgr, err := cache.NewManager(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn("search cache unavailable, continuing without it", zap.Error(err))
		} else {
			s.searchCache = mgr
			registry.SetCache(mgr, rcfg.SearchCacheTTL)
		}
	}

	s.chatHandler = handlers.NewChatHandler(provider, s.logger)

	queryAgent := orchestrator.NewQueryGenerationAgent(provider, rcfg.Model, s.logger)
	reflector := orchestrator.NewReflectionAgent(provider, rcfg.Model, s.logger)
	finalizer := orchestrator.NewFinalizationAgent(provider, rcfg.Model, s.logger)

	orchCfg := orchestrator.Config{
		DefaultQueryCount:  rcfg.DefaultQueryCount,
		DefaultMaxLoops:    rcfg.DefaultMaxLoops,
		MaxResultsPerQuery: rcfg.MaxResultsPerQuery,
		PerQueryTimeout:    rcfg.PerQueryTimeout,
		BatchTimeout:       rcfg.BatchTimeout,
		RequestTimeout:     rcfg.RequestTimeout,
		QualityThreshold:   rcfg.QualityThreshold,
		PoolWorkers:        rcfg.PoolWorkers,
		PoolQueueSize:      rcfg.PoolQueueSize,
	}

	s.researchOrchestrator = orchestrator.New(registry, queryAgent, reflector, finalizer, orchCfg, s.logger)
	s.researchHandler = handlers.NewResearchHandler(s.researchOrchestrator, s.logger)

	if s.db != nil {
		pool, err := database.NewPoolManager(s.db, database.DefaultPoolConfig(), s.logger)
		if err != nil {
			s.logger.Warn("research history store unavailable, continuing without it", zap.Error(err))
		} else {
			researchStore, err := store.New(pool, s.logger)
			if err != nil {
				s.logger.Warn("failed to initialize research store", zap.Error(err))
			} else {
				s.researchHandler = s.researchHandler.WithStore(researchStore)
			}
		}
	}
	return nil
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	// 注册配置变更回调
	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	// 注册配置重载回调
	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	// 启动热更新管理器
	ctx := context.Background()
	if err := s.hotReloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	// 创建配置 API 处理器
	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)

	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器（使用新的 handlers）
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点（使用新的 HealthHandler）
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	if s.chatHandler != nil {
		mux.HandleFunc("/v1/chat/completions", s.chatHandler.HandleCompletion)
		mux.HandleFunc("/v1/chat/completions/stream", s.chatHandler.HandleStream)
	}
	if s.researchHandler != nil {
		mux.HandleFunc("/v1/research", s.researchHandler.HandleResearch)
		mux.HandleFunc("/v1/research/history", s.researchHandler.HandleHistory)
	}

	// ========================================
	// 配置管理 API
	// ========================================
	if s.configAPIHandler != nil {
		s.configAPIHandler.RegisterRoutes(mux)
		s.logger.Info("Configuration API registered")
	}

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	handler := Chain(mux,
		Recovery(s.logger),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger),
	)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     120 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                        // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止热更新管理器
	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 释放研究编排器持有的 worker pool
	if s.researchOrchestrator != nil {
		s.researchOrchestrator.Close()
	}

	// 4b. 关闭搜索结果缓存的 Redis 连接
	if s.searchCache != nil {
		if err := s.searchCache.Close(); err != nil {
			s.logger.Error("search cache shutdown error", zap.Error(err))
		}
	}

	// 5. 关闭 OpenTelemetry providers
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	// 6. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
