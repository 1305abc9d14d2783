package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"reliability-gate/internal/breaker"
	"reliability-gate/internal/config"
	"reliability-gate/internal/handler"
	"reliability-gate/internal/idempotency"
	"reliability-gate/internal/logger"
	"reliability-gate/internal/middleware"
	"reliability-gate/internal/ratelimit"
	"reliability-gate/internal/storage"
)

func main() {
	// Carregar configurações
	configLoader := config.NewConfigLoader()
	gateConfig, err := configLoader.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Obter configurações do servidor
	serverConfig := configLoader.GetConfig()

	// Inicializar logger
	appLogger := logger.NewLogger(serverConfig.LogLevel, serverConfig.LogFormat)
	appLogger.Info("Starting Reliability Gate API", map[string]interface{}{
		"version":   "1.0.0",
		"log_level": serverConfig.LogLevel,
		"port":      serverConfig.ServerPort,
	})

	// Inicializar stores via factory
	factory := storage.NewStoreFactory()

	cacheConfig := storage.BuildCacheStoreConfigFromEnv(
		serverConfig.CacheStore,
		serverConfig.RedisHost,
		serverConfig.RedisPort,
		serverConfig.RedisPassword,
		serverConfig.RedisDB,
	)

	cacheStore, err := factory.CreateCacheStore(cacheConfig, appLogger)
	if err != nil {
		appLogger.Error("Failed to create cache store", err, nil)
		os.Exit(1)
	}

	durableStore, err := factory.CreateIdempotencyStore(&storage.PersistentConfig{
		Dialect: serverConfig.DBDialect,
		DSN:     serverConfig.DBDSN,
	}, appLogger)
	if err != nil {
		appLogger.Error("Failed to create idempotency store", err, nil)
		os.Exit(1)
	}

	// Inicializar os três serviços do plano de confiabilidade
	limiter := ratelimit.NewSlidingWindowLimiter(cacheStore, gateConfig, appLogger)

	breakerRegistry := breaker.NewRegistry(gateConfig.Breakers, appLogger)

	idempotencyManager := idempotency.NewManager(
		cacheStore,
		durableStore,
		time.Duration(gateConfig.IdempotencyTTLSeconds)*time.Second,
		time.Duration(gateConfig.PlaceholderTTLSeconds)*time.Second,
		appLogger,
	)

	// Loop de limpeza periódica do tier durável
	cleanupStop := make(chan struct{})
	idempotencyManager.StartCleanupLoop(
		time.Duration(gateConfig.CleanupIntervalSeconds)*time.Second,
		cleanupStop,
	)

	// Inicializar handlers
	handlers := handler.NewHandlers(
		limiter,
		breakerRegistry,
		idempotencyManager,
		cacheStore,
		durableStore,
		appLogger,
	)

	// Configurar Gin
	if serverConfig.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Criar router
	router := gin.New()

	// Middlewares globais
	router.Use(gin.Recovery())

	// Middleware de logging customizado
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))

	// Request ID e timing headers
	router.Use(middleware.NewObservabilityMiddleware())

	// Configurar rotas
	handlers.SetupRoutes(router)

	// Configurar servidor HTTP
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", serverConfig.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Iniciar servidor em goroutine
	go func() {
		appLogger.Info("Starting HTTP server", map[string]interface{}{
			"port": serverConfig.ServerPort,
			"addr": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", err, nil)
			os.Exit(1)
		}
	}()

	// Aguardar sinais de interrupção
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	appLogger.Info("🚀 Reliability Gate API is running!", map[string]interface{}{
		"port": serverConfig.ServerPort,
		"endpoints": []string{
			"GET  /health",
			"GET  /metrics",
			"POST /v1/devices/:id/commands  (guarded)",
			"POST /v1/reboots               (guarded)",
			"GET  /admin/ratelimit/status",
			"POST /admin/ratelimit/reset",
			"GET  /admin/breakers",
			"POST /admin/breakers/:name/reset",
			"POST /admin/idempotency/cleanup",
		},
		"defaults": map[string]interface{}{
			"default_class_limit":  gateConfig.DefaultClass.Limit,
			"default_class_window": gateConfig.DefaultClass.WindowSeconds,
			"idempotency_ttl":      gateConfig.IdempotencyTTLSeconds,
			"placeholder_ttl":      gateConfig.PlaceholderTTLSeconds,
		},
		"operation_classes": len(gateConfig.Classes),
		"circuit_breakers":  len(gateConfig.Breakers),
	})

	// Bloquear até receber sinal
	<-quit
	appLogger.Info("Shutting down server...", nil)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", err, nil)
		os.Exit(1)
	}

	// Encerra o loop de limpeza e fecha os stores
	close(cleanupStop)

	if err := cacheStore.Close(); err != nil {
		appLogger.Error("Failed to close cache store", err, nil)
	}
	if err := durableStore.Close(); err != nil {
		appLogger.Error("Failed to close idempotency store", err, nil)
	}

	appLogger.Info("Server stopped gracefully", nil)
}
