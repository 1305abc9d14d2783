package handler

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"reliability-gate/internal/breaker"
	"reliability-gate/internal/domain"
	"reliability-gate/internal/logger"
	"reliability-gate/internal/middleware"
)

// DispatchFunc envia um comando a um dispositivo downstream
type DispatchFunc func(ctx context.Context, deviceID, command string) error

// Handlers contém os handlers da API
type Handlers struct {
	limiter   domain.RateLimiter
	breakers  *breaker.Registry
	manager   domain.IdempotencyManager
	cache     domain.CacheStore
	durable   domain.IdempotencyStore
	logger    domain.Logger
	dispatch  DispatchFunc
	startTime time.Time
}

// NewHandlers cria uma nova instância dos handlers
func NewHandlers(
	limiter domain.RateLimiter,
	breakers *breaker.Registry,
	manager domain.IdempotencyManager,
	cache domain.CacheStore,
	durable domain.IdempotencyStore,
	log domain.Logger,
) *Handlers {
	return &Handlers{
		limiter:   limiter,
		breakers:  breakers,
		manager:   manager,
		cache:     cache,
		durable:   durable,
		logger:    log,
		dispatch:  simulatedDispatch,
		startTime: time.Now(),
	}
}

// SetDispatcher substitui a função de despacho downstream (testes)
func (h *Handlers) SetDispatcher(dispatch DispatchFunc) {
	h.dispatch = dispatch
}

// SetupRoutes configura as rotas da API
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Rotas públicas (sem guardas)
	router.GET("/health", h.HealthHandler)
	router.GET("/metrics", h.MetricsHandler)

	// Rotas de negócio protegidas por admissão + idempotência
	v1 := router.Group("/v1")
	v1.Use(middleware.NewIdempotencyMiddleware(h.manager, h.logger))
	{
		commands := v1.Group("/devices")
		commands.Use(middleware.NewAdmissionMiddleware(h.limiter, "command-dispatch", h.logger))
		{
			commands.POST("/:id/commands", h.DispatchCommandHandler)
		}

		reboots := v1.Group("/reboots")
		reboots.Use(middleware.NewAdmissionMiddleware(h.limiter, "reboot", h.logger))
		{
			reboots.POST("", h.RebootHandler)
		}
	}

	// Rotas administrativas (sem guardas)
	admin := router.Group("/admin")
	{
		admin.GET("/ratelimit/status", h.RateLimitStatusHandler)
		admin.POST("/ratelimit/reset", h.RateLimitResetHandler)
		admin.GET("/breakers", h.BreakersHandler)
		admin.GET("/breakers/:name", h.BreakerDetailHandler)
		admin.POST("/breakers/:name/reset", h.BreakerResetHandler)
		admin.POST("/idempotency/cleanup", h.IdempotencyCleanupHandler)
	}
}

// HealthHandler implementa health check dos dois stores
func (h *Handlers) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK

	checks := gin.H{}

	if err := h.cache.Health(ctx); err != nil {
		checks["cache_store"] = "unhealthy: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["cache_store"] = "healthy"
	}

	if err := h.durable.Health(ctx); err != nil {
		checks["durable_store"] = "unhealthy: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["durable_store"] = "healthy"
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"service":   "Reliability Gate API",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0.0",
		"checks":    checks,
	})
}

// DispatchCommandRequest representa o corpo da requisição de despacho
type DispatchCommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// DispatchCommandHandler envia um comando a um dispositivo através do
// breaker device-dispatch; rejeições circuit-open viram 503 fail-fast
func (h *Handlers) DispatchCommandHandler(c *gin.Context) {
	ctx := c.Request.Context()
	log := h.logger.WithContext(ctx)

	deviceID := c.Param("id")

	var req DispatchCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	cb, err := h.breakers.Get("device-dispatch")
	if err != nil {
		log.Error("Breaker lookup failed", err, map[string]interface{}{
			"device_id": deviceID,
		})

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "dispatch protection unavailable",
		})
		return
	}

	callErr := cb.Call(ctx, func(ctx context.Context) error {
		return h.dispatch(ctx, deviceID, req.Command)
	})

	if callErr != nil {
		h.respondDispatchError(c, deviceID, callErr)
		return
	}

	commandID := uuid.New().String()

	log.Info("Command dispatched", map[string]interface{}{
		"device_id":  deviceID,
		"command":    req.Command,
		"command_id": commandID,
	})

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "accepted",
		"command_id": commandID,
		"device_id":  deviceID,
		"command":    req.Command,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// respondDispatchError traduz falhas de despacho em respostas HTTP
func (h *Handlers) respondDispatchError(c *gin.Context, deviceID string, err error) {
	log := h.logger.WithContext(c.Request.Context())

	var openErr *domain.CircuitOpenError
	if errors.As(err, &openErr) {
		log.Warn("Dispatch rejected by open circuit", map[string]interface{}{
			"device_id":   deviceID,
			"breaker":     openErr.Name,
			"retry_after": openErr.RetryAfter.String(),
		})

		retryAfter := int(openErr.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))

		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "circuit_open",
			"message": "downstream dispatch temporarily suspended",
			"details": gin.H{
				"breaker":             openErr.Name,
				"retry_after_seconds": retryAfter,
			},
		})
		return
	}

	log.Error("Downstream dispatch failed", err, map[string]interface{}{
		"device_id": deviceID,
	})

	c.JSON(http.StatusBadGateway, gin.H{
		"error":   "dispatch_failed",
		"message": "downstream device gateway returned an error",
	})
}

// RebootRequest representa o corpo da requisição de reboot
type RebootRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
}

// RebootHandler agenda um reboot; a classe reboot tem limite próprio
func (h *Handlers) RebootHandler(c *gin.Context) {
	ctx := c.Request.Context()
	log := h.logger.WithContext(ctx)

	var req RebootRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	log.Info("Reboot scheduled", map[string]interface{}{
		"device_id": req.DeviceID,
	})

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "scheduled",
		"device_id": req.DeviceID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// MetricsHandler implementa endpoint de métricas do sistema
func (h *Handlers) MetricsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	log := h.logger.WithContext(ctx)

	log.Debug("Metrics endpoint accessed", map[string]interface{}{
		"client_ip": middleware.ExtractClientIP(c),
		"path":      c.Request.URL.Path,
	})

	uptime := time.Since(h.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := gin.H{
		"service":        "Reliability Gate API",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"system": gin.H{
			"go_version":   runtime.Version(),
			"goroutines":   runtime.NumGoroutine(),
			"memory_alloc": formatBytes(m.Alloc),
			"memory_total": formatBytes(m.TotalAlloc),
			"memory_sys":   formatBytes(m.Sys),
			"gc_runs":      m.NumGC,
		},
		"breakers": h.breakers.StatsAll(),
	}

	c.JSON(http.StatusOK, response)
}

// RateLimitStatusHandler retorna o uso corrente de um par (subject, classe)
func (h *Handlers) RateLimitStatusHandler(c *gin.Context) {
	ctx := c.Request.Context()

	subject := strings.TrimSpace(c.Query("subject"))
	class := strings.TrimSpace(c.Query("class"))

	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "subject parameter is required",
		})
		return
	}

	if class == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "class parameter is required",
		})
		return
	}

	usage := h.limiter.Status(ctx, subject, class)
	if usage.Err != nil {
		log := h.logger.WithContext(ctx)
		log.Error("Failed to get rate limit status", usage.Err, map[string]interface{}{
			"subject": logger.MaskKey(subject),
			"class":   class,
		})

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Failed to retrieve rate limit status",
		})
		return
	}

	response := gin.H{
		"subject":        usage.SubjectID,
		"class":          usage.Class,
		"limit":          usage.Limit,
		"current":        usage.CurrentCount,
		"remaining":      usage.Remaining(),
		"window_seconds": usage.WindowSeconds,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if usage.ResetAt != nil {
		response["reset_at"] = usage.ResetAt.Unix()
	}

	c.JSON(http.StatusOK, response)
}

// RateLimitResetRequest representa o corpo da requisição de reset
type RateLimitResetRequest struct {
	Subject string `json:"subject" binding:"required"`
	Class   string `json:"class" binding:"required"`
}

// RateLimitResetHandler limpa a janela de um par (subject, classe)
func (h *Handlers) RateLimitResetHandler(c *gin.Context) {
	ctx := c.Request.Context()
	log := h.logger.WithContext(ctx)

	var req RateLimitResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	req.Subject = strings.TrimSpace(req.Subject)
	req.Class = strings.TrimSpace(strings.ToLower(req.Class))

	log.Info("Admin rate limit reset requested", map[string]interface{}{
		"subject": logger.MaskKey(req.Subject),
		"class":   req.Class,
	})

	if err := h.limiter.Reset(ctx, req.Subject, req.Class); err != nil {
		log.Error("Failed to reset rate limit window", err, map[string]interface{}{
			"subject": logger.MaskKey(req.Subject),
			"class":   req.Class,
		})

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Failed to reset rate limit window",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Rate limit window reset successfully",
		"subject":   logger.MaskKey(req.Subject),
		"class":     req.Class,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// BreakersHandler retorna snapshots de todos os breakers configurados
func (h *Handlers) BreakersHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"breakers":  h.breakers.StatsAll(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// BreakerDetailHandler retorna o snapshot de um breaker nomeado
func (h *Handlers) BreakerDetailHandler(c *gin.Context) {
	name := c.Param("name")

	cb, err := h.breakers.Get(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, cb.Stats())
}

// BreakerResetHandler retorna um breaker nomeado ao estado fechado
func (h *Handlers) BreakerResetHandler(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	cb, err := h.breakers.Get(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
		return
	}

	cb.Reset()

	log := h.logger.WithContext(ctx)
	log.Info("Circuit breaker reset by admin", map[string]interface{}{
		"breaker": name,
	})

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Circuit breaker reset successfully",
		"breaker":   name,
		"state":     cb.State(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// IdempotencyCleanupHandler remove registros duráveis expirados sob demanda
func (h *Handlers) IdempotencyCleanupHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	log := h.logger.WithContext(ctx)

	removed, err := h.manager.CleanupExpired(ctx)
	if err != nil {
		log.Error("Idempotency cleanup failed", err, nil)

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Failed to purge expired idempotency records",
		})
		return
	}

	log.Info("Idempotency cleanup completed", map[string]interface{}{
		"removed": removed,
	})

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"removed":   removed,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// simulatedDispatch é o despacho downstream padrão; o gateway real é
// substituído via SetDispatcher
func simulatedDispatch(ctx context.Context, deviceID, command string) error {
	select {
	case <-ctx.Done():
		return domain.ErrDownstreamTimeout
	case <-time.After(10 * time.Millisecond):
		return nil
	}
}

// formatBytes formata bytes em formato legível
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return strconv.FormatUint(bytes, 10) + " B"
	}

	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return strconv.FormatFloat(float64(bytes)/float64(div), 'f', 1, 64) + " " + "KMGTPE"[exp:exp+1] + "B"
}
