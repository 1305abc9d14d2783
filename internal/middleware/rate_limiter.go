package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"reliability-gate/internal/domain"
)

// AdmissionMiddleware aplica o rate limiter de janela deslizante
// a uma classe de operação. Injetável por rota no servidor web.
type AdmissionMiddleware struct {
	limiter domain.RateLimiter
	class   string
	logger  domain.Logger
}

// NewAdmissionMiddleware cria o middleware de admissão para uma classe de operação
func NewAdmissionMiddleware(
	limiter domain.RateLimiter,
	class string,
	logger domain.Logger,
) gin.HandlerFunc {
	middleware := &AdmissionMiddleware{
		limiter: limiter,
		class:   class,
		logger:  logger,
	}

	return middleware.Handle
}

// Handle é o handler principal do middleware
func (m *AdmissionMiddleware) Handle(c *gin.Context) {
	// Contexto com timeout para as idas ao store
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	subjectID := m.extractSubjectID(c)
	requestID := GetRequestID(c)

	logger := m.logger.WithContext(ctx)

	logger.Debug("Admission middleware initiated", map[string]interface{}{
		"subject_id": subjectID,
		"class":      m.class,
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"request_id": requestID,
	})

	// Reserve combina check e record em uma operação atômica do store
	allowed, usage := m.limiter.Reserve(ctx, subjectID, m.class)

	// Headers informativos de rate limiting sempre presentes
	m.setRateLimitHeaders(c, usage)

	// Store indisponível: a admissão passou por fail-open
	if usage.Err != nil {
		logger.Warn("Admission degraded by store failure", map[string]interface{}{
			"subject_id": subjectID,
			"class":      m.class,
			"request_id": requestID,
			"error":      usage.Err.Error(),
		})
	}

	if !allowed {
		denial := &domain.RateLimitError{
			SubjectID: subjectID,
			Class:     m.class,
			Usage:     usage,
		}

		logger.Info("Request rate limited", map[string]interface{}{
			"subject_id":    subjectID,
			"class":         m.class,
			"current_count": usage.CurrentCount,
			"limit":         usage.Limit,
			"request_id":    requestID,
			"error":         denial.Error(),
		})

		m.respondRateLimited(c, denial)
		return
	}

	logger.Debug("Request admitted", map[string]interface{}{
		"subject_id":    subjectID,
		"class":         m.class,
		"current_count": usage.CurrentCount,
		"limit":         usage.Limit,
		"request_id":    requestID,
	})

	c.Next()
}

// respondRateLimited traduz uma admissão negada tipada na resposta 429 padrão
func (m *AdmissionMiddleware) respondRateLimited(c *gin.Context, err error) {
	var denial *domain.RateLimitError
	if !errors.As(err, &denial) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limit_exceeded"})
		c.Abort()
		return
	}

	usage := denial.Usage
	details := gin.H{
		"limit":          usage.Limit,
		"remaining":      usage.Remaining(),
		"window_seconds": usage.WindowSeconds,
		"class":          usage.Class,
	}
	if usage.ResetAt != nil {
		details["reset_at"] = usage.ResetAt.Unix()
	}

	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":   "rate_limit_exceeded",
		"message": "you have reached the maximum number of requests allowed for this operation class within the current window",
		"details": details,
	})
	c.Abort()
}

// extractSubjectID resolve o subject da admissão.
// Prioridade: header X-Subject-ID > parâmetro de rota id > IP do cliente.
func (m *AdmissionMiddleware) extractSubjectID(c *gin.Context) string {
	if subject := strings.TrimSpace(c.GetHeader("X-Subject-ID")); subject != "" {
		return subject
	}

	if id := strings.TrimSpace(c.Param("id")); id != "" {
		return id
	}

	return ExtractClientIP(c)
}

// setRateLimitHeaders define headers informativos de rate limiting
func (m *AdmissionMiddleware) setRateLimitHeaders(c *gin.Context, usage *domain.RateLimitUsage) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(usage.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(usage.Remaining()))
	c.Header("X-RateLimit-Class", usage.Class)

	if usage.ResetAt != nil {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(usage.ResetAt.Unix(), 10))

		// Retry-After para requisições negadas
		retryAfter := int(time.Until(*usage.ResetAt).Seconds())
		if retryAfter > 0 && usage.Remaining() == 0 {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
		}
	}
}

// ExtractClientIP extrai o IP do cliente considerando proxies e load balancers
func ExtractClientIP(c *gin.Context) string {
	// Prioridade: X-Forwarded-For > X-Real-IP > RemoteAddr

	// X-Forwarded-For pode conter múltiplos IPs separados por vírgula;
	// o primeiro é o IP original do cliente
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			clientIP := strings.TrimSpace(ips[0])
			if clientIP != "" {
				return clientIP
			}
		}
	}

	// X-Real-IP é usado por alguns proxies
	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fallback para RemoteAddr (remove porta se presente)
	if host, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
		return host
	}

	return c.Request.RemoteAddr
}
