package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"reliability-gate/internal/domain"
	"reliability-gate/internal/logger"
)

// IdempotencyHeader é o header obrigatório em métodos com efeitos colaterais
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyMiddleware aplica a guarda de execução at-most-once.
// Métodos mutantes sem o header são rejeitados antes de qualquer
// lógica de negócio; replays devolvem o resultado original envelopado.
type IdempotencyMiddleware struct {
	manager domain.IdempotencyManager
	logger  domain.Logger
}

// bodyCaptureWriter intercepta o corpo da resposta para o finalize
type bodyCaptureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyCaptureWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// NewIdempotencyMiddleware cria o middleware de idempotência
func NewIdempotencyMiddleware(
	manager domain.IdempotencyManager,
	log domain.Logger,
) gin.HandlerFunc {
	middleware := &IdempotencyMiddleware{
		manager: manager,
		logger:  log,
	}

	return middleware.Handle
}

// Handle é o handler principal do middleware
func (m *IdempotencyMiddleware) Handle(c *gin.Context) {
	// Métodos sem efeitos colaterais passam direto
	if !isMutatingMethod(c.Request.Method) {
		c.Next()
		return
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "idempotency_key_missing",
			"message": "state-mutating requests must carry the Idempotency-Key header",
		})
		c.Abort()
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	method := c.Request.Method
	path := c.Request.URL.Path

	log := m.logger.WithContext(ctx)

	reservation, err := m.manager.CheckAndReserve(ctx, key, method, path)
	if err != nil {
		log.Error("Idempotency reservation failed", err, map[string]interface{}{
			"idempotency_key": logger.MaskKey(key),
			"method":          method,
			"path":            path,
		})

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Unable to process idempotency check",
		})
		c.Abort()
		return
	}

	switch reservation.Outcome {
	case domain.OutcomeReplay:
		m.replay(c, reservation.Record, log)
		return

	case domain.OutcomeProcessing:
		log.Info("Concurrent request still processing", map[string]interface{}{
			"idempotency_key": logger.MaskKey(key),
			"method":          method,
			"path":            path,
		})

		c.Header("Retry-After", "5")
		c.JSON(http.StatusConflict, gin.H{
			"error":   "request_in_progress",
			"message": "a request with this idempotency key is still being processed",
		})
		c.Abort()
		return
	}

	// Chave inédita: executa o handler capturando a resposta
	writer := &bodyCaptureWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
	c.Writer = writer

	c.Next()

	// Apenas resultados 2xx são finalizados; tentativas falhas deixam
	// só o placeholder transiente, que expira e permite retry
	status := writer.Status()
	if status < 200 || status > 299 {
		return
	}

	if err := m.manager.Finalize(ctx, key, method, path, status, writer.body.Bytes()); err != nil {
		// A resposta já foi enviada; só resta logar
		log.Error("Failed to finalize idempotency record", err, map[string]interface{}{
			"idempotency_key": logger.MaskKey(key),
			"method":          method,
			"path":            path,
			"status":          status,
		})
	}
}

// replay devolve o resultado original com o envelope de replay
func (m *IdempotencyMiddleware) replay(c *gin.Context, record *domain.IdempotencyRecord, log domain.Logger) {
	log.Info("Replaying idempotent request", map[string]interface{}{
		"idempotency_key": logger.MaskKey(record.Key),
		"method":          record.Method,
		"path":            record.Path,
		"original_status": record.ResponseStatus,
	})

	response := gin.H{
		"cached":    true,
		"cached_at": record.CreatedAt.UTC().Format(time.RFC3339),
	}

	// Preserva o corpo original como JSON quando possível
	if json.Valid(record.ResponseBody) {
		response["response"] = json.RawMessage(record.ResponseBody)
	} else {
		response["response"] = string(record.ResponseBody)
	}

	c.JSON(record.ResponseStatus, response)
	c.Abort()
}

// isMutatingMethod indica se o método HTTP tem efeitos colaterais
func isMutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
