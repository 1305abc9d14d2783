package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// timingWriter injeta o header X-Response-Time imediatamente antes
// do primeiro write, quando os headers ainda podem ser alterados
type timingWriter struct {
	gin.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *timingWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(data []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(data)
}

func (w *timingWriter) WriteString(s string) (int, error) {
	w.stamp()
	return w.ResponseWriter.WriteString(s)
}

func (w *timingWriter) stamp() {
	if w.stamped {
		return
	}
	w.stamped = true
	elapsed := time.Since(w.start)
	w.Header().Set("X-Response-Time", fmt.Sprintf("%.3fms", elapsed.Seconds()*1000))
}

// NewObservabilityMiddleware anexa X-Request-ID e X-Response-Time às respostas
func NewObservabilityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Propaga ou gera o Request ID
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)

		c.Writer = &timingWriter{ResponseWriter: c.Writer, start: time.Now()}

		c.Next()
	}
}

// GetRequestID retorna o Request ID atribuído à requisição
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if requestID, ok := id.(string); ok {
			return requestID
		}
	}
	return c.GetHeader("X-Request-ID")
}
