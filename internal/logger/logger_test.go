package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNewLogger testa a criação do logger com diferentes configurações
func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{name: "json com info", level: "info", format: "json"},
		{name: "text com debug", level: "debug", format: "text"},
		{name: "nível inválido cai em info", level: "bogus", format: "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := NewLogger(tt.level, tt.format)
			assert.NotNil(t, log)

			// Nenhum destes deve panicar
			log.Debug("debug message", nil)
			log.Info("info message", map[string]interface{}{"key": "value"})
			log.Warn("warn message", nil)
			log.Error("error message", assert.AnError, nil)
		})
	}
}

// TestLogger_WithContext testa a propagação de campos do contexto
func TestLogger_WithContext(t *testing.T) {
	log := NewLogger("debug", "json")

	ctx := ContextWithRequestInfo(context.Background(), "req-123", "site-7", "idem-key-long-value", "test-agent")

	contextLogger := log.WithContext(ctx)
	assert.NotNil(t, contextLogger)

	// Logger com contexto continua funcional
	contextLogger.Info("message with context", nil)

	// Contexto nulo não quebra
	assert.NotNil(t, log.WithContext(context.Background()))
}

// TestGetRequestID testa a extração do request ID do contexto
func TestGetRequestID(t *testing.T) {
	ctx := ContextWithRequestInfo(context.Background(), "req-123", "site-7", "", "agent")
	assert.Equal(t, "req-123", GetRequestID(ctx))

	assert.Empty(t, GetRequestID(context.Background()))
}

// TestMaskKey testa o mascaramento de chaves sensíveis
func TestMaskKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{name: "chave vazia", key: "", expected: ""},
		{name: "chave curta", key: "abc", expected: "abc***"},
		{name: "chave com 8 caracteres", key: "12345678", expected: "12345678***"},
		{name: "chave longa mantém 8 caracteres", key: "0123456789abcdef", expected: "01234567***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskKey(tt.key))
		})
	}
}
