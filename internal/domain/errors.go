package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable indica que o cache ou o store durável não pôde ser alcançado.
// RateLimiter e IdempotencyManager tratam esse erro com fail-open; qualquer
// outro erro de store é considerado erro de programação e propaga.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrCircuitOpen indica rejeição fail-fast de um breaker aberto
var ErrCircuitOpen = errors.New("circuit open")

// ErrRateLimitExceeded indica admissão negada pela janela deslizante
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrIdempotencyKeyMissing indica ausência do header Idempotency-Key
// em um método com efeitos colaterais
var ErrIdempotencyKeyMissing = errors.New("idempotency key missing")

// ErrDownstreamUnavailable indica falha de disponibilidade da operação protegida
var ErrDownstreamUnavailable = errors.New("downstream unavailable")

// ErrDownstreamTimeout indica estouro de tempo da operação protegida
var ErrDownstreamTimeout = errors.New("downstream timeout")

// CircuitOpenError carrega o contexto de uma rejeição fail-fast,
// incluindo a dica de retry-after exigida pelos clientes
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q open, retry after %s", e.Name, e.RetryAfter)
}

// Is permite errors.Is(err, ErrCircuitOpen)
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// RateLimitError carrega o contexto de uma admissão negada
type RateLimitError struct {
	SubjectID string
	Class     string
	Usage     *RateLimitUsage
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s:%s (%d/%d)",
		e.SubjectID, e.Class, e.Usage.CurrentCount, e.Usage.Limit)
}

// Is permite errors.Is(err, ErrRateLimitExceeded)
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}
