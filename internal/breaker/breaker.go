package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"reliability-gate/internal/domain"
)

// historyLimit limita o histórico de transições retido para diagnóstico
const historyLimit = 10

// CircuitBreaker implementa domain.Breaker: uma máquina de estados
// CLOSED/OPEN/HALF_OPEN por operação nomeada, protegida por um único mutex.
// A operação protegida executa fora do lock para não bloquear outros callers
// pela duração dela.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	failureTargets   []error

	mutex               sync.Mutex
	state               domain.CircuitState
	consecutiveFailures int
	lastFailureAt       *time.Time
	lastStateChangeAt   time.Time
	openedAt            time.Time

	totalCalls    int64
	successCalls  int64
	failureCalls  int64
	rejectedCalls int64

	history []domain.StateTransition

	logger domain.Logger
	now    func() time.Time
}

// NewCircuitBreaker cria um breaker a partir de uma regra de configuração
func NewCircuitBreaker(rule domain.BreakerRule, logger domain.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             rule.Name,
		failureThreshold: rule.FailureThreshold,
		recoveryTimeout:  time.Duration(rule.RecoveryTimeoutSeconds) * time.Second,
		failureTargets:   resolveFailureKinds(rule.FailureKinds),
		state:            domain.CircuitClosed,
		logger:           logger,
		now:              time.Now,
	}
	cb.lastStateChangeAt = cb.now()
	return cb
}

// SetClock substitui a fonte de tempo (testes com relógio simulado)
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.now = now
}

// Call executa a operação respeitando o estado do breaker
func (cb *CircuitBreaker) Call(ctx context.Context, op domain.Operation) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	// A operação executa fora do lock
	err := op(ctx)

	cb.afterCall(err)
	return err
}

// beforeCall faz o bookkeeping de entrada e decide admissão sob o lock.
// Um breaker aberto cujo recovery timeout expirou transiciona para
// HALF_OPEN de forma lazy, na próxima chamada, e a deixa passar.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.totalCalls++

	if cb.state == domain.CircuitOpen {
		elapsed := cb.now().Sub(cb.openedAt)
		if elapsed < cb.recoveryTimeout {
			cb.rejectedCalls++
			return &domain.CircuitOpenError{
				Name:       cb.name,
				RetryAfter: cb.recoveryTimeout - elapsed,
			}
		}
		cb.transition(domain.CircuitHalfOpen, "recovery timeout elapsed")
	}

	return nil
}

// afterCall atualiza contadores e estado a partir do resultado da operação
func (cb *CircuitBreaker) afterCall(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err == nil {
		cb.successCalls++
		cb.consecutiveFailures = 0
		if cb.state == domain.CircuitHalfOpen {
			cb.transition(domain.CircuitClosed, "probe call succeeded")
		}
		return
	}

	// Apenas os tipos de falha configurados contam para o threshold;
	// os demais propagam sem bookkeeping de falha
	if !cb.isFailure(err) {
		return
	}

	cb.failureCalls++
	cb.consecutiveFailures++
	failedAt := cb.now()
	cb.lastFailureAt = &failedAt

	if cb.state == domain.CircuitHalfOpen {
		cb.transition(domain.CircuitOpen, "probe call failed")
		return
	}

	if cb.consecutiveFailures >= cb.failureThreshold {
		cb.transition(domain.CircuitOpen, "failure threshold reached")
	}
}

// State retorna o estado corrente
func (cb *CircuitBreaker) State() domain.CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Stats retorna um snapshot dos contadores e do histórico de transições
func (cb *CircuitBreaker) Stats() *domain.CircuitStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	history := make([]domain.StateTransition, len(cb.history))
	copy(history, cb.history)

	var lastFailure *time.Time
	if cb.lastFailureAt != nil {
		failureCopy := *cb.lastFailureAt
		lastFailure = &failureCopy
	}

	return &domain.CircuitStats{
		Name:                cb.name,
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		TotalCalls:          cb.totalCalls,
		SuccessCalls:        cb.successCalls,
		FailureCalls:        cb.failureCalls,
		RejectedCalls:       cb.rejectedCalls,
		LastFailureAt:       lastFailure,
		LastStateChangeAt:   cb.lastStateChangeAt,
		RecentTransitions:   history,
	}
}

// Reset retorna o breaker ao estado fechado e zera o contador de falhas
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state != domain.CircuitClosed {
		cb.transition(domain.CircuitClosed, "administrative reset")
	}
	cb.consecutiveFailures = 0
}

// transition muda o estado registrando a mudança no histórico.
// Requer lock. A entrada em CLOSED zera o contador de falhas;
// a entrada em OPEN reinicia o timer de recovery.
func (cb *CircuitBreaker) transition(to domain.CircuitState, reason string) {
	from := cb.state
	cb.state = to
	cb.lastStateChangeAt = cb.now()

	switch to {
	case domain.CircuitClosed:
		cb.consecutiveFailures = 0
	case domain.CircuitOpen:
		cb.openedAt = cb.now()
	}

	cb.history = append(cb.history, domain.StateTransition{
		From:   from,
		To:     to,
		At:     cb.lastStateChangeAt,
		Reason: reason,
	})
	if len(cb.history) > historyLimit {
		cb.history = cb.history[len(cb.history)-historyLimit:]
	}

	if cb.logger != nil {
		cb.logger.Info("Circuit breaker state changed", map[string]interface{}{
			"breaker":    cb.name,
			"from_state": from,
			"to_state":   to,
			"reason":     reason,
		})
	}
}

// isFailure verifica se o erro pertence aos tipos configurados.
// Lista vazia conta qualquer erro como falha.
func (cb *CircuitBreaker) isFailure(err error) bool {
	if len(cb.failureTargets) == 0 {
		return true
	}
	for _, target := range cb.failureTargets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// resolveFailureKinds mapeia nomes de tipos de falha para os erros sentinela
func resolveFailureKinds(kinds []string) []error {
	var targets []error
	for _, kind := range kinds {
		switch kind {
		case "unavailable":
			targets = append(targets, domain.ErrDownstreamUnavailable)
		case "timeout":
			targets = append(targets, domain.ErrDownstreamTimeout, context.DeadlineExceeded)
		case "store":
			targets = append(targets, domain.ErrStoreUnavailable)
		}
	}
	return targets
}
