package breaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"reliability-gate/internal/domain"
)

// Helper para criar uma regra de teste
func createTestRule(threshold, recoverySeconds int, kinds []string) domain.BreakerRule {
	return domain.BreakerRule{
		Name:                   "test-breaker",
		FailureThreshold:       threshold,
		RecoveryTimeoutSeconds: recoverySeconds,
		FailureKinds:           kinds,
	}
}

// Helper para injetar um relógio simulado mutável
func withSimulatedClock(cb *CircuitBreaker) *time.Time {
	current := time.Now()
	cb.SetClock(func() time.Time { return current })
	return &current
}

func failingOp(err error) domain.Operation {
	return func(ctx context.Context) error { return err }
}

func succeedingOp() domain.Operation {
	return func(ctx context.Context) error { return nil }
}

// TestCircuitBreaker_ClosedAllowsCalls testa que o estado inicial permite chamadas
func TestCircuitBreaker_ClosedAllowsCalls(t *testing.T) {
	cb := NewCircuitBreaker(createTestRule(3, 30, nil), nil)
	ctx := context.Background()

	invoked := false
	err := cb.Call(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, domain.CircuitClosed, cb.State())
}

// TestCircuitBreaker_TripsAfterThreshold testa a abertura ao atingir o threshold
func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(createTestRule(3, 30, []string{"unavailable"}), nil)
	ctx := context.Background()

	// Duas falhas consecutivas ainda não abrem
	for i := 0; i < 2; i++ {
		err := cb.Call(ctx, failingOp(domain.ErrDownstreamUnavailable))
		assert.ErrorIs(t, err, domain.ErrDownstreamUnavailable)
		assert.Equal(t, domain.CircuitClosed, cb.State())
	}

	// Terceira falha atinge o threshold
	err := cb.Call(ctx, failingOp(domain.ErrDownstreamUnavailable))
	assert.ErrorIs(t, err, domain.ErrDownstreamUnavailable)
	assert.Equal(t, domain.CircuitOpen, cb.State())
}

// TestCircuitBreaker_OpenRejectsWithoutInvoking testa rejeição fail-fast
func TestCircuitBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	cb := NewCircuitBreaker(createTestRule(1, 30, nil), nil)
	ctx := context.Background()

	// Abre o circuito com uma única falha
	_ = cb.Call(ctx, failingOp(errors.New("boom")))
	assert.Equal(t, domain.CircuitOpen, cb.State())

	// A próxima chamada é rejeitada sem invocar a operação
	invoked := false
	err := cb.Call(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})

	assert.False(t, invoked)
	assert.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)

	var openErr *domain.CircuitOpenError
	assert.True(t, errors.As(err, &openErr))
	assert.Equal(t, "test-breaker", openErr.Name)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))

	stats := cb.Stats()
	assert.Equal(t, int64(1), stats.RejectedCalls)
}

// TestCircuitBreaker_LazyHalfOpenTransition testa a transição preguiçosa
// para HALF_OPEN depois que o recovery timeout expira
func TestCircuitBreaker_LazyHalfOpenTransition(t *testing.T) {
	cb := NewCircuitBreaker(createTestRule(1, 30, nil), nil)
	clock := withSimulatedClock(cb)
	ctx := context.Background()

	_ = cb.Call(ctx, failingOp(errors.New("boom")))
	assert.Equal(t, domain.CircuitOpen, cb.State())

	// Antes do timeout, ainda rejeita
	*clock = clock.Add(29 * time.Second)
	err := cb.Call(ctx, succeedingOp())
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, domain.CircuitOpen, cb.State())

	// Depois do timeout, o probe passa e o sucesso fecha o circuito
	*clock = clock.Add(2 * time.Second)
	err = cb.Call(ctx, succeedingOp())
	assert.NoError(t, err)
	assert.Equal(t, domain.CircuitClosed, cb.State())
}

// TestCircuitBreaker_HalfOpenProbeFailureReopens testa que um probe
// falho devolve o circuito direto para OPEN
func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(createTestRule(1, 30, nil), nil)
	clock := withSimulatedClock(cb)
	ctx := context.Background()

	_ = cb.Call(ctx, failingOp(errors.New("boom")))
	assert.Equal(t, domain.CircuitOpen, cb.State())

	*clock = clock.Add(31 * time.Second)
	err := cb.Call(ctx, failingOp(errors.New("still down")))
	assert.Error(t, err)
	assert.Equal(t, domain.CircuitOpen, cb.State())

	// O timer de recovery reiniciou; a próxima chamada é rejeitada
	*clock = clock.Add(10 * time.Second)
	err = cb.Call(ctx, succeedingOp())
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
}

// TestCircuitBreaker_SuccessResetsConsecutiveFailures testa que um
// sucesso zera o contador de falhas consecutivas
func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(createTestRule(3, 30, nil), nil)
	ctx := context.Background()

	_ = cb.Call(ctx, failingOp(errors.New("boom")))
	_ = cb.Call(ctx, failingOp(errors.New("boom")))
	assert.Equal(t, 2, cb.Stats().ConsecutiveFailures)

	_ = cb.Call(ctx, succeedingOp())
	assert.Equal(t, 0, cb.Stats().ConsecutiveFailures)

	// Mais duas falhas não abrem porque o contador recomeçou
	_ = cb.Call(ctx, failingOp(errors.New("boom")))
	_ = cb.Call(ctx, failingOp(errors.New("boom")))
	assert.Equal(t, domain.CircuitClosed, cb.State())
}

// TestCircuitBreaker_UnclassifiedErrorsNotCounted testa que erros fora
// dos tipos configurados propagam sem contar como falha
func TestCircuitBreaker_UnclassifiedErrorsNotCounted(t *testing.T) {
	cb := NewCircuitBreaker(createTestRule(2, 30, []string{"unavailable"}), nil)
	ctx := context.Background()

	businessErr := errors.New("validation failed")

	for i := 0; i < 5; i++ {
		err := cb.Call(ctx, failingOp(businessErr))
		assert.ErrorIs(t, err, businessErr)
	}

	stats := cb.Stats()
	assert.Equal(t, domain.CircuitClosed, stats.State)
	assert.Equal(t, 0, stats.ConsecutiveFailures)
	assert.Equal(t, int64(0), stats.FailureCalls)
	assert.Equal(t, int64(5), stats.TotalCalls)
}

// TestCircuitBreaker_TimeoutKindMatchesDeadlineExceeded testa que o tipo
// timeout também classifica context.DeadlineExceeded
func TestCircuitBreaker_TimeoutKindMatchesDeadlineExceeded(t *testing.T) {
	cb := NewCircuitBreaker(createTestRule(1, 30, []string{"timeout"}), nil)
	ctx := context.Background()

	err := cb.Call(ctx, failingOp(context.DeadlineExceeded))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.CircuitOpen, cb.State())
}

// TestCircuitBreaker_EmptyKindsCountAllErrors testa que a lista vazia
// conta qualquer erro como falha
func TestCircuitBreaker_EmptyKindsCountAllErrors(t *testing.T) {
	cb := NewCircuitBreaker(createTestRule(1, 30, nil), nil)
	ctx := context.Background()

	err := cb.Call(ctx, failingOp(errors.New("anything")))
	assert.Error(t, err)
	assert.Equal(t, domain.CircuitOpen, cb.State())
}

// TestCircuitBreaker_StatsSnapshot testa contadores e histórico de transições
func TestCircuitBreaker_StatsSnapshot(t *testing.T) {
	cb := NewCircuitBreaker(createTestRule(2, 30, nil), nil)
	clock := withSimulatedClock(cb)
	ctx := context.Background()

	_ = cb.Call(ctx, succeedingOp())
	_ = cb.Call(ctx, failingOp(errors.New("boom")))
	_ = cb.Call(ctx, failingOp(errors.New("boom")))
	_ = cb.Call(ctx, succeedingOp()) // rejeitada: circuito aberto

	stats := cb.Stats()
	assert.Equal(t, "test-breaker", stats.Name)
	assert.Equal(t, domain.CircuitOpen, stats.State)
	assert.Equal(t, int64(4), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.SuccessCalls)
	assert.Equal(t, int64(2), stats.FailureCalls)
	assert.Equal(t, int64(1), stats.RejectedCalls)
	assert.NotNil(t, stats.LastFailureAt)

	assert.Len(t, stats.RecentTransitions, 1)
	assert.Equal(t, domain.CircuitClosed, stats.RecentTransitions[0].From)
	assert.Equal(t, domain.CircuitOpen, stats.RecentTransitions[0].To)
	assert.Equal(t, "failure threshold reached", stats.RecentTransitions[0].Reason)

	// Recuperação completa deixa mais duas transições no histórico
	*clock = clock.Add(31 * time.Second)
	_ = cb.Call(ctx, succeedingOp())

	stats = cb.Stats()
	assert.Len(t, stats.RecentTransitions, 3)
	assert.Equal(t, domain.CircuitHalfOpen, stats.RecentTransitions[1].To)
	assert.Equal(t, domain.CircuitClosed, stats.RecentTransitions[2].To)
}

// TestCircuitBreaker_HistoryIsBounded testa que o histórico não cresce sem limite
func TestCircuitBreaker_HistoryIsBounded(t *testing.T) {
	cb := NewCircuitBreaker(createTestRule(1, 1, nil), nil)
	clock := withSimulatedClock(cb)
	ctx := context.Background()

	// Cada ciclo falha/recupera gera 3 transições
	for i := 0; i < 10; i++ {
		_ = cb.Call(ctx, failingOp(errors.New("boom")))
		*clock = clock.Add(2 * time.Second)
		_ = cb.Call(ctx, succeedingOp())
	}

	stats := cb.Stats()
	assert.LessOrEqual(t, len(stats.RecentTransitions), 10)
}

// TestCircuitBreaker_Reset testa o reset administrativo
func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(createTestRule(1, 30, nil), nil)
	ctx := context.Background()

	_ = cb.Call(ctx, failingOp(errors.New("boom")))
	assert.Equal(t, domain.CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, domain.CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.Stats().ConsecutiveFailures)

	// Volta a aceitar chamadas imediatamente
	err := cb.Call(ctx, succeedingOp())
	assert.NoError(t, err)
}

// TestRegistry_GetAndNames testa o lookup e a listagem do registry
func TestRegistry_GetAndNames(t *testing.T) {
	rules := map[string]domain.BreakerRule{
		"payment-gateway": createTestRule(5, 60, []string{"unavailable"}),
		"device-dispatch": createTestRule(3, 30, []string{"unavailable", "timeout"}),
	}

	registry := NewRegistry(rules, nil)

	cb, err := registry.Get("device-dispatch")
	assert.NoError(t, err)
	assert.NotNil(t, cb)
	assert.Equal(t, domain.CircuitClosed, cb.State())

	_, err = registry.Get("unknown")
	assert.Error(t, err)

	assert.Equal(t, []string{"device-dispatch", "payment-gateway"}, registry.Names())
}

// TestRegistry_StatsAll testa snapshots de todos os breakers
func TestRegistry_StatsAll(t *testing.T) {
	rules := map[string]domain.BreakerRule{}
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("breaker-%d", i)
		rule := createTestRule(3, 30, nil)
		rule.Name = name
		rules[name] = rule
	}

	registry := NewRegistry(rules, nil)
	stats := registry.StatsAll()

	assert.Len(t, stats, 3)
	for _, s := range stats {
		assert.Equal(t, domain.CircuitClosed, s.State)
	}
}
