package domain

import "time"

// ClassRule define a regra de admissão para uma classe de operação
type ClassRule struct {
	Name          string `json:"name"`
	Limit         int    `json:"limit"`
	WindowSeconds int    `json:"windowSeconds"`
	Description   string `json:"description"`
}

// RateLimitUsage representa o uso corrente da janela deslizante
// de um par (subject, classe de operação)
type RateLimitUsage struct {
	SubjectID     string     `json:"subjectId"`
	Class         string     `json:"class"`
	CurrentCount  int        `json:"currentCount"`
	Limit         int        `json:"limit"`
	WindowSeconds int        `json:"windowSeconds"`
	ResetAt       *time.Time `json:"resetAt,omitempty"`
	Err           error      `json:"-"` // preenchido quando o cache store falhou (fail-open)
}

// Remaining retorna quantas admissões ainda cabem na janela atual
func (u *RateLimitUsage) Remaining() int {
	remaining := u.Limit - u.CurrentCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CircuitState define os estados possíveis do circuit breaker
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// StateTransition registra uma mudança de estado do breaker
type StateTransition struct {
	From   CircuitState `json:"from"`
	To     CircuitState `json:"to"`
	At     time.Time    `json:"at"`
	Reason string       `json:"reason"`
}

// CircuitStats é um snapshot do estado e dos contadores de um breaker
type CircuitStats struct {
	Name                string            `json:"name"`
	State               CircuitState      `json:"state"`
	ConsecutiveFailures int               `json:"consecutiveFailures"`
	TotalCalls          int64             `json:"totalCalls"`
	SuccessCalls        int64             `json:"successCalls"`
	FailureCalls        int64             `json:"failureCalls"`
	RejectedCalls       int64             `json:"rejectedCalls"`
	LastFailureAt       *time.Time        `json:"lastFailureAt,omitempty"`
	LastStateChangeAt   time.Time         `json:"lastStateChangeAt"`
	RecentTransitions   []StateTransition `json:"recentTransitions"`
}

// BreakerRule define a configuração de um breaker nomeado
type BreakerRule struct {
	Name                   string   `json:"name"`
	FailureThreshold       int      `json:"failureThreshold"`
	RecoveryTimeoutSeconds int      `json:"recoveryTimeoutSeconds"`
	FailureKinds           []string `json:"failureKinds"`
}

// IdempotencyRecord representa o resultado finalizado de uma requisição,
// identificada pela chave composta (idempotency key, método, path)
type IdempotencyRecord struct {
	Key            string    `json:"key"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	ResponseStatus int       `json:"responseStatus"`
	ResponseBody   []byte    `json:"responseBody"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ReservationOutcome define o resultado de um CheckAndReserve
type ReservationOutcome string

const (
	// OutcomeProceed indica chave inédita: o caller deve executar a operação
	OutcomeProceed ReservationOutcome = "proceed"
	// OutcomeReplay indica que há resultado finalizado disponível para replay
	OutcomeReplay ReservationOutcome = "replay"
	// OutcomeProcessing indica que outra requisição reservou a chave e ainda não finalizou
	OutcomeProcessing ReservationOutcome = "processing"
)

// Reservation é o resultado de IdempotencyManager.CheckAndReserve
type Reservation struct {
	Outcome ReservationOutcome `json:"outcome"`
	Record  *IdempotencyRecord `json:"record,omitempty"` // presente apenas em replay
}

// ScoredMember representa um membro de ordered set com seu score
type ScoredMember struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// GateConfig agrega toda a configuração do plano de confiabilidade
type GateConfig struct {
	Classes                map[string]ClassRule   `json:"classes"` // chaves normalizadas em minúsculas
	DefaultClass           ClassRule              `json:"defaultClass"`
	Breakers               map[string]BreakerRule `json:"breakers"`
	IdempotencyTTLSeconds  int                    `json:"idempotencyTtlSeconds"`
	PlaceholderTTLSeconds  int                    `json:"placeholderTtlSeconds"`
	CleanupIntervalSeconds int                    `json:"cleanupIntervalSeconds"`
}
