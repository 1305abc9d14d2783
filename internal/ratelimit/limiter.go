package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"reliability-gate/internal/domain"

	"github.com/google/uuid"
)

// keyTTLBuffer é a folga somada à janela no TTL da chave para que
// janelas abandonadas se limpem sozinhas
const keyTTLBuffer = 60 * time.Second

// SlidingWindowLimiter implementa domain.RateLimiter com janela deslizante
// sobre o ordered set do cache store.
//
// Política de falha: quando o cache store está indisponível o limiter
// falha aberto (allowed=true) e reporta o erro no resultado de uso,
// priorizando disponibilidade sobre enforcement estrito.
type SlidingWindowLimiter struct {
	store  domain.CacheStore
	config *domain.GateConfig
	logger domain.Logger
	now    func() time.Time
}

// NewSlidingWindowLimiter cria uma nova instância do limiter
func NewSlidingWindowLimiter(
	store domain.CacheStore,
	config *domain.GateConfig,
	logger domain.Logger,
) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock substitui a fonte de tempo (testes com relógio simulado)
func (l *SlidingWindowLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// Check verifica se uma admissão seria permitida, sem registrá-la
func (l *SlidingWindowLimiter) Check(ctx context.Context, subjectID, class string) (bool, *domain.RateLimitUsage) {
	rule := l.Resolve(class)
	usage := l.newUsage(subjectID, class, rule)

	// limit=0 rejeita sempre, sem consultar o store
	if rule.Limit == 0 {
		return false, usage
	}

	key := l.buildWindowKey(subjectID, class)
	nowSec := l.nowSeconds()

	// Remove membros fora da janela
	if err := l.store.ZRemRangeByScore(ctx, key, math.Inf(-1), nowSec-float64(rule.WindowSeconds)); err != nil {
		return true, l.failOpen(usage, "check", key, err)
	}

	count, err := l.store.ZCard(ctx, key)
	if err != nil {
		return true, l.failOpen(usage, "check", key, err)
	}
	usage.CurrentCount = int(count)

	allowed := count < int64(rule.Limit)
	if !allowed {
		l.fillResetAt(ctx, key, rule, usage)
	}

	l.logger.Debug("Admission check completed", map[string]interface{}{
		"subject_id":    subjectID,
		"class":         rule.Name,
		"current_count": usage.CurrentCount,
		"limit":         rule.Limit,
		"allowed":       allowed,
	})

	return allowed, usage
}

// Record registra uma admissão na janela corrente
func (l *SlidingWindowLimiter) Record(ctx context.Context, subjectID, class string) bool {
	rule := l.Resolve(class)
	key := l.buildWindowKey(subjectID, class)
	nowSec := l.nowSeconds()

	member := fmt.Sprintf("%.6f:%s", nowSec, uuid.New().String())
	if err := l.store.ZAdd(ctx, key, nowSec, member); err != nil {
		l.logger.Error("Failed to record admission", err, map[string]interface{}{
			"subject_id": subjectID,
			"class":      rule.Name,
			"key":        key,
		})
		return false
	}

	// Renova o TTL com folga para a chave se auto-limpar
	ttl := time.Duration(rule.WindowSeconds)*time.Second + keyTTLBuffer
	if err := l.store.Expire(ctx, key, ttl); err != nil {
		l.logger.Warn("Failed to refresh window TTL", map[string]interface{}{
			"subject_id": subjectID,
			"class":      rule.Name,
			"key":        key,
			"error":      err.Error(),
		})
	}

	return true
}

// Reserve verifica e registra em uma única operação atômica do lado do store.
// É o caminho usado pela admissão de requisições; Check e Record continuam
// disponíveis para a superfície advisória.
func (l *SlidingWindowLimiter) Reserve(ctx context.Context, subjectID, class string) (bool, *domain.RateLimitUsage) {
	rule := l.Resolve(class)
	usage := l.newUsage(subjectID, class, rule)

	if rule.Limit == 0 {
		return false, usage
	}

	key := l.buildWindowKey(subjectID, class)
	nowSec := l.nowSeconds()
	ttl := time.Duration(rule.WindowSeconds)*time.Second + keyTTLBuffer

	allowed, count, oldest, err := l.store.ReserveSlot(ctx, key, nowSec, rule.WindowSeconds, rule.Limit, ttl)
	if err != nil {
		return true, l.failOpen(usage, "reserve", key, err)
	}

	usage.CurrentCount = int(count)
	if !allowed && oldest > 0 {
		resetAt := secondsToTime(oldest + float64(rule.WindowSeconds))
		usage.ResetAt = &resetAt
	}

	if !allowed {
		l.logger.Warn("Admission denied", map[string]interface{}{
			"subject_id":    subjectID,
			"class":         rule.Name,
			"current_count": usage.CurrentCount,
			"limit":         rule.Limit,
		})
	}

	return allowed, usage
}

// Status retorna o uso corrente sem registrar admissão
func (l *SlidingWindowLimiter) Status(ctx context.Context, subjectID, class string) *domain.RateLimitUsage {
	rule := l.Resolve(class)
	usage := l.newUsage(subjectID, class, rule)

	key := l.buildWindowKey(subjectID, class)
	nowSec := l.nowSeconds()

	if err := l.store.ZRemRangeByScore(ctx, key, math.Inf(-1), nowSec-float64(rule.WindowSeconds)); err != nil {
		return l.failOpen(usage, "status", key, err)
	}

	count, err := l.store.ZCard(ctx, key)
	if err != nil {
		return l.failOpen(usage, "status", key, err)
	}
	usage.CurrentCount = int(count)

	if count >= int64(rule.Limit) {
		l.fillResetAt(ctx, key, rule, usage)
	}

	return usage
}

// Resolve retorna a regra aplicável a uma classe.
// O lookup é case-insensitive; classes não mapeadas caem no tier default.
func (l *SlidingWindowLimiter) Resolve(class string) domain.ClassRule {
	normalized := strings.ToLower(strings.TrimSpace(class))

	if rule, exists := l.config.Classes[normalized]; exists {
		return rule
	}

	rule := l.config.DefaultClass
	rule.Description = fmt.Sprintf("Default tier for class %s", normalized)
	return rule
}

// Reset limpa a janela de um par (subject, classe)
func (l *SlidingWindowLimiter) Reset(ctx context.Context, subjectID, class string) error {
	key := l.buildWindowKey(subjectID, class)

	if err := l.store.Del(ctx, key); err != nil {
		return fmt.Errorf("failed to reset window: %w", err)
	}

	l.logger.Info("Rate limit window reset", map[string]interface{}{
		"subject_id": subjectID,
		"class":      strings.ToLower(strings.TrimSpace(class)),
		"key":        key,
	})

	return nil
}

// newUsage monta o resultado de uso com os campos da regra
func (l *SlidingWindowLimiter) newUsage(subjectID, class string, rule domain.ClassRule) *domain.RateLimitUsage {
	return &domain.RateLimitUsage{
		SubjectID:     subjectID,
		Class:         rule.Name,
		Limit:         rule.Limit,
		WindowSeconds: rule.WindowSeconds,
	}
}

// failOpen aplica a política de fail-open: reporta o erro no uso
// e loga conforme a classe do erro
func (l *SlidingWindowLimiter) failOpen(usage *domain.RateLimitUsage, operation, key string, err error) *domain.RateLimitUsage {
	usage.Err = err

	fields := map[string]interface{}{
		"operation":  operation,
		"key":        key,
		"subject_id": usage.SubjectID,
		"class":      usage.Class,
	}

	if errors.Is(err, domain.ErrStoreUnavailable) {
		l.logger.Warn("Cache store unavailable, admitting request (fail-open)", fields)
	} else {
		// Erro inesperado do store: registrado alto, mas a admissão não bloqueia
		l.logger.Error("Unexpected store error during admission", err, fields)
	}

	return usage
}

// fillResetAt anota o reset da janela a partir do membro mais antigo retido
func (l *SlidingWindowLimiter) fillResetAt(ctx context.Context, key string, rule domain.ClassRule, usage *domain.RateLimitUsage) {
	members, err := l.store.ZRangeWithScores(ctx, key, 0, 0)
	if err != nil || len(members) == 0 {
		return
	}

	resetAt := secondsToTime(members[0].Score + float64(rule.WindowSeconds))
	usage.ResetAt = &resetAt
}

// buildWindowKey constrói a chave da janela no formato padrão
func (l *SlidingWindowLimiter) buildWindowKey(subjectID, class string) string {
	return fmt.Sprintf("rate_limit:%s:%s", subjectID, strings.ToLower(strings.TrimSpace(class)))
}

// nowSeconds retorna o instante atual em segundos Unix com fração
func (l *SlidingWindowLimiter) nowSeconds() float64 {
	return float64(l.now().UnixNano()) / float64(time.Second)
}

// secondsToTime converte segundos Unix fracionários para time.Time
func secondsToTime(seconds float64) time.Time {
	return time.Unix(0, int64(seconds*float64(time.Second)))
}
