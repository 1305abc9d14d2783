package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reliability-gate/internal/domain"
)

// Manager implementa domain.IdempotencyManager combinando o cache store
// (caminho rápido) e o store durável (caminho persistente).
//
// O placeholder de reserva não carrega token de posse: qualquer worker
// que alcance Finalize para a mesma chave composta grava, e o upsert
// durável faz o último gravador vencer. Isso é aceitável porque as
// operações guardadas são elas próprias idempotentes.
type Manager struct {
	cache          domain.CacheStore
	store          domain.IdempotencyStore
	ttl            time.Duration
	placeholderTTL time.Duration
	logger         domain.Logger
	now            func() time.Time
}

// cacheEntry é o formato serializado no tier de cache
type cacheEntry struct {
	State          string    `json:"state"` // processing | finalized
	ResponseStatus int       `json:"responseStatus,omitempty"`
	ResponseBody   string    `json:"responseBody,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

const (
	stateProcessing = "processing"
	stateFinalized  = "finalized"
)

// NewManager cria uma nova instância do manager
func NewManager(
	cache domain.CacheStore,
	store domain.IdempotencyStore,
	ttl time.Duration,
	placeholderTTL time.Duration,
	logger domain.Logger,
) *Manager {
	return &Manager{
		cache:          cache,
		store:          store,
		ttl:            ttl,
		placeholderTTL: placeholderTTL,
		logger:         logger,
		now:            time.Now,
	}
}

// SetClock substitui a fonte de tempo (testes com relógio simulado)
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CheckAndReserve retorna o resultado armazenado quando a chave composta é
// conhecida e não expirou; caso contrário marca a chave como em processamento
// e sinaliza que o caller deve prosseguir.
func (m *Manager) CheckAndReserve(ctx context.Context, key, method, path string) (*domain.Reservation, error) {
	if key == "" {
		return nil, domain.ErrIdempotencyKeyMissing
	}

	cacheKey := m.buildCacheKey(key, method, path)

	// 1. Probe do tier de cache
	value, found, err := m.cache.Get(ctx, cacheKey)
	if err != nil {
		// Cache indisponível: segue para o tier durável (fail-open)
		m.logger.Warn("Cache tier unavailable during idempotency probe", map[string]interface{}{
			"key":   cacheKey,
			"error": err.Error(),
		})
	} else if found {
		reservation, ok := m.reservationFromCache(key, method, path, value)
		if ok {
			return reservation, nil
		}
		// Entrada de cache corrompida: descarta e segue para o tier durável
		m.logger.Warn("Discarding malformed idempotency cache entry", map[string]interface{}{
			"key": cacheKey,
		})
	}

	// 2. Probe do tier durável dentro da janela do TTL
	since := m.now().Add(-m.ttl)
	record, err := m.store.Find(ctx, key, method, path, since)
	if err != nil {
		// Store durável indisponível: permite prosseguir em vez de falhar
		m.logger.Warn("Durable tier unavailable during idempotency probe", map[string]interface{}{
			"idempotency_key": key,
			"error":           err.Error(),
		})
	} else if record != nil {
		// Backfill do cache com o TTL restante
		m.backfillCache(ctx, cacheKey, record)
		return &domain.Reservation{
			Outcome: domain.OutcomeReplay,
			Record:  record,
		}, nil
	}

	// 3. Miss completo: grava o placeholder de processamento (best-effort)
	placeholder := cacheEntry{
		State:     stateProcessing,
		CreatedAt: m.now(),
	}
	if err := m.writeCacheEntry(ctx, cacheKey, placeholder, m.placeholderTTL); err != nil {
		m.logger.Warn("Failed to write processing placeholder", map[string]interface{}{
			"key":   cacheKey,
			"error": err.Error(),
		})
	}

	return &domain.Reservation{Outcome: domain.OutcomeProceed}, nil
}

// Finalize persiste o resultado final nos dois tiers. Um finalize duplicado
// para a mesma chave sobrescreve em vez de falhar (último gravador vence).
func (m *Manager) Finalize(ctx context.Context, key, method, path string, status int, body []byte) error {
	if key == "" {
		return domain.ErrIdempotencyKeyMissing
	}

	record := &domain.IdempotencyRecord{
		Key:            key,
		Method:         method,
		Path:           path,
		ResponseStatus: status,
		ResponseBody:   body,
		CreatedAt:      m.now(),
	}

	// Tier durável primeiro: é a fonte de verdade
	if err := m.store.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to finalize idempotency record: %w", err)
	}

	// Tier de cache com o TTL completo (best-effort)
	cacheKey := m.buildCacheKey(key, method, path)
	entry := cacheEntry{
		State:          stateFinalized,
		ResponseStatus: status,
		ResponseBody:   string(body),
		CreatedAt:      record.CreatedAt,
	}
	if err := m.writeCacheEntry(ctx, cacheKey, entry, m.ttl); err != nil {
		m.logger.Warn("Failed to refresh idempotency cache on finalize", map[string]interface{}{
			"key":   cacheKey,
			"error": err.Error(),
		})
	}

	m.logger.Debug("Idempotency record finalized", map[string]interface{}{
		"idempotency_key": key,
		"method":          method,
		"path":            path,
		"status":          status,
	})

	return nil
}

// CleanupExpired remove registros duráveis mais antigos que o TTL
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := m.now().Add(-m.ttl)

	count, err := m.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired idempotency records: %w", err)
	}

	if count > 0 {
		m.logger.Info("Expired idempotency records purged", map[string]interface{}{
			"count":  count,
			"cutoff": cutoff.UTC().Format(time.RFC3339),
		})
	}

	return count, nil
}

// StartCleanupLoop executa CleanupExpired periodicamente até stop ser fechado
func (m *Manager) StartCleanupLoop(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := m.CleanupExpired(ctx); err != nil {
					m.logger.Error("Idempotency cleanup sweep failed", err, nil)
				}
				cancel()
			case <-stop:
				return
			}
		}
	}()
}

// reservationFromCache interpreta uma entrada do tier de cache
func (m *Manager) reservationFromCache(key, method, path, value string) (*domain.Reservation, bool) {
	var entry cacheEntry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return nil, false
	}

	switch entry.State {
	case stateProcessing:
		return &domain.Reservation{Outcome: domain.OutcomeProcessing}, true
	case stateFinalized:
		return &domain.Reservation{
			Outcome: domain.OutcomeReplay,
			Record: &domain.IdempotencyRecord{
				Key:            key,
				Method:         method,
				Path:           path,
				ResponseStatus: entry.ResponseStatus,
				ResponseBody:   []byte(entry.ResponseBody),
				CreatedAt:      entry.CreatedAt,
			},
		}, true
	default:
		return nil, false
	}
}

// backfillCache reidrata o tier de cache com o TTL restante do registro
func (m *Manager) backfillCache(ctx context.Context, cacheKey string, record *domain.IdempotencyRecord) {
	remaining := m.ttl - m.now().Sub(record.CreatedAt)
	if remaining <= 0 {
		return
	}

	entry := cacheEntry{
		State:          stateFinalized,
		ResponseStatus: record.ResponseStatus,
		ResponseBody:   string(record.ResponseBody),
		CreatedAt:      record.CreatedAt,
	}
	if err := m.writeCacheEntry(ctx, cacheKey, entry, remaining); err != nil {
		m.logger.Warn("Failed to backfill idempotency cache", map[string]interface{}{
			"key":   cacheKey,
			"error": err.Error(),
		})
	}
}

// writeCacheEntry serializa e grava uma entrada no tier de cache
func (m *Manager) writeCacheEntry(ctx context.Context, cacheKey string, entry cacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency cache entry: %w", err)
	}
	return m.cache.SetEx(ctx, cacheKey, string(data), ttl)
}

// buildCacheKey constrói a chave de cache da chave composta
func (m *Manager) buildCacheKey(key, method, path string) string {
	return fmt.Sprintf("idempotency:%s:%s:%s", key, method, path)
}
