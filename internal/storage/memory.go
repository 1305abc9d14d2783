package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reliability-gate/internal/domain"

	"github.com/google/uuid"
)

// MemoryStore implementa a interface domain.CacheStore em memória.
// Reproduz a semântica de chaves com TTL e ordered sets para testes
// e execução single-node.
type MemoryStore struct {
	values map[string]memoryEntry
	sets   map[string]*memorySortedSet
	mutex  sync.RWMutex
	logger domain.Logger
	stop   chan struct{}
}

// memoryEntry representa um valor simples com expiração
type memoryEntry struct {
	value     string
	expiresAt time.Time // zero = sem expiração
}

// memorySortedSet representa um ordered set com expiração de chave
type memorySortedSet struct {
	members   []domain.ScoredMember // ordenados por score crescente
	expiresAt time.Time
}

// NewMemoryStore cria uma nova instância do MemoryStore
func NewMemoryStore(logger domain.Logger) *MemoryStore {
	store := &MemoryStore{
		values: make(map[string]memoryEntry),
		sets:   make(map[string]*memorySortedSet),
		logger: logger,
		stop:   make(chan struct{}),
	}

	// Inicia goroutine de limpeza
	go store.cleanup()

	if logger != nil {
		logger.Info("Memory store initialized", nil)
	}

	return store
}

// Get recupera o valor de uma chave
func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mutex.RLock()
	entry, exists := m.values[key]
	m.mutex.RUnlock()

	if !exists {
		return "", false, nil
	}

	// Expiração lazy
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mutex.Lock()
		// Revalida sob o lock de escrita: um SetEx concorrente pode ter
		// gravado um valor novo entre o RUnlock e o Lock
		if current, still := m.values[key]; still && current.expiresAt.Equal(entry.expiresAt) && current.value == entry.value {
			delete(m.values, key)
		}
		m.mutex.Unlock()
		return "", false, nil
	}

	return entry.value, true, nil
}

// SetEx grava um valor com TTL
func (m *MemoryStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	} else {
		// TTL zero ou negativo expira imediatamente
		entry.expiresAt = time.Now().Add(-time.Second)
	}
	m.values[key] = entry

	return nil
}

// Del remove uma chave
func (m *MemoryStore) Del(ctx context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.values, key)
	delete(m.sets, key)

	return nil
}

// ZAdd insere um membro com score em um ordered set
func (m *MemoryStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	set := m.liveSet(key, true)

	// Substitui o score se o membro já existir
	for i := range set.members {
		if set.members[i].Member == member {
			set.members[i].Score = score
			sortMembers(set.members)
			return nil
		}
	}

	set.members = append(set.members, domain.ScoredMember{Member: member, Score: score})
	sortMembers(set.members)

	return nil
}

// ZRemRangeByScore remove membros com score em [min, max]
func (m *MemoryStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	set := m.liveSet(key, false)
	if set == nil {
		return nil
	}

	kept := set.members[:0]
	for _, member := range set.members {
		if member.Score < min || member.Score > max {
			kept = append(kept, member)
		}
	}
	set.members = kept

	return nil
}

// ZCard retorna a cardinalidade de um ordered set
func (m *MemoryStore) ZCard(ctx context.Context, key string) (int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	set := m.liveSetRead(key)
	if set == nil {
		return 0, nil
	}

	return int64(len(set.members)), nil
}

// ZRangeWithScores retorna membros ordenados por score no intervalo de índices
func (m *MemoryStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]domain.ScoredMember, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	set := m.liveSetRead(key)
	if set == nil {
		return nil, nil
	}

	size := int64(len(set.members))
	if start < 0 {
		start = size + start
	}
	if stop < 0 {
		stop = size + stop
	}
	if start < 0 {
		start = 0
	}
	if start >= size || stop < start {
		return nil, nil
	}
	if stop >= size {
		stop = size - 1
	}

	// Cria cópia para evitar modificações concorrentes
	result := make([]domain.ScoredMember, stop-start+1)
	copy(result, set.members[start:stop+1])

	return result, nil
}

// Expire define/renova o TTL de uma chave
func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	expiresAt := time.Now().Add(ttl)

	if entry, exists := m.values[key]; exists {
		entry.expiresAt = expiresAt
		m.values[key] = entry
	}
	if set, exists := m.sets[key]; exists {
		set.expiresAt = expiresAt
	}

	return nil
}

// ReserveSlot executa prune + count + inserção condicional sob o lock do store,
// espelhando a semântica do script Lua do RedisStore
func (m *MemoryStore) ReserveSlot(ctx context.Context, key string, now float64, windowSeconds, limit int, ttl time.Duration) (bool, int64, float64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	set := m.liveSet(key, true)

	// Prune dos membros fora da janela
	cutoff := now - float64(windowSeconds)
	kept := set.members[:0]
	for _, member := range set.members {
		if member.Score > cutoff {
			kept = append(kept, member)
		}
	}
	set.members = kept

	count := int64(len(set.members))
	if count >= int64(limit) {
		oldest := float64(0)
		if count > 0 {
			oldest = set.members[0].Score
		}
		return false, count, oldest, nil
	}

	member := fmt.Sprintf("%.6f:%s", now, uuid.New().String())
	set.members = append(set.members, domain.ScoredMember{Member: member, Score: now})
	sortMembers(set.members)
	set.expiresAt = time.Now().Add(ttl)

	return true, count + 1, now, nil
}

// Health verifica se o store está saudável
func (m *MemoryStore) Health(ctx context.Context) error {
	m.mutex.RLock()
	valueCount := len(m.values)
	setCount := len(m.sets)
	m.mutex.RUnlock()

	if m.logger != nil {
		m.logger.Debug("Memory store health check", map[string]interface{}{
			"value_entries": valueCount,
			"set_entries":   setCount,
		})
	}

	return nil
}

// Close encerra a goroutine de limpeza e descarta os dados
func (m *MemoryStore) Close() error {
	select {
	case <-m.stop:
		// já fechado
	default:
		close(m.stop)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.values = make(map[string]memoryEntry)
	m.sets = make(map[string]*memorySortedSet)

	if m.logger != nil {
		m.logger.Info("Memory store closed", nil)
	}
	return nil
}

// GetStats retorna estatísticas do store em memória
func (m *MemoryStore) GetStats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return map[string]interface{}{
		"value_entries": len(m.values),
		"set_entries":   len(m.sets),
		"type":          "memory",
	}
}

// liveSet retorna o ordered set vivo de uma chave, criando-o se pedido.
// Requer lock de escrita.
func (m *MemoryStore) liveSet(key string, create bool) *memorySortedSet {
	set, exists := m.sets[key]
	if exists && !set.expiresAt.IsZero() && time.Now().After(set.expiresAt) {
		delete(m.sets, key)
		exists = false
	}
	if !exists {
		if !create {
			return nil
		}
		set = &memorySortedSet{}
		m.sets[key] = set
	}
	return set
}

// liveSetRead retorna o ordered set de uma chave sem criar nem remover.
// Requer lock de leitura.
func (m *MemoryStore) liveSetRead(key string) *memorySortedSet {
	set, exists := m.sets[key]
	if !exists {
		return nil
	}
	if !set.expiresAt.IsZero() && time.Now().After(set.expiresAt) {
		return nil
	}
	return set
}

// cleanup remove entradas expiradas periodicamente
func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupExpiredEntries()
		case <-m.stop:
			return
		}
	}
}

// cleanupExpiredEntries remove entradas expiradas
func (m *MemoryStore) cleanupExpiredEntries() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	removedValues := 0
	removedSets := 0

	for key, entry := range m.values {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(m.values, key)
			removedValues++
		}
	}

	for key, set := range m.sets {
		if !set.expiresAt.IsZero() && now.After(set.expiresAt) {
			delete(m.sets, key)
			removedSets++
		}
	}

	if (removedValues > 0 || removedSets > 0) && m.logger != nil {
		m.logger.Debug("Memory store cleanup completed", map[string]interface{}{
			"removed_values": removedValues,
			"removed_sets":   removedSets,
		})
	}
}

// sortMembers ordena membros por score crescente
func sortMembers(members []domain.ScoredMember) {
	sort.Slice(members, func(i, j int) bool {
		return members[i].Score < members[j].Score
	})
}
