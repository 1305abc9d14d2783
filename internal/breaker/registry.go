package breaker

import (
	"fmt"
	"sort"
	"sync"

	"reliability-gate/internal/domain"
)

// Registry agrupa os breakers nomeados do processo.
// É construído uma vez no startup a partir da configuração e passado
// por referência aos handlers; não há estado global de módulo.
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	logger   domain.Logger
}

// NewRegistry cria um registry com um breaker por regra configurada
func NewRegistry(rules map[string]domain.BreakerRule, logger domain.Logger) *Registry {
	registry := &Registry{
		breakers: make(map[string]*CircuitBreaker, len(rules)),
		logger:   logger,
	}

	for name, rule := range rules {
		if rule.Name == "" {
			rule.Name = name
		}
		registry.breakers[name] = NewCircuitBreaker(rule, logger)
	}

	if logger != nil {
		logger.Info("Circuit breaker registry initialized", map[string]interface{}{
			"breakers": len(rules),
		})
	}

	return registry
}

// Get retorna o breaker de uma operação nomeada
func (r *Registry) Get(name string) (*CircuitBreaker, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	cb, exists := r.breakers[name]
	if !exists {
		return nil, fmt.Errorf("no circuit breaker configured for %q", name)
	}
	return cb, nil
}

// Names retorna os nomes configurados em ordem estável
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StatsAll retorna snapshots de todos os breakers
func (r *Registry) StatsAll() []*domain.CircuitStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make([]*domain.CircuitStats, 0, len(r.breakers))
	for _, name := range r.namesLocked() {
		stats = append(stats, r.breakers[name].Stats())
	}
	return stats
}

// namesLocked retorna os nomes ordenados; requer lock de leitura
func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
