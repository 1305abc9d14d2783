package domain

import (
	"context"
	"time"
)

// CacheStore define a interface para o store de cache com TTL e ordered sets.
// A superfície espelha os comandos necessários para a janela deslizante
// e para o tier rápido de idempotência.
type CacheStore interface {
	// Get recupera o valor de uma chave; found=false quando a chave não existe
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// SetEx grava um valor com TTL
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// Del remove uma chave
	Del(ctx context.Context, key string) error

	// ZAdd insere um membro com score em um ordered set
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRemRangeByScore remove membros com score em [min, max]
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	// ZCard retorna a cardinalidade de um ordered set
	ZCard(ctx context.Context, key string) (int64, error)

	// ZRangeWithScores retorna membros ordenados por score no intervalo de índices
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error)

	// Expire define/renova o TTL de uma chave
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ReserveSlot executa atomicamente prune + count + inserção condicional
	// na janela deslizante. Retorna se a admissão foi aceita, a cardinalidade
	// após a operação e o score do membro mais antigo retido (0 se vazio).
	ReserveSlot(ctx context.Context, key string, now float64, windowSeconds, limit int, ttl time.Duration) (allowed bool, count int64, oldest float64, err error)

	// Health verifica se o store está saudável
	Health(ctx context.Context) error

	// Close fecha a conexão com o store
	Close() error
}

// IdempotencyStore define a interface para o tier durável de idempotência
type IdempotencyStore interface {
	// Upsert grava o registro; em conflito na chave composta o registro existente é sobrescrito
	Upsert(ctx context.Context, record *IdempotencyRecord) error

	// Find busca um registro criado a partir de since; nil quando não há registro elegível
	Find(ctx context.Context, key, method, path string, since time.Time) (*IdempotencyRecord, error)

	// PurgeOlderThan remove registros criados antes de cutoff e retorna a contagem
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Health verifica se o store está saudável
	Health(ctx context.Context) error

	// Close fecha a conexão com o store
	Close() error
}

// RateLimiter define o serviço de admissão por janela deslizante.
// Check e Record são duas idas separadas ao store; Reserve combina
// as duas em uma operação atômica do lado do store.
type RateLimiter interface {
	// Check verifica se uma admissão seria permitida, sem registrá-la
	Check(ctx context.Context, subjectID, class string) (bool, *RateLimitUsage)

	// Record registra uma admissão na janela corrente
	Record(ctx context.Context, subjectID, class string) bool

	// Reserve verifica e registra em uma única operação atômica
	Reserve(ctx context.Context, subjectID, class string) (bool, *RateLimitUsage)

	// Status retorna o uso corrente sem modificar a janela
	Status(ctx context.Context, subjectID, class string) *RateLimitUsage

	// Resolve retorna a regra aplicável a uma classe (case-insensitive, com tier default)
	Resolve(class string) ClassRule

	// Reset limpa a janela de um par (subject, classe)
	Reset(ctx context.Context, subjectID, class string) error
}

// Operation é a operação protegida executada através de um breaker
type Operation func(ctx context.Context) error

// Breaker define a máquina de estados de circuit breaking de uma operação nomeada
type Breaker interface {
	// Call executa a operação respeitando o estado do breaker.
	// Retorna um erro circuit-open quando rejeita sem invocar a operação.
	Call(ctx context.Context, op Operation) error

	// State retorna o estado corrente
	State() CircuitState

	// Stats retorna um snapshot de contadores e histórico de transições
	Stats() *CircuitStats

	// Reset retorna o breaker ao estado fechado e zera o contador de falhas
	Reset()
}

// IdempotencyManager define a guarda de execução at-most-once por chave composta
type IdempotencyManager interface {
	// CheckAndReserve retorna o resultado armazenado quando a chave é conhecida;
	// caso contrário marca a chave como em processamento e sinaliza proceed
	CheckAndReserve(ctx context.Context, key, method, path string) (*Reservation, error)

	// Finalize persiste o resultado final nos dois tiers
	Finalize(ctx context.Context, key, method, path string, status int, body []byte) error

	// CleanupExpired remove registros duráveis mais antigos que o TTL
	CleanupExpired(ctx context.Context) (int64, error)
}

// Logger define a interface para logging estruturado
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	WithContext(ctx context.Context) Logger
}

// ConfigLoader define a interface para carregamento de configurações
type ConfigLoader interface {
	LoadConfig() (*GateConfig, error)
	Reload() error
}
