package storage

import (
	"fmt"
	"strings"

	"reliability-gate/internal/domain"
)

// CacheStoreType define os tipos de cache store disponíveis
type CacheStoreType string

const (
	RedisStoreType  CacheStoreType = "redis"
	MemoryStoreType CacheStoreType = "memory"
)

// CacheStoreConfig contém configurações para criação do cache store
type CacheStoreConfig struct {
	Type        CacheStoreType
	RedisConfig *RedisConfig
}

// RedisConfig contém configurações específicas do Redis
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	Database int
}

// PersistentConfig contém configurações do store durável
type PersistentConfig struct {
	Dialect string
	DSN     string
}

// StoreFactory cria instâncias de store seguindo Strategy Pattern
type StoreFactory struct{}

// NewStoreFactory cria uma nova instância da factory
func NewStoreFactory() *StoreFactory {
	return &StoreFactory{}
}

// CreateCacheStore cria uma instância de cache store baseada na configuração
func (f *StoreFactory) CreateCacheStore(config *CacheStoreConfig, logger domain.Logger) (domain.CacheStore, error) {
	if config == nil {
		return nil, fmt.Errorf("cache store config cannot be nil")
	}

	switch strings.ToLower(string(config.Type)) {
	case string(RedisStoreType):
		return f.createRedisStore(config.RedisConfig, logger)
	case string(MemoryStoreType):
		return f.createMemoryStore(logger)
	default:
		return nil, fmt.Errorf("unsupported cache store type: %s", config.Type)
	}
}

// CreateIdempotencyStore cria o store durável de idempotência
func (f *StoreFactory) CreateIdempotencyStore(config *PersistentConfig, logger domain.Logger) (domain.IdempotencyStore, error) {
	if config == nil {
		return nil, fmt.Errorf("persistent store config cannot be nil")
	}
	if config.Dialect == "" {
		return nil, fmt.Errorf("persistent store dialect cannot be empty")
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("persistent store DSN cannot be empty")
	}

	store, err := NewSQLIdempotencyStore(config.Dialect, config.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQL idempotency store: %w", err)
	}

	if logger != nil {
		logger.Info("SQL idempotency store created successfully", map[string]interface{}{
			"dialect": config.Dialect,
		})
	}

	return store, nil
}

// createRedisStore cria uma instância de Redis store
func (f *StoreFactory) createRedisStore(config *RedisConfig, logger domain.Logger) (domain.CacheStore, error) {
	if config == nil {
		return nil, fmt.Errorf("Redis config cannot be nil")
	}

	// Validações básicas
	if config.Host == "" {
		return nil, fmt.Errorf("Redis host cannot be empty")
	}
	if config.Port == "" {
		return nil, fmt.Errorf("Redis port cannot be empty")
	}
	if config.Database < 0 || config.Database > 15 {
		return nil, fmt.Errorf("Redis database must be between 0 and 15")
	}

	store, err := NewRedisStore(config.Host, config.Port, config.Password, config.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis store: %w", err)
	}

	if logger != nil {
		logger.Info("Redis store created successfully", map[string]interface{}{
			"host":     config.Host,
			"port":     config.Port,
			"database": config.Database,
		})
	}

	return store, nil
}

// createMemoryStore cria uma instância de Memory store
func (f *StoreFactory) createMemoryStore(logger domain.Logger) (domain.CacheStore, error) {
	store := NewMemoryStore(logger)

	if logger != nil {
		logger.Info("Memory store created successfully", nil)
	}

	return store, nil
}

// ValidateConfig valida uma configuração de cache store
func (f *StoreFactory) ValidateConfig(config *CacheStoreConfig) error {
	if config == nil {
		return fmt.Errorf("cache store config cannot be nil")
	}

	switch strings.ToLower(string(config.Type)) {
	case string(RedisStoreType):
		return f.validateRedisConfig(config.RedisConfig)
	case string(MemoryStoreType):
		// Memory store não precisa de configurações específicas
		return nil
	default:
		return fmt.Errorf("unsupported cache store type: %s", config.Type)
	}
}

// validateRedisConfig valida configuração do Redis
func (f *StoreFactory) validateRedisConfig(config *RedisConfig) error {
	if config == nil {
		return fmt.Errorf("Redis config cannot be nil")
	}

	if config.Host == "" {
		return fmt.Errorf("Redis host cannot be empty")
	}

	if config.Port == "" {
		return fmt.Errorf("Redis port cannot be empty")
	}

	if config.Database < 0 || config.Database > 15 {
		return fmt.Errorf("Redis database must be between 0 and 15, got: %d", config.Database)
	}

	return nil
}

// BuildCacheStoreConfigFromEnv constrói a configuração de cache store
// a partir dos valores carregados do ambiente
func BuildCacheStoreConfigFromEnv(storeType, redisHost, redisPort, redisPassword string, redisDB int) *CacheStoreConfig {
	config := &CacheStoreConfig{
		Type: CacheStoreType(strings.ToLower(storeType)),
	}

	if config.Type == RedisStoreType {
		config.RedisConfig = &RedisConfig{
			Host:     redisHost,
			Port:     redisPort,
			Password: redisPassword,
			Database: redisDB,
		}
	}

	return config
}
