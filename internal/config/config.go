package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"reliability-gate/internal/domain"

	"github.com/joho/godotenv"
)

// Config representa todas as configurações da aplicação
type Config struct {
	// Redis Configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Cache store strategy (redis ou memory)
	CacheStore string

	// Persistent store Configuration
	DBDialect string
	DBDSN     string

	// Default tier para classes de operação não mapeadas
	DefaultClassLimit  int
	DefaultClassWindow int // em segundos

	// Idempotency Configuration
	IdempotencyTTL  int // em segundos
	PlaceholderTTL  int // em segundos
	CleanupInterval int // em segundos

	// Server Configuration
	ServerPort string
	GinMode    string

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Arquivos de configuração de classes e breakers
	LimitsConfigFile   string
	BreakersConfigFile string
}

// LimitsFile representa a estrutura do arquivo limits.json
type LimitsFile struct {
	Classes map[string]domain.ClassRule `json:"classes"`
}

// BreakersFile representa a estrutura do arquivo breakers.json
type BreakersFile struct {
	Breakers map[string]domain.BreakerRule `json:"breakers"`
}

// ConfigLoader implementa a interface domain.ConfigLoader
type ConfigLoader struct {
	config     *Config
	classRules map[string]domain.ClassRule
}

// NewConfigLoader cria uma nova instância do ConfigLoader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{
		classRules: make(map[string]domain.ClassRule),
	}
}

// LoadConfig carrega as configurações do .env e dos arquivos JSON
func (c *ConfigLoader) LoadConfig() (*domain.GateConfig, error) {
	// Carrega o arquivo .env se existir
	if err := godotenv.Load(); err != nil {
		// Se não encontrar .env, continua com variáveis do sistema
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	// Carrega configurações do ambiente
	config, err := c.loadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	c.config = config

	// Carrega a tabela de classes de operação
	classRules, err := c.LoadClassRules()
	if err != nil {
		return nil, fmt.Errorf("failed to load class rules: %w", err)
	}

	// Carrega a tabela de breakers
	breakerRules, err := c.LoadBreakerRules()
	if err != nil {
		return nil, fmt.Errorf("failed to load breaker rules: %w", err)
	}

	// Monta a configuração do plano de confiabilidade
	gateConfig := &domain.GateConfig{
		Classes: classRules,
		DefaultClass: domain.ClassRule{
			Name:          "default",
			Limit:         config.DefaultClassLimit,
			WindowSeconds: config.DefaultClassWindow,
			Description:   "Default tier for unmapped operation classes",
		},
		Breakers:               breakerRules,
		IdempotencyTTLSeconds:  config.IdempotencyTTL,
		PlaceholderTTLSeconds:  config.PlaceholderTTL,
		CleanupIntervalSeconds: config.CleanupInterval,
	}

	return gateConfig, nil
}

// LoadClassRules carrega a tabela de classes do arquivo JSON.
// Nomes de classe são normalizados em minúsculas (lookup case-insensitive).
func (c *ConfigLoader) LoadClassRules() (map[string]domain.ClassRule, error) {
	limitsFile := c.getLimitsConfigFile()

	// Verifica se o arquivo existe
	if _, err := os.Stat(limitsFile); os.IsNotExist(err) {
		fmt.Printf("Warning: limits config file %s not found, using only the default tier\n", limitsFile)
		return make(map[string]domain.ClassRule), nil
	}

	// Lê o arquivo
	data, err := os.ReadFile(limitsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read limits config file: %w", err)
	}

	// Parse do JSON
	var parsed LimitsFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse limits config file: %w", err)
	}

	// Valida e normaliza as regras de classe
	rules := make(map[string]domain.ClassRule, len(parsed.Classes))
	for name, rule := range parsed.Classes {
		if rule.Limit < 0 {
			return nil, fmt.Errorf("invalid limit for class %s: must not be negative", name)
		}
		if rule.WindowSeconds <= 0 {
			return nil, fmt.Errorf("invalid window for class %s: must be greater than 0", name)
		}
		normalized := strings.ToLower(strings.TrimSpace(name))
		if rule.Name == "" {
			rule.Name = normalized
		}
		rules[normalized] = rule
	}

	c.classRules = rules
	return rules, nil
}

// LoadBreakerRules carrega a tabela de breakers do arquivo JSON
func (c *ConfigLoader) LoadBreakerRules() (map[string]domain.BreakerRule, error) {
	breakersFile := c.getBreakersConfigFile()

	if _, err := os.Stat(breakersFile); os.IsNotExist(err) {
		fmt.Printf("Warning: breakers config file %s not found, no circuit breakers configured\n", breakersFile)
		return make(map[string]domain.BreakerRule), nil
	}

	data, err := os.ReadFile(breakersFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read breakers config file: %w", err)
	}

	var parsed BreakersFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse breakers config file: %w", err)
	}

	rules := make(map[string]domain.BreakerRule, len(parsed.Breakers))
	for name, rule := range parsed.Breakers {
		if rule.FailureThreshold <= 0 {
			return nil, fmt.Errorf("invalid failure threshold for breaker %s: must be greater than 0", name)
		}
		if rule.RecoveryTimeoutSeconds <= 0 {
			return nil, fmt.Errorf("invalid recovery timeout for breaker %s: must be greater than 0", name)
		}
		if rule.Name == "" {
			rule.Name = name
		}
		rules[name] = rule
	}

	return rules, nil
}

// Reload recarrega todas as configurações
func (c *ConfigLoader) Reload() error {
	_, err := c.LoadConfig()
	return err
}

// GetConfig retorna a configuração atual
func (c *ConfigLoader) GetConfig() *Config {
	return c.config
}

// GetClassRule retorna a regra de uma classe específica
func (c *ConfigLoader) GetClassRule(class string) (domain.ClassRule, bool) {
	rule, exists := c.classRules[strings.ToLower(strings.TrimSpace(class))]
	return rule, exists
}

// loadFromEnv carrega configurações das variáveis de ambiente
func (c *ConfigLoader) loadFromEnv() (*Config, error) {
	config := &Config{
		// Redis defaults
		RedisHost:     getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvWithDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvWithDefault("REDIS_PASSWORD", ""),

		// Cache store strategy
		CacheStore: getEnvWithDefault("CACHE_STORE", "redis"),

		// Persistent store defaults (sqlite local para desenvolvimento)
		DBDialect: getEnvWithDefault("DB_DIALECT", "sqlite"),
		DBDSN:     getEnvWithDefault("DB_DSN", "file:reliability_gate.db?cache=shared"),

		// Server defaults
		ServerPort: getEnvWithDefault("SERVER_PORT", "8080"),
		GinMode:    getEnvWithDefault("GIN_MODE", "debug"),

		// Logging defaults
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "json"),

		// Arquivos de configuração
		LimitsConfigFile:   getEnvWithDefault("LIMITS_CONFIG_FILE", "internal/config/limits.json"),
		BreakersConfigFile: getEnvWithDefault("BREAKERS_CONFIG_FILE", "internal/config/breakers.json"),
	}

	// Parse Redis DB
	redisDB, err := strconv.Atoi(getEnvWithDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB value: %w", err)
	}
	config.RedisDB = redisDB

	// Parse do tier default
	defaultLimit, err := strconv.Atoi(getEnvWithDefault("DEFAULT_CLASS_LIMIT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_CLASS_LIMIT value: %w", err)
	}
	config.DefaultClassLimit = defaultLimit

	defaultWindow, err := strconv.Atoi(getEnvWithDefault("DEFAULT_CLASS_WINDOW", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_CLASS_WINDOW value: %w", err)
	}
	config.DefaultClassWindow = defaultWindow

	// Parse dos TTLs de idempotência
	idempotencyTTL, err := strconv.Atoi(getEnvWithDefault("IDEMPOTENCY_TTL", "86400"))
	if err != nil {
		return nil, fmt.Errorf("invalid IDEMPOTENCY_TTL value: %w", err)
	}
	config.IdempotencyTTL = idempotencyTTL

	placeholderTTL, err := strconv.Atoi(getEnvWithDefault("IDEMPOTENCY_PLACEHOLDER_TTL", "300"))
	if err != nil {
		return nil, fmt.Errorf("invalid IDEMPOTENCY_PLACEHOLDER_TTL value: %w", err)
	}
	config.PlaceholderTTL = placeholderTTL

	cleanupInterval, err := strconv.Atoi(getEnvWithDefault("IDEMPOTENCY_CLEANUP_INTERVAL", "3600"))
	if err != nil {
		return nil, fmt.Errorf("invalid IDEMPOTENCY_CLEANUP_INTERVAL value: %w", err)
	}
	config.CleanupInterval = cleanupInterval

	// Valida configurações obrigatórias
	if err := c.validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateConfig valida se as configurações são válidas
func (c *ConfigLoader) validateConfig(config *Config) error {
	if config.DefaultClassLimit < 0 {
		return fmt.Errorf("DEFAULT_CLASS_LIMIT must not be negative")
	}

	if config.DefaultClassWindow <= 0 {
		return fmt.Errorf("DEFAULT_CLASS_WINDOW must be greater than 0")
	}

	if config.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be greater than 0")
	}

	if config.PlaceholderTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_PLACEHOLDER_TTL must be greater than 0")
	}

	if config.CleanupInterval <= 0 {
		return fmt.Errorf("IDEMPOTENCY_CLEANUP_INTERVAL must be greater than 0")
	}

	if config.RedisDB < 0 || config.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}

	switch strings.ToLower(config.CacheStore) {
	case "redis", "memory":
	default:
		return fmt.Errorf("CACHE_STORE must be 'redis' or 'memory'")
	}

	switch strings.ToLower(config.DBDialect) {
	case "postgres", "mysql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("DB_DIALECT must be 'postgres', 'mysql' or 'sqlite'")
	}

	return nil
}

// getLimitsConfigFile retorna o caminho do arquivo de classes
func (c *ConfigLoader) getLimitsConfigFile() string {
	if c.config != nil && c.config.LimitsConfigFile != "" {
		return c.config.LimitsConfigFile
	}
	return getEnvWithDefault("LIMITS_CONFIG_FILE", "internal/config/limits.json")
}

// getBreakersConfigFile retorna o caminho do arquivo de breakers
func (c *ConfigLoader) getBreakersConfigFile() string {
	if c.config != nil && c.config.BreakersConfigFile != "" {
		return c.config.BreakersConfigFile
	}
	return getEnvWithDefault("BREAKERS_CONFIG_FILE", "internal/config/breakers.json")
}

// getEnvWithDefault retorna o valor da variável de ambiente ou um valor padrão
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
