package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper para escrever um arquivo de configuração temporário
func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// Helper para limpar as variáveis de ambiente usadas nos testes
func clearConfigEnv(t *testing.T) {
	t.Helper()

	vars := []string{
		"REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB",
		"CACHE_STORE", "DB_DIALECT", "DB_DSN",
		"DEFAULT_CLASS_LIMIT", "DEFAULT_CLASS_WINDOW",
		"IDEMPOTENCY_TTL", "IDEMPOTENCY_PLACEHOLDER_TTL", "IDEMPOTENCY_CLEANUP_INTERVAL",
		"SERVER_PORT", "GIN_MODE", "LOG_LEVEL", "LOG_FORMAT",
		"LIMITS_CONFIG_FILE", "BREAKERS_CONFIG_FILE",
	}
	for _, v := range vars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

// TestConfigLoader_Defaults testa os valores padrão do ambiente
func TestConfigLoader_Defaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("LIMITS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing-limits.json"))
	t.Setenv("BREAKERS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing-breakers.json"))

	loader := NewConfigLoader()
	gateConfig, err := loader.LoadConfig()
	require.NoError(t, err)

	config := loader.GetConfig()
	assert.Equal(t, "localhost", config.RedisHost)
	assert.Equal(t, "6379", config.RedisPort)
	assert.Equal(t, "redis", config.CacheStore)
	assert.Equal(t, "sqlite", config.DBDialect)
	assert.Equal(t, "8080", config.ServerPort)
	assert.Equal(t, 86400, config.IdempotencyTTL)
	assert.Equal(t, 300, config.PlaceholderTTL)
	assert.Equal(t, 3600, config.CleanupInterval)

	assert.Equal(t, 60, gateConfig.DefaultClass.Limit)
	assert.Equal(t, 60, gateConfig.DefaultClass.WindowSeconds)
	assert.Empty(t, gateConfig.Classes)
	assert.Empty(t, gateConfig.Breakers)
}

// TestConfigLoader_LoadClassRules testa o parse e a normalização das classes
func TestConfigLoader_LoadClassRules(t *testing.T) {
	clearConfigEnv(t)

	limits := writeConfigFile(t, "limits.json", `{
		"classes": {
			"Reboot": {"limit": 5, "windowSeconds": 300, "description": "Device reboots"},
			"command-dispatch": {"limit": 30, "windowSeconds": 60},
			"firmware-update": {"limit": 0, "windowSeconds": 3600}
		}
	}`)
	t.Setenv("LIMITS_CONFIG_FILE", limits)
	t.Setenv("BREAKERS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))

	loader := NewConfigLoader()
	gateConfig, err := loader.LoadConfig()
	require.NoError(t, err)

	// Nomes normalizados em minúsculas
	rule, exists := gateConfig.Classes["reboot"]
	assert.True(t, exists)
	assert.Equal(t, 5, rule.Limit)
	assert.Equal(t, 300, rule.WindowSeconds)

	// Limite zero é configuração válida (classe suspensa)
	rule, exists = gateConfig.Classes["firmware-update"]
	assert.True(t, exists)
	assert.Equal(t, 0, rule.Limit)

	// Lookup auxiliar case-insensitive
	rule, exists = loader.GetClassRule("REBOOT")
	assert.True(t, exists)
	assert.Equal(t, 5, rule.Limit)
}

// TestConfigLoader_InvalidClassRules testa a validação das regras de classe
func TestConfigLoader_InvalidClassRules(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "limite negativo",
			content: `{"classes": {"reboot": {"limit": -1, "windowSeconds": 300}}}`,
		},
		{
			name:    "janela zero",
			content: `{"classes": {"reboot": {"limit": 5, "windowSeconds": 0}}}`,
		},
		{
			name:    "JSON inválido",
			content: `{"classes": `,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv("LIMITS_CONFIG_FILE", writeConfigFile(t, "limits.json", tt.content))
			t.Setenv("BREAKERS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))

			loader := NewConfigLoader()
			_, err := loader.LoadConfig()
			assert.Error(t, err)
		})
	}
}

// TestConfigLoader_LoadBreakerRules testa o parse das regras de breaker
func TestConfigLoader_LoadBreakerRules(t *testing.T) {
	clearConfigEnv(t)

	breakers := writeConfigFile(t, "breakers.json", `{
		"breakers": {
			"device-dispatch": {
				"failureThreshold": 3,
				"recoveryTimeoutSeconds": 30,
				"failureKinds": ["unavailable", "timeout"]
			},
			"payment-gateway": {
				"failureThreshold": 5,
				"recoveryTimeoutSeconds": 60
			}
		}
	}`)
	t.Setenv("BREAKERS_CONFIG_FILE", breakers)
	t.Setenv("LIMITS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))

	loader := NewConfigLoader()
	gateConfig, err := loader.LoadConfig()
	require.NoError(t, err)

	rule, exists := gateConfig.Breakers["device-dispatch"]
	assert.True(t, exists)
	assert.Equal(t, "device-dispatch", rule.Name)
	assert.Equal(t, 3, rule.FailureThreshold)
	assert.Equal(t, 30, rule.RecoveryTimeoutSeconds)
	assert.Equal(t, []string{"unavailable", "timeout"}, rule.FailureKinds)

	// Lista de tipos ausente significa contar todos os erros
	rule, exists = gateConfig.Breakers["payment-gateway"]
	assert.True(t, exists)
	assert.Empty(t, rule.FailureKinds)
}

// TestConfigLoader_InvalidBreakerRules testa a validação das regras de breaker
func TestConfigLoader_InvalidBreakerRules(t *testing.T) {
	clearConfigEnv(t)

	breakers := writeConfigFile(t, "breakers.json",
		`{"breakers": {"bad": {"failureThreshold": 0, "recoveryTimeoutSeconds": 30}}}`)
	t.Setenv("BREAKERS_CONFIG_FILE", breakers)
	t.Setenv("LIMITS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))

	loader := NewConfigLoader()
	_, err := loader.LoadConfig()
	assert.Error(t, err)
}

// TestConfigLoader_EnvOverrides testa a precedência das variáveis de ambiente
func TestConfigLoader_EnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("LIMITS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("BREAKERS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("CACHE_STORE", "memory")
	t.Setenv("DB_DIALECT", "postgres")
	t.Setenv("IDEMPOTENCY_TTL", "7200")
	t.Setenv("DEFAULT_CLASS_LIMIT", "100")

	loader := NewConfigLoader()
	gateConfig, err := loader.LoadConfig()
	require.NoError(t, err)

	config := loader.GetConfig()
	assert.Equal(t, "memory", config.CacheStore)
	assert.Equal(t, "postgres", config.DBDialect)
	assert.Equal(t, 7200, gateConfig.IdempotencyTTLSeconds)
	assert.Equal(t, 100, gateConfig.DefaultClass.Limit)
}

// TestConfigLoader_ValidationErrors testa as validações do ambiente
func TestConfigLoader_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "cache store desconhecido", key: "CACHE_STORE", value: "etcd"},
		{name: "dialeto desconhecido", key: "DB_DIALECT", value: "oracle"},
		{name: "TTL não numérico", key: "IDEMPOTENCY_TTL", value: "abc"},
		{name: "TTL não positivo", key: "IDEMPOTENCY_TTL", value: "0"},
		{name: "placeholder não positivo", key: "IDEMPOTENCY_PLACEHOLDER_TTL", value: "-5"},
		{name: "redis db fora da faixa", key: "REDIS_DB", value: "99"},
		{name: "janela default zero", key: "DEFAULT_CLASS_WINDOW", value: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv("LIMITS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))
			t.Setenv("BREAKERS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))
			t.Setenv(tt.key, tt.value)

			loader := NewConfigLoader()
			_, err := loader.LoadConfig()
			assert.Error(t, err)
		})
	}
}
