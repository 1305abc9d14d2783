package storage

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"reliability-gate/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisStore implementa a interface domain.CacheStore usando Redis
type RedisStore struct {
	client redis.Cmdable
	logger domain.Logger
}

// reserveScript executa prune + count + inserção condicional em uma única
// avaliação do lado do servidor, tornando admissão e registro indivisíveis.
// Scores são segundos Unix em ponto flutuante; retornos float viajam como
// string porque o Redis trunca números Lua para inteiro.
const reserveScript = `
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

	local count = redis.call('ZCARD', key)
	if count >= limit then
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		local score = 0
		if oldest[2] then
			score = oldest[2]
		end
		return {0, count, tostring(score)}
	end

	redis.call('ZADD', key, now, member)
	redis.call('EXPIRE', key, ttl)
	return {1, count + 1, tostring(now)}
`

// NewRedisStore cria uma nova instância do RedisStore
func NewRedisStore(host, port, password string, db int, logger domain.Logger) (*RedisStore, error) {
	// Configura cliente Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,

		// Configurações de performance
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	// Testa a conexão
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", map[string]interface{}{
		"host": host,
		"port": port,
		"db":   db,
	})

	return &RedisStore{
		client: rdb,
		logger: logger,
	}, nil
}

// NewRedisStoreWithClient cria um RedisStore sobre um cliente existente (testes)
func NewRedisStoreWithClient(client redis.Cmdable, logger domain.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// Get recupera o valor de uma chave
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()

	result, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			// Chave não existe
			r.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
			return "", false, nil
		}
		r.logStorageOperation("GET", key, false, time.Since(start).Seconds()*1000, err)
		return "", false, storeError("GET", key, err)
	}

	r.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
	return result, true, nil
}

// SetEx grava um valor com TTL
func (r *RedisStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logStorageOperation("SETEX", key, false, time.Since(start).Seconds()*1000, err)
		return storeError("SETEX", key, err)
	}

	r.logStorageOperation("SETEX", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Del remove uma chave
func (r *RedisStore) Del(ctx context.Context, key string) error {
	start := time.Now()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logStorageOperation("DEL", key, false, time.Since(start).Seconds()*1000, err)
		return storeError("DEL", key, err)
	}

	r.logStorageOperation("DEL", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// ZAdd insere um membro com score em um ordered set
func (r *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	start := time.Now()

	if err := r.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err(); err != nil {
		r.logStorageOperation("ZADD", key, false, time.Since(start).Seconds()*1000, err)
		return storeError("ZADD", key, err)
	}

	r.logStorageOperation("ZADD", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// ZRemRangeByScore remove membros com score em [min, max]
func (r *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	start := time.Now()

	if err := r.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err(); err != nil {
		r.logStorageOperation("ZREMRANGEBYSCORE", key, false, time.Since(start).Seconds()*1000, err)
		return storeError("ZREMRANGEBYSCORE", key, err)
	}

	r.logStorageOperation("ZREMRANGEBYSCORE", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// ZCard retorna a cardinalidade de um ordered set
func (r *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	start := time.Now()

	count, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		r.logStorageOperation("ZCARD", key, false, time.Since(start).Seconds()*1000, err)
		return 0, storeError("ZCARD", key, err)
	}

	r.logStorageOperation("ZCARD", key, true, time.Since(start).Seconds()*1000, nil)
	return count, nil
}

// ZRangeWithScores retorna membros ordenados por score no intervalo de índices
func (r *RedisStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]domain.ScoredMember, error) {
	begin := time.Now()

	results, err := r.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		r.logStorageOperation("ZRANGE", key, false, time.Since(begin).Seconds()*1000, err)
		return nil, storeError("ZRANGE", key, err)
	}

	members := make([]domain.ScoredMember, 0, len(results))
	for _, z := range results {
		members = append(members, domain.ScoredMember{
			Member: fmt.Sprint(z.Member),
			Score:  z.Score,
		})
	}

	r.logStorageOperation("ZRANGE", key, true, time.Since(begin).Seconds()*1000, nil)
	return members, nil
}

// Expire define/renova o TTL de uma chave
func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	start := time.Now()

	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		r.logStorageOperation("EXPIRE", key, false, time.Since(start).Seconds()*1000, err)
		return storeError("EXPIRE", key, err)
	}

	r.logStorageOperation("EXPIRE", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// ReserveSlot executa atomicamente prune + count + inserção condicional
// via script Lua avaliado pelo Redis
func (r *RedisStore) ReserveSlot(ctx context.Context, key string, now float64, windowSeconds, limit int, ttl time.Duration) (bool, int64, float64, error) {
	start := time.Now()

	member := fmt.Sprintf("%.6f:%s", now, uuid.New().String())

	result, err := r.client.Eval(ctx, reserveScript, []string{key},
		now, windowSeconds, limit, int(ttl.Seconds()), member).Result()
	if err != nil {
		r.logStorageOperation("RESERVE", key, false, time.Since(start).Seconds()*1000, err)
		return false, 0, 0, storeError("RESERVE", key, err)
	}

	// Parse do resultado {allowed, count, oldestScore}
	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 3 {
		err := fmt.Errorf("invalid reserve result for key %s", key)
		r.logStorageOperation("RESERVE", key, false, time.Since(start).Seconds()*1000, err)
		return false, 0, 0, err
	}

	allowedInt, err := strconv.ParseInt(fmt.Sprint(resultSlice[0]), 10, 64)
	if err != nil {
		r.logStorageOperation("RESERVE", key, false, time.Since(start).Seconds()*1000, err)
		return false, 0, 0, fmt.Errorf("invalid allowed flag in reserve result for key %s: %w", key, err)
	}

	count, err := strconv.ParseInt(fmt.Sprint(resultSlice[1]), 10, 64)
	if err != nil {
		r.logStorageOperation("RESERVE", key, false, time.Since(start).Seconds()*1000, err)
		return false, 0, 0, fmt.Errorf("invalid count in reserve result for key %s: %w", key, err)
	}

	oldest, err := strconv.ParseFloat(fmt.Sprint(resultSlice[2]), 64)
	if err != nil {
		r.logStorageOperation("RESERVE", key, false, time.Since(start).Seconds()*1000, err)
		return false, 0, 0, fmt.Errorf("invalid oldest score in reserve result for key %s: %w", key, err)
	}

	r.logStorageOperation("RESERVE", key, true, time.Since(start).Seconds()*1000, nil)
	return allowedInt == 1, count, oldest, nil
}

// Health verifica se o store está saudável
func (r *RedisStore) Health(ctx context.Context) error {
	start := time.Now()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logStorageOperation("HEALTH", "ping", false, time.Since(start).Seconds()*1000, err)
		return storeError("HEALTH", "ping", err)
	}

	r.logStorageOperation("HEALTH", "ping", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close fecha a conexão com o store
func (r *RedisStore) Close() error {
	if client, ok := r.client.(*redis.Client); ok {
		if err := client.Close(); err != nil {
			r.logger.Error("Failed to close Redis connection", err, nil)
			return err
		}
		r.logger.Info("Redis connection closed", nil)
	}
	return nil
}

// logStorageOperation registra operações de storage
func (r *RedisStore) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	if r.logger != nil {
		if success {
			r.logger.Debug("Storage operation completed", map[string]interface{}{
				"operation": operation,
				"key":       key,
				"latency":   latency,
			})
		} else {
			r.logger.Error("Storage operation failed", err, map[string]interface{}{
				"operation": operation,
				"key":       key,
				"latency":   latency,
			})
		}
	}
}

// storeError classifica falhas de comando como indisponibilidade de store,
// preservando a causa original na mensagem
func storeError(operation, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", domain.ErrStoreUnavailable, operation, key, err)
}

// formatScore converte um score float para a sintaxe de range do Redis
func formatScore(score float64) string {
	if math.IsInf(score, -1) {
		return "-inf"
	}
	if math.IsInf(score, 1) {
		return "+inf"
	}
	return strconv.FormatFloat(score, 'f', -1, 64)
}
