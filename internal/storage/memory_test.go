package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func createTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()

	store := NewMemoryStore(nil)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestMemoryStore_GetSetEx testa gravação e leitura com TTL
func TestMemoryStore_GetSetEx(t *testing.T) {
	store := createTestMemoryStore(t)
	ctx := context.Background()

	// Chave ausente
	value, found, err := store.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, value)

	// Gravação e leitura
	err = store.SetEx(ctx, "key-1", "value-1", time.Minute)
	assert.NoError(t, err)

	value, found, err = store.Get(ctx, "key-1")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value-1", value)
}

// TestMemoryStore_SetExExpiry testa a expiração lazy de valores
func TestMemoryStore_SetExExpiry(t *testing.T) {
	store := createTestMemoryStore(t)
	ctx := context.Background()

	err := store.SetEx(ctx, "short-lived", "value", 30*time.Millisecond)
	assert.NoError(t, err)

	_, found, _ := store.Get(ctx, "short-lived")
	assert.True(t, found)

	time.Sleep(50 * time.Millisecond)

	_, found, _ = store.Get(ctx, "short-lived")
	assert.False(t, found)
}

// TestMemoryStore_SetExZeroTTLExpiresImmediately testa TTL não positivo
func TestMemoryStore_SetExZeroTTLExpiresImmediately(t *testing.T) {
	store := createTestMemoryStore(t)
	ctx := context.Background()

	err := store.SetEx(ctx, "instant", "value", 0)
	assert.NoError(t, err)

	_, found, _ := store.Get(ctx, "instant")
	assert.False(t, found)
}

// TestMemoryStore_GetDoesNotDeleteConcurrentSetEx testa que a expiração lazy
// não apaga um valor recém-gravado por um SetEx concorrente
func TestMemoryStore_GetDoesNotDeleteConcurrentSetEx(t *testing.T) {
	store := createTestMemoryStore(t)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		key := "contested"

		// Semeia uma entrada já expirada para forçar o caminho de remoção lazy
		assert.NoError(t, store.SetEx(ctx, key, "stale", 0))

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			<-start
			_, _, _ = store.Get(ctx, key)
		}()
		go func() {
			defer wg.Done()
			<-start
			_ = store.SetEx(ctx, key, "fresh", time.Minute)
		}()

		close(start)
		wg.Wait()

		// O valor novo com TTL de um minuto precisa sobreviver ao Get
		value, found, err := store.Get(ctx, key)
		assert.NoError(t, err)
		assert.True(t, found, "fresh value was deleted by concurrent Get")
		assert.Equal(t, "fresh", value)
	}
}

// TestMemoryStore_OrderedSetOperations testa o ciclo ZAdd/ZCard/ZRange/ZRem
func TestMemoryStore_OrderedSetOperations(t *testing.T) {
	store := createTestMemoryStore(t)
	ctx := context.Background()

	key := "window:test"

	assert.NoError(t, store.ZAdd(ctx, key, 30.0, "member-c"))
	assert.NoError(t, store.ZAdd(ctx, key, 10.0, "member-a"))
	assert.NoError(t, store.ZAdd(ctx, key, 20.0, "member-b"))

	count, err := store.ZCard(ctx, key)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Membros saem ordenados por score crescente
	members, err := store.ZRangeWithScores(ctx, key, 0, -1)
	assert.NoError(t, err)
	assert.Len(t, members, 3)
	assert.Equal(t, "member-a", members[0].Member)
	assert.Equal(t, 10.0, members[0].Score)
	assert.Equal(t, "member-c", members[2].Member)

	// Primeiro membro apenas
	members, err = store.ZRangeWithScores(ctx, key, 0, 0)
	assert.NoError(t, err)
	assert.Len(t, members, 1)
	assert.Equal(t, "member-a", members[0].Member)

	// Remove os dois mais antigos por score
	assert.NoError(t, store.ZRemRangeByScore(ctx, key, 0, 20.0))

	count, err = store.ZCard(ctx, key)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// TestMemoryStore_ZAddUpdatesExistingMember testa a atualização de score
func TestMemoryStore_ZAddUpdatesExistingMember(t *testing.T) {
	store := createTestMemoryStore(t)
	ctx := context.Background()

	assert.NoError(t, store.ZAdd(ctx, "set", 10.0, "member"))
	assert.NoError(t, store.ZAdd(ctx, "set", 99.0, "member"))

	count, _ := store.ZCard(ctx, "set")
	assert.Equal(t, int64(1), count)

	members, _ := store.ZRangeWithScores(ctx, "set", 0, -1)
	assert.Equal(t, 99.0, members[0].Score)
}

// TestMemoryStore_ReserveSlot testa a reserva atômica de slot na janela
func TestMemoryStore_ReserveSlot(t *testing.T) {
	store := createTestMemoryStore(t)
	ctx := context.Background()

	key := "window:site-7"
	now := float64(time.Now().Unix())

	// Preenche até o limite
	for i := 1; i <= 3; i++ {
		allowed, count, _, err := store.ReserveSlot(ctx, key, now+float64(i), 300, 3, 6*time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, int64(i), count)
	}

	// Janela cheia: negado com o membro mais antigo reportado
	allowed, count, oldest, err := store.ReserveSlot(ctx, key, now+10, 300, 3, 6*time.Minute)
	assert.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(3), count)
	assert.Equal(t, now+1, oldest)

	// Fora da janela as admissões antigas saem e a reserva volta a passar
	later := now + 302
	allowed, count, _, err = store.ReserveSlot(ctx, key, later, 300, 3, 6*time.Minute)
	assert.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(1), count)
}

// TestMemoryStore_Del testa a remoção de valores e sets
func TestMemoryStore_Del(t *testing.T) {
	store := createTestMemoryStore(t)
	ctx := context.Background()

	assert.NoError(t, store.SetEx(ctx, "key", "value", time.Minute))
	assert.NoError(t, store.ZAdd(ctx, "key", 1.0, "member"))

	assert.NoError(t, store.Del(ctx, "key"))

	_, found, _ := store.Get(ctx, "key")
	assert.False(t, found)

	count, _ := store.ZCard(ctx, "key")
	assert.Equal(t, int64(0), count)
}

// TestMemoryStore_ExpireOrderedSet testa o TTL de um ordered set
func TestMemoryStore_ExpireOrderedSet(t *testing.T) {
	store := createTestMemoryStore(t)
	ctx := context.Background()

	assert.NoError(t, store.ZAdd(ctx, "set", 1.0, "member"))
	assert.NoError(t, store.Expire(ctx, "set", 30*time.Millisecond))

	time.Sleep(50 * time.Millisecond)

	count, err := store.ZCard(ctx, "set")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

// TestMemoryStore_HealthAndClose testa health check e fechamento idempotente
func TestMemoryStore_HealthAndClose(t *testing.T) {
	store := NewMemoryStore(nil)

	assert.NoError(t, store.Health(context.Background()))

	stats := store.GetStats()
	assert.Equal(t, "memory", stats["type"])

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
