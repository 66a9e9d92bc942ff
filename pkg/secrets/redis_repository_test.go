package secrets

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisRepo(t *testing.T) *RedisSecretRepository {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		client.Close()
	})
	return NewRedisSecretRepository(client)
}

func TestRedisSecretRepository_PutAndGet(t *testing.T) {
	repo := setupRedisRepo(t)
	ctx := context.Background()

	record := testRecord()

	_, err := repo.Get(ctx, record.Key())
	assert.ErrorIs(t, err, ErrRecordNotFound)

	require.NoError(t, repo.Put(ctx, record))

	got, err := repo.Get(ctx, record.Key())
	require.NoError(t, err)
	assert.Equal(t, record.PendingSecret, got.PendingSecret)
	assert.False(t, got.Enabled)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRedisSecretRepository_Upsert(t *testing.T) {
	repo := setupRedisRepo(t)
	ctx := context.Background()

	record := testRecord()
	require.NoError(t, repo.Put(ctx, record))

	stored, err := repo.Get(ctx, record.Key())
	require.NoError(t, err)

	stored.Secret = stored.PendingSecret
	stored.PendingSecret = ""
	stored.Enabled = true
	stored.LastUsedStep = 58282382
	require.NoError(t, repo.Put(ctx, stored))

	got, err := repo.Get(ctx, record.Key())
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Empty(t, got.PendingSecret)
	assert.Equal(t, int64(58282382), got.LastUsedStep)
	assert.Equal(t, stored.CreatedAt.Unix(), got.CreatedAt.Unix())
}

func TestRedisSecretRepository_Delete(t *testing.T) {
	repo := setupRedisRepo(t)
	ctx := context.Background()

	record := testRecord()
	require.NoError(t, repo.Put(ctx, record))

	require.NoError(t, repo.Delete(ctx, record.Key()))

	_, err := repo.Get(ctx, record.Key())
	assert.ErrorIs(t, err, ErrRecordNotFound)

	err = repo.Delete(ctx, record.Key())
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRedisSecretRepository_KeyIsolation(t *testing.T) {
	repo := setupRedisRepo(t)
	ctx := context.Background()

	accountID := uuid.New().String()
	first := SecretRecord{AccountID: accountID, Provider: "backend", Secret: "SECRETONEONEONE1", Enabled: true}
	second := SecretRecord{AccountID: accountID, Provider: "frontend", PendingSecret: "SECRETTWOTWOTWO2"}

	require.NoError(t, repo.Put(ctx, first))
	require.NoError(t, repo.Put(ctx, second))

	require.NoError(t, repo.Delete(ctx, first.Key()))

	got, err := repo.Get(ctx, second.Key())
	require.NoError(t, err)
	assert.Equal(t, "SECRETTWOTWOTWO2", got.PendingSecret)
}
