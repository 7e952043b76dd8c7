package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"micstream/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(ClientOptions{Address: mr.Addr(), PoolSize: 4}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisRecordingRepository_SaveGetList(t *testing.T) {
	client, _ := newTestClient(t)
	repo := NewRedisRecordingRepository(client)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	later := &domain.RecordingSummary{
		ID:        "rec-2",
		FilePath:  "recordings/recording-2.wav",
		StoppedAt: base.Add(time.Minute),
		Packets:   10,
		DataSize:  81920,
		Format:    domain.AudioFormat{SampleRate: 44100, Channels: 1, BitDepth: 16},
	}
	earlier := &domain.RecordingSummary{ID: "rec-1", FilePath: "recordings/recording-1.wav", StoppedAt: base}

	require.NoError(t, repo.Save(ctx, later))
	require.NoError(t, repo.Save(ctx, earlier))

	got, err := repo.GetByID(ctx, "rec-2")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Packets)
	assert.Equal(t, 44100, got.Format.SampleRate)
	assert.True(t, got.StoppedAt.Equal(later.StoppedAt))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.RecordingID("rec-1"), list[0].ID)
	assert.Equal(t, domain.RecordingID("rec-2"), list[1].ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRecordingNotFound)
}

func TestRedisRecordingRepository_ListEmpty(t *testing.T) {
	client, _ := newTestClient(t)
	list, err := NewRedisRecordingRepository(client).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMigrate_IndexesExistingRecordings(t *testing.T) {
	mr := miniredis.RunT(t)

	data, err := json.Marshal(domain.RecordingSummary{ID: "legacy", StoppedAt: time.Unix(1700000000, 0)})
	require.NoError(t, err)
	require.NoError(t, mr.Set(recordingKey("legacy"), string(data)))

	client, err := Connect(ClientOptions{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	defer client.Close()

	list, err := NewRedisRecordingRepository(client).List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.RecordingID("legacy"), list[0].ID)

	version, err := mr.Get(schemaVersionKey)
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(ClientOptions{Address: addr, ConnectTimeout: 200 * time.Millisecond}, nil)
	assert.Error(t, err)
}
