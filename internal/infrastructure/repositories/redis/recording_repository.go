package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"
	"micstream/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const (
	recordingKeyPrefix = "micstream:recording:"
	recordingIndexKey  = "micstream:recordings"
)

type RedisRecordingRepository struct {
	client *redis.Client
}

func NewRedisRecordingRepository(client *redis.Client) ports.RecordingRepository {
	return &RedisRecordingRepository{client: client}
}

func recordingKey(id domain.RecordingID) string {
	return recordingKeyPrefix + string(id)
}

func (r *RedisRecordingRepository) Save(ctx context.Context, summary *domain.RecordingSummary) error {
	ctx, span := tracing.TraceCatalogOperation(ctx, "save", "redis")
	defer span.End()

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal recording: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordingKey(summary.ID), data, 0)
		pipe.ZAdd(ctx, recordingIndexKey, redis.Z{
			Score:  float64(summary.StoppedAt.UnixMilli()),
			Member: string(summary.ID),
		})
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to save recording in Redis: %w", err)
	}
	return nil
}

func (r *RedisRecordingRepository) GetByID(ctx context.Context, id domain.RecordingID) (*domain.RecordingSummary, error) {
	data, err := r.client.Get(ctx, recordingKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording from Redis: %w", err)
	}

	var summary domain.RecordingSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recording: %w", err)
	}
	return &summary, nil
}

// List returns recordings oldest first.
func (r *RedisRecordingRepository) List(ctx context.Context) ([]*domain.RecordingSummary, error) {
	ctx, span := tracing.TraceCatalogOperation(ctx, "list", "redis")
	defer span.End()

	ids, err := r.client.ZRange(ctx, recordingIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.RecordingSummary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordingKey(domain.RecordingID(id))
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load recordings: %w", err)
	}

	result := make([]*domain.RecordingSummary, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			// index entry without data
			continue
		}
		var summary domain.RecordingSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			continue
		}
		result = append(result, &summary)
	}
	return result, nil
}
