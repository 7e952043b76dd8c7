package repositories

import (
	"context"
	"time"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"
	"micstream/pkg/cache"
)

const (
	recordingCachePrefix = "recording:"
	recordingListKey     = "recordings:list"
)

// CachedRecordingRepository is a read-through cache in front of a remote
// catalog. Save invalidates the listing.
type CachedRecordingRepository struct {
	base      ports.RecordingRepository
	summaries *cache.Cache[*domain.RecordingSummary]
	lists     *cache.Cache[[]*domain.RecordingSummary]
}

func NewCachedRecordingRepository(base ports.RecordingRepository, ttl time.Duration) *CachedRecordingRepository {
	return &CachedRecordingRepository{
		base:      base,
		summaries: cache.New[*domain.RecordingSummary](ttl, nil),
		lists:     cache.New[[]*domain.RecordingSummary](ttl, nil),
	}
}

func (r *CachedRecordingRepository) Save(ctx context.Context, summary *domain.RecordingSummary) error {
	if err := r.base.Save(ctx, summary); err != nil {
		return err
	}
	r.summaries.Set(recordingCachePrefix+string(summary.ID), summary)
	r.lists.Delete(recordingListKey)
	return nil
}

func (r *CachedRecordingRepository) GetByID(ctx context.Context, id domain.RecordingID) (*domain.RecordingSummary, error) {
	return r.summaries.GetOrSet(ctx, recordingCachePrefix+string(id), func(ctx context.Context) (*domain.RecordingSummary, error) {
		return r.base.GetByID(ctx, id)
	})
}

func (r *CachedRecordingRepository) List(ctx context.Context) ([]*domain.RecordingSummary, error) {
	return r.lists.GetOrSet(ctx, recordingListKey, r.base.List)
}

// Close stops the cache sweepers.
func (r *CachedRecordingRepository) Close() {
	r.summaries.Stop()
	r.lists.Stop()
}
