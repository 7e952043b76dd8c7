package memory

import (
	"context"
	"sort"
	"sync"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"
)

type MemoryRecordingRepository struct {
	recordings map[domain.RecordingID]domain.RecordingSummary
	mu         sync.RWMutex
}

func NewMemoryRecordingRepository() ports.RecordingRepository {
	return &MemoryRecordingRepository{
		recordings: make(map[domain.RecordingID]domain.RecordingSummary),
	}
}

func (r *MemoryRecordingRepository) Save(ctx context.Context, summary *domain.RecordingSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recordings[summary.ID] = *summary
	return nil
}

func (r *MemoryRecordingRepository) GetByID(ctx context.Context, id domain.RecordingID) (*domain.RecordingSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary, exists := r.recordings[id]
	if !exists {
		return nil, domain.ErrRecordingNotFound
	}
	return &summary, nil
}

// List returns recordings oldest first.
func (r *MemoryRecordingRepository) List(ctx context.Context) ([]*domain.RecordingSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.RecordingSummary, 0, len(r.recordings))
	for _, summary := range r.recordings {
		s := summary
		result = append(result, &s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StoppedAt.Before(result[j].StoppedAt)
	})
	return result, nil
}
