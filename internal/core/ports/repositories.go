package ports

import (
	"context"

	"micstream/internal/core/domain"
)

type RecordingRepository interface {
	Save(ctx context.Context, summary *domain.RecordingSummary) error
	GetByID(ctx context.Context, id domain.RecordingID) (*domain.RecordingSummary, error)
	List(ctx context.Context) ([]*domain.RecordingSummary, error)
}
