package documents

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Document, int, error)
	// SetSummary stores the analysis output and stamps analyzed_at.
	SetSummary(ctx context.Context, id uuid.UUID, summary string, analyzedAt time.Time) error
}
