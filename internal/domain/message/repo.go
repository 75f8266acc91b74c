package message

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreatePool(ctx context.Context, p *Pool) error
	GetPool(ctx context.Context, id uuid.UUID) (*Pool, error)
	SearchPools(ctx context.Context, params map[string]string, limit, offset int) ([]*Pool, int, error)

	AddMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	UpdateMessage(ctx context.Context, m *Message) error
	// ListMessages returns messages newest first; clients reverse for display.
	ListMessages(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]*Message, int, error)
}
