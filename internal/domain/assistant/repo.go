package assistant

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateThread(ctx context.Context, t *Thread) error
	GetThread(ctx context.Context, id uuid.UUID) (*Thread, error)
	UpdateThread(ctx context.Context, t *Thread) error
	// DeleteThread removes the thread; messages go with it via foreign keys.
	DeleteThread(ctx context.Context, id uuid.UUID) error
	SearchThreads(ctx context.Context, params map[string]string, limit, offset int) ([]*Thread, int, error)

	// AddMessage stores a message and bumps the thread's updated_at so
	// recently active conversations sort first.
	AddMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, threadID uuid.UUID, limit, offset int) ([]*Message, int, error)
	// RecentMessages returns up to n messages newest first.
	RecentMessages(ctx context.Context, threadID uuid.UUID, n int) ([]*Message, error)
}
