package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// List returns a user's notifications newest first, optionally only the
	// unread ones.
	List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) error
	// MarkAllRead acknowledges every unread notification for a user and
	// returns how many it touched.
	MarkAllRead(ctx context.Context, userID uuid.UUID, readAt time.Time) (int, error)
}
