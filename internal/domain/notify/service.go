package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whiskr/whiskr/internal/platform/auth"
	"github.com/whiskr/whiskr/internal/platform/db"
	"github.com/whiskr/whiskr/internal/platform/realtime"
)

var ErrNotificationNotFound = errors.New("notification not found")

type Service struct {
	repo   Repository
	events realtime.Publisher
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SetPublisher enables realtime change hints for new notifications.
func (s *Service) SetPublisher(p realtime.Publisher) {
	s.events = p
}

// Notify persists a notification for a user. Other services call this
// through their Notifier ports after their own writes succeed.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, kind, title, body string, data map[string]string) error {
	if userID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return fmt.Errorf("kind is required")
	}
	n := &Notification{UserID: userID, Kind: kind, Title: title, Body: body, Data: data}
	if n.Data == nil {
		n.Data = map[string]string{}
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	s.publish(ctx, realtime.ActionInsert, n.ID)
	return nil
}

// List returns the calling user's notifications, newest first.
func (s *Service) List(ctx context.Context, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	uid, err := currentUser(ctx)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, uid, unreadOnly, limit, offset)
}

// MarkRead acknowledges one of the calling user's notifications. Marking an
// already read notification is a no-op.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	uid, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.repo.GetByID(ctx, id)
	if err != nil || n.UserID != uid {
		// Someone else's notifications look like they do not exist.
		return nil, ErrNotificationNotFound
	}
	if n.Read() {
		return n, nil
	}
	now := time.Now().UTC()
	if err := s.repo.MarkRead(ctx, id, now); err != nil {
		return nil, err
	}
	n.ReadAt = &now
	s.publish(ctx, realtime.ActionUpdate, id)
	return n, nil
}

// MarkAllRead acknowledges every unread notification for the calling user
// and returns how many were marked.
func (s *Service) MarkAllRead(ctx context.Context) (int, error) {
	uid, err := currentUser(ctx)
	if err != nil {
		return 0, err
	}
	marked, err := s.repo.MarkAllRead(ctx, uid, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		s.publish(ctx, realtime.ActionUpdate, uid)
	}
	return marked, nil
}

func currentUser(ctx context.Context) (uuid.UUID, error) {
	uid, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, fmt.Errorf("no authenticated user")
	}
	return uid, nil
}

func (s *Service) publish(ctx context.Context, action string, id uuid.UUID) {
	if s.events == nil {
		return
	}
	clinicID := db.ClinicFromContext(ctx)
	if clinicID == uuid.Nil {
		return
	}
	_ = s.events.Publish(ctx, clinicID, realtime.Event{Table: "notifications", Action: action, ID: id.String()})
}
