package message

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

var (
	ErrPoolNotFound    = errors.New("pool not found")
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotSender refuses edits and deletes of another user's message.
	ErrNotSender      = errors.New("not the message sender")
	ErrMessageDeleted = errors.New("message is deleted")
)

// Notifier delivers message notifications to pool members.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, body string, data map[string]string) error
}

type Service struct {
	repo     Repository
	events   realtime.Publisher
	notifier Notifier
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SetPublisher enables realtime change hints for message writes.
func (s *Service) SetPublisher(p realtime.Publisher) {
	s.events = p
}

// SetNotifier enables notifications for direct pool messages.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

var validKinds = map[string]bool{
	PoolGeneral: true,
	PoolConsult: true,
	PoolDirect:  true,
}

func (s *Service) CreatePool(ctx context.Context, p *Pool) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Kind == "" {
		p.Kind = PoolGeneral
	}
	if !validKinds[p.Kind] {
		return fmt.Errorf("invalid pool kind: %s", p.Kind)
	}
	if p.Kind == PoolConsult && p.ConsultID == nil {
		return fmt.Errorf("consult pools need a consult_id")
	}
	if p.Kind != PoolConsult {
		p.ConsultID = nil
	}
	if p.CreatedBy == uuid.Nil {
		if uid, err := uuid.Parse(auth.UserIDFromContext(ctx)); err == nil {
			p.CreatedBy = uid
		}
	}

	if p.Kind == PoolDirect {
		if len(p.MemberIDs) == 0 {
			return fmt.Errorf("direct pools need members")
		}
		// The creator is always a member of their own direct pool.
		if !contains(p.MemberIDs, p.CreatedBy) && p.CreatedBy != uuid.Nil {
			p.MemberIDs = append(p.MemberIDs, p.CreatedBy)
		}
	} else {
		// Open pools carry no member list; the whole clinic belongs.
		p.MemberIDs = []uuid.UUID{}
	}
	if p.MemberIDs == nil {
		p.MemberIDs = []uuid.UUID{}
	}
	return s.repo.CreatePool(ctx, p)
}

func (s *Service) GetPool(ctx context.Context, id uuid.UUID) (*Pool, error) {
	p, err := s.repo.GetPool(ctx, id)
	if err != nil {
		return nil, ErrPoolNotFound
	}
	return p, nil
}

func (s *Service) SearchPools(ctx context.Context, params map[string]string, limit, offset int) ([]*Pool, int, error) {
	return s.repo.SearchPools(ctx, params, limit, offset)
}

func (s *Service) PostMessage(ctx context.Context, poolID uuid.UUID, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("body is required")
	}
	p, err := s.repo.GetPool(ctx, poolID)
	if err != nil {
		return nil, ErrPoolNotFound
	}

	m := &Message{PoolID: poolID, Body: body}
	if uid, err := uuid.Parse(auth.UserIDFromContext(ctx)); err == nil {
		m.SenderID = uid
	}
	if err := s.repo.AddMessage(ctx, m); err != nil {
		return nil, err
	}

	s.publish(ctx, realtime.ActionInsert, m.ID)
	if p.Kind == PoolDirect {
		for _, member := range p.MemberIDs {
			if member == m.SenderID {
				continue
			}
			s.notify(ctx, member, "message_posted", "New message",
				fmt.Sprintf("New message in %s.", p.Name),
				map[string]string{"pool_id": poolID.String(), "message_id": m.ID.String()})
		}
	}
	return m, nil
}

func (s *Service) ListMessages(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if _, err := s.repo.GetPool(ctx, poolID); err != nil {
		return nil, 0, ErrPoolNotFound
	}
	return s.repo.ListMessages(ctx, poolID, limit, offset)
}

func (s *Service) EditMessage(ctx context.Context, id uuid.UUID, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("body is required")
	}
	m, err := s.ownMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m.Body = body
	m.EditedAt = &now
	if err := s.repo.UpdateMessage(ctx, m); err != nil {
		return nil, err
	}
	s.publish(ctx, realtime.ActionUpdate, m.ID)
	return m, nil
}

// DeleteMessage blanks the body and marks the row deleted; the tombstone
// stays so conversations keep their shape.
func (s *Service) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	m, err := s.ownMessage(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	m.Body = ""
	m.DeletedAt = &now
	if err := s.repo.UpdateMessage(ctx, m); err != nil {
		return err
	}
	s.publish(ctx, realtime.ActionDelete, m.ID)
	return nil
}

// ownMessage loads a live message and checks the caller sent it.
func (s *Service) ownMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, ErrMessageNotFound
	}
	if m.Deleted() {
		return nil, ErrMessageDeleted
	}
	uid, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil || uid != m.SenderID {
		return nil, ErrNotSender
	}
	return m, nil
}

func (s *Service) publish(ctx context.Context, action string, id uuid.UUID) {
	if s.events == nil {
		return
	}
	clinicID := db.ClinicFromContext(ctx)
	if clinicID == uuid.Nil {
		return
	}
	_ = s.events.Publish(ctx, clinicID, realtime.Event{Table: "messages", Action: action, ID: id.String()})
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, kind, title, body string, data map[string]string) {
	if s.notifier == nil || userID == uuid.Nil {
		return
	}
	_ = s.notifier.Notify(ctx, userID, kind, title, body, data)
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
