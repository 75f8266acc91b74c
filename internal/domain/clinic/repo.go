package clinic

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, cl *Clinic) error
	GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	GetBySlug(ctx context.Context, slug string) (*Clinic, error)
	Update(ctx context.Context, cl *Clinic) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Clinic, int, error)

	AddMembership(ctx context.Context, m *Membership) error
	GetMembership(ctx context.Context, userID, clinicID uuid.UUID) (*Membership, error)
	GetMembershipByID(ctx context.Context, id uuid.UUID) (*Membership, error)
	ListMembers(ctx context.Context, clinicID uuid.UUID) ([]*Member, error)
	ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]*UserMembership, error)
	UpdateMembershipRole(ctx context.Context, id uuid.UUID, role string) error
	RemoveMembership(ctx context.Context, id uuid.UUID) error
	CountRole(ctx context.Context, clinicID uuid.UUID, role string) (int, error)
	ClearDefault(ctx context.Context, userID uuid.UUID) error
	SetDefault(ctx context.Context, id uuid.UUID) error
}
