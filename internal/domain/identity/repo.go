package identity

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error

	// Refresh tokens
	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id uuid.UUID) error
	RevokeUserTokens(ctx context.Context, userID uuid.UUID) error

	// Devices
	UpsertDevice(ctx context.Context, d *Device) error
	GetDevice(ctx context.Context, clinicID uuid.UUID, fingerprint string) (*Device, error)
	CountDevices(ctx context.Context, clinicID uuid.UUID) (int, error)
	ListDevices(ctx context.Context, clinicID uuid.UUID) ([]*Device, error)
	DeleteDevice(ctx context.Context, clinicID, id uuid.UUID) error
}
