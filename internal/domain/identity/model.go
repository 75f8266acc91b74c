package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/whiskr/whiskr/internal/domain/clinic"
)

const (
	UserActive   = "active"
	UserDisabled = "disabled"
)

type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	AccountRole  string    `db:"account_role" json:"account_role"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Device is a login device seen at a clinic, unique per
// (clinic, fingerprint). UserID tracks the most recent user on it.
type Device struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	ClinicID    uuid.UUID `db:"clinic_id" json:"clinic_id"`
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	UserAgent   string    `db:"user_agent" json:"user_agent"`
	LastSeenAt  time.Time `db:"last_seen_at" json:"last_seen_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// RefreshToken is the stored side of an opaque refresh token; only the
// sha256 of the raw value is kept. The row id doubles as the session id
// carried in access token claims, and the clinic columns preserve the
// active clinic across rotations.
type RefreshToken struct {
	ID         uuid.UUID  `db:"id"`
	UserID     uuid.UUID  `db:"user_id"`
	TokenHash  string     `db:"token_hash"`
	ClinicID   *uuid.UUID `db:"clinic_id"`
	ClinicRole string     `db:"clinic_role"`
	ExpiresAt  time.Time  `db:"expires_at"`
	RevokedAt  *time.Time `db:"revoked_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Session is the resolved view behind GET /api/session: who the caller
// is, where they can work, and where they are working right now.
type Session struct {
	User               *User                    `json:"user"`
	Memberships        []*clinic.UserMembership `json:"memberships"`
	ActiveClinicID     uuid.UUID                `json:"active_clinic_id"`
	ClinicRole         string                   `json:"clinic_role,omitempty"`
	ViewAs             bool                     `json:"view_as"`
	SubscriptionStatus string                   `json:"subscription_status,omitempty"`
	TrialEndsAt        *time.Time               `json:"trial_ends_at,omitempty"`
}
