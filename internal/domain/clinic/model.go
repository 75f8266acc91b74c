package clinic

import (
	"time"

	"github.com/google/uuid"
)

// Subscription statuses. Trialing clinics keep full access until their
// trial end passes; past_due and canceled clinics lose gated features.
const (
	SubTrialing = "trialing"
	SubActive   = "active"
	SubPastDue  = "past_due"
	SubCanceled = "canceled"
)

// Clinic maps to the shared.clinics table. Each clinic owns a dedicated
// Postgres schema holding its patient data.
type Clinic struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	Name               string     `db:"name" json:"name"`
	Slug               string     `db:"slug" json:"slug"`
	SchemaName         string     `db:"schema_name" json:"-"`
	Phone              *string    `db:"phone" json:"phone,omitempty"`
	Email              *string    `db:"email" json:"email,omitempty"`
	AddressLine1       *string    `db:"address_line1" json:"address_line1,omitempty"`
	City               *string    `db:"city" json:"city,omitempty"`
	Country            *string    `db:"country" json:"country,omitempty"`
	DeviceLimit        int        `db:"device_limit" json:"device_limit"`
	SubscriptionStatus string     `db:"subscription_status" json:"subscription_status"`
	TrialEndsAt        *time.Time `db:"trial_ends_at" json:"trial_ends_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// SubscriptionActive reports whether the clinic can use gated features
// (consult creation, AI generation). Trials count until their end date;
// a trial with no end date never lapses.
func (c *Clinic) SubscriptionActive(now time.Time) bool {
	switch c.SubscriptionStatus {
	case SubActive:
		return true
	case SubTrialing:
		return c.TrialEndsAt == nil || now.Before(*c.TrialEndsAt)
	}
	return false
}

// Membership links a user to a clinic with a clinic role. A user holds at
// most one membership per clinic and at most one default across clinics.
type Membership struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	ClinicID  uuid.UUID `db:"clinic_id" json:"clinic_id"`
	Role      string    `db:"role" json:"role"`
	IsDefault bool      `db:"is_default" json:"is_default"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UserMembership is a membership joined with its clinic, shaped for the
// session payload.
type UserMembership struct {
	Membership
	ClinicName string `json:"clinic_name"`
}

// Member is a membership joined with its user, shaped for the staff roster.
type Member struct {
	Membership
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}
