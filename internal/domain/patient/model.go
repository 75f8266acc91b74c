package patient

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusDeceased = "deceased"
)

type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Species     string     `db:"species" json:"species"`
	Breed       *string    `db:"breed" json:"breed,omitempty"`
	Sex         *string    `db:"sex" json:"sex,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	WeightKG    *float64   `db:"weight_kg" json:"weight_kg,omitempty"`
	MicrochipID *string    `db:"microchip_id" json:"microchip_id,omitempty"`
	OwnerName   string     `db:"owner_name" json:"owner_name"`
	OwnerEmail  *string    `db:"owner_email" json:"owner_email,omitempty"`
	OwnerPhone  *string    `db:"owner_phone" json:"owner_phone,omitempty"`
	Notes       *string    `db:"notes" json:"notes,omitempty"`
	Status      string     `db:"status" json:"status"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Age renders the patient's age at the given time as "3y 4m" (months only
// under a year), or "" when the date of birth is unknown.
func (p *Patient) Age(now time.Time) string {
	if p.DateOfBirth == nil || p.DateOfBirth.After(now) {
		return ""
	}
	years := now.Year() - p.DateOfBirth.Year()
	months := int(now.Month()) - int(p.DateOfBirth.Month())
	if now.Day() < p.DateOfBirth.Day() {
		months--
	}
	if months < 0 {
		years--
		months += 12
	}
	if years < 1 {
		return fmt.Sprintf("%dm", months)
	}
	return fmt.Sprintf("%dy %dm", years, months)
}
