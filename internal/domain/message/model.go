// Package message implements team messaging: per-clinic pools and the
// messages posted into them.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Pool kinds. General pools are open channels, consult pools hang off a
// consult, direct pools carry an explicit member list.
const (
	PoolGeneral = "general"
	PoolConsult = "consult"
	PoolDirect  = "direct"
)

type Pool struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	Kind      string      `db:"kind" json:"kind"`
	ConsultID *uuid.UUID  `db:"consult_id" json:"consult_id,omitempty"`
	MemberIDs []uuid.UUID `db:"member_ids" json:"member_ids"`
	CreatedBy uuid.UUID   `db:"created_by" json:"created_by"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// Message rows are kept after deletion with the body blanked, so clients
// can render a tombstone in place.
type Message struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PoolID    uuid.UUID  `db:"pool_id" json:"pool_id"`
	SenderID  uuid.UUID  `db:"sender_id" json:"sender_id"`
	Body      string     `db:"body" json:"body"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	EditedAt  *time.Time `db:"edited_at" json:"edited_at,omitempty"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

func (m *Message) Deleted() bool { return m.DeletedAt != nil }
