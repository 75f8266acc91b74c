// Package assistant implements Atlas, the AI chat that answers clinical
// questions about a case. Threads group a conversation and may be bound to a
// consult, which gives Atlas the patient and the latest recording transcript
// as context.
package assistant

import (
	"time"

	"github.com/google/uuid"
)

// Conversation modes. Each mode maps to one of the response formats the
// Atlas persona defines; followup carries a free-form question.
const (
	ModeInitial      = "initial"
	ModeDifferential = "differential"
	ModePlan         = "plan"
	ModeTreatment    = "treatment"
	ModeFollowup     = "followup"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Thread struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Title     string     `db:"title" json:"title"`
	ConsultID *uuid.UUID `db:"consult_id" json:"consult_id,omitempty"`
	CreatedBy uuid.UUID  `db:"created_by" json:"created_by"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

type Message struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ThreadID  uuid.UUID `db:"thread_id" json:"thread_id"`
	Role      string    `db:"role" json:"role"`
	Mode      string    `db:"mode" json:"mode"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
