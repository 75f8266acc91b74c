// Package notify persists per-user notifications raised by the consult,
// recording, and messaging workflows, and mirrors each one as a realtime
// hint so open clients refresh their badge counts.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// Notification kinds raised by the workflows.
const (
	KindTranscriptReady = "transcript_ready"
	KindReportGenerated = "report_generated"
	KindMessagePosted   = "message_posted"
)

type Notification struct {
	ID        uuid.UUID         `db:"id" json:"id"`
	UserID    uuid.UUID         `db:"user_id" json:"user_id"`
	Kind      string            `db:"kind" json:"kind"`
	Title     string            `db:"title" json:"title"`
	Body      string            `db:"body" json:"body"`
	Data      map[string]string `db:"data" json:"data,omitempty"`
	ReadAt    *time.Time        `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}

// Read reports whether the notification has been acknowledged.
func (n *Notification) Read() bool { return n.ReadAt != nil }
