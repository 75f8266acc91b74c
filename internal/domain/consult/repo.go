package consult

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence contract for consults and their children.
type Repository interface {
	Create(ctx context.Context, c *Consult) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consult, error)
	Update(ctx context.Context, c *Consult) error
	// Delete removes the consult row. Child rows (attachments, transcripts,
	// assistant threads and their messages) go with it through foreign keys.
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Consult, int, error)

	// AddAttachment stores the row as given; the caller assigns the ID
	// because the blob key is derived from it before the insert.
	AddAttachment(ctx context.Context, a *Attachment) error
	GetAttachment(ctx context.Context, id uuid.UUID) (*Attachment, error)
	ListAttachments(ctx context.Context, consultID uuid.UUID) ([]*Attachment, error)
	DeleteAttachment(ctx context.Context, id uuid.UUID) error

	AddTranscript(ctx context.Context, t *Transcript) error
	ListTranscripts(ctx context.Context, consultID uuid.UUID) ([]*Transcript, error)
	// LatestTranscript returns nil without error when the consult has no
	// transcripts yet.
	LatestTranscript(ctx context.Context, consultID uuid.UUID) (*Transcript, error)
}
