// Package documents stores uploaded diagnostic and lab files and runs AI
// analysis over them. Bytes live in the blobstore under the documents/
// prefix; the rows here carry metadata and the stored summary.
package documents

import (
	"time"

	"github.com/google/uuid"
)

// MaxDocumentBytes caps a single upload. The blobstore allows larger blobs;
// documents stay within what the analysis model accepts inline.
const MaxDocumentBytes = 20 * 1024 * 1024

type Document struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	ConsultID   *uuid.UUID `db:"consult_id" json:"consult_id,omitempty"`
	FileName    string     `db:"file_name" json:"file_name"`
	ContentType string     `db:"content_type" json:"content_type"`
	SizeBytes   int64      `db:"size_bytes" json:"size_bytes"`
	BlobKey     string     `db:"blob_key" json:"-"`
	Summary     *string    `db:"summary" json:"summary,omitempty"`
	AnalyzedAt  *time.Time `db:"analyzed_at" json:"analyzed_at,omitempty"`
	UploadedBy  uuid.UUID  `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Analyzed reports whether a summary has been generated for this document.
func (d *Document) Analyzed() bool { return d.AnalyzedAt != nil }
