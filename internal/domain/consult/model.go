package consult

import (
	"time"

	"github.com/google/uuid"
)

// Consult statuses. A consult is editable while draft and locked for good
// once finalized.
const (
	StatusDraft     = "draft"
	StatusFinalized = "finalized"
)

// Report types accepted by Generate. A SOAP report lands in the four note
// fields; wellness and procedure reports land in AltReports under their
// type key.
const (
	ReportSOAP      = "soap"
	ReportWellness  = "wellness"
	ReportProcedure = "procedure"
)

// Consult is one consultation visit for a patient.
type Consult struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	PatientID     uuid.UUID         `db:"patient_id" json:"patient_id"`
	Status        string            `db:"status" json:"status"`
	VisitType     string            `db:"visit_type" json:"visit_type"`
	Vitals        string            `db:"vitals" json:"vitals"`
	Subjective    string            `db:"subjective" json:"subjective"`
	Objective     string            `db:"objective" json:"objective"`
	Assessment    string            `db:"assessment" json:"assessment"`
	Plan          string            `db:"plan" json:"plan"`
	AltReports    map[string]string `db:"alt_reports" json:"alt_reports"`
	Differentials []string          `db:"differentials" json:"differentials"`
	ProcedureName string            `db:"procedure_name" json:"procedure_name"`
	Anesthesia    string            `db:"anesthesia" json:"anesthesia"`
	CreatedBy     uuid.UUID         `db:"created_by" json:"created_by"`
	FinalizedAt   *time.Time        `db:"finalized_at" json:"finalized_at,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// Finalized reports whether the consult is locked against edits.
func (c *Consult) Finalized() bool {
	return c.Status == StatusFinalized
}

// Attachment is a file stored against a consult. The bytes live in the
// blobstore under BlobKey; this row carries the metadata.
type Attachment struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ConsultID   uuid.UUID `db:"consult_id" json:"consult_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	BlobKey     string    `db:"blob_key" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Transcript is the text derived from a recording session. The audio is
// never retained; the transcript is the durable artifact.
type Transcript struct {
	ID              uuid.UUID `db:"id" json:"id"`
	ConsultID       uuid.UUID `db:"consult_id" json:"consult_id"`
	Content         string    `db:"content" json:"content"`
	DurationSeconds *int      `db:"duration_seconds" json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
