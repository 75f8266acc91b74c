package consult

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/whiskr/whiskr/internal/domain/patient"
	"github.com/whiskr/whiskr/internal/platform/ai"
	"github.com/whiskr/whiskr/internal/platform/auth"
	"github.com/whiskr/whiskr/internal/platform/blobstore"
	"github.com/whiskr/whiskr/internal/platform/db"
	"github.com/whiskr/whiskr/internal/platform/noteparse"
	"github.com/whiskr/whiskr/internal/platform/realtime"
)

// ErrFinalized refuses any write against a finalized consult. Finalized
// consults cannot be edited, regenerated, or deleted.
var ErrFinalized = errors.New("consult is finalized")

// PatientDirectory is the slice of the patient service the consult
// workflow needs.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// Notifier delivers workflow notifications to clinic staff.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, body string, data map[string]string) error
}

type Service struct {
	repo     Repository
	patients PatientDirectory
	blobs    blobstore.Store
	gen      ai.Generator
	events   realtime.Publisher
	notifier Notifier
}

func NewService(repo Repository, patients PatientDirectory, blobs blobstore.Store, gen ai.Generator) *Service {
	return &Service{repo: repo, patients: patients, blobs: blobs, gen: gen}
}

// SetPublisher enables realtime change hints for consult and transcript
// writes.
func (s *Service) SetPublisher(p realtime.Publisher) {
	s.events = p
}

// SetNotifier enables notifications for transcript and report events.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

var validVisitTypes = map[string]bool{
	noteparse.VisitWellness:     true,
	noteparse.VisitIllness:      true,
	noteparse.VisitProcedure:    true,
	noteparse.VisitEmergency:    true,
	noteparse.VisitRecheck:      true,
	noteparse.VisitUnclassified: true,
}

func (s *Service) CreateConsult(ctx context.Context, c *Consult) error {
	if c.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if _, err := s.patients.GetPatient(ctx, c.PatientID); err != nil {
		return fmt.Errorf("patient not found: %w", err)
	}
	if c.VisitType == "" {
		c.VisitType = noteparse.VisitUnclassified
	}
	if !validVisitTypes[c.VisitType] {
		return fmt.Errorf("invalid visit type: %s", c.VisitType)
	}

	c.Status = StatusDraft
	c.FinalizedAt = nil
	if c.CreatedBy == uuid.Nil {
		if uid, err := uuid.Parse(auth.UserIDFromContext(ctx)); err == nil {
			c.CreatedBy = uid
		}
	}
	normalize(c)

	if err := s.repo.Create(ctx, c); err != nil {
		return err
	}
	s.publish(ctx, "consults", realtime.ActionInsert, c.ID)
	return nil
}

func (s *Service) GetConsult(ctx context.Context, id uuid.UUID) (*Consult, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateConsult(ctx context.Context, c *Consult) error {
	existing, err := s.repo.GetByID(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("consult not found: %w", err)
	}
	if existing.Finalized() {
		return ErrFinalized
	}

	if c.VisitType == "" {
		c.VisitType = noteparse.VisitUnclassified
	}
	if !validVisitTypes[c.VisitType] {
		return fmt.Errorf("invalid visit type: %s", c.VisitType)
	}

	// Edits never move a consult between patients or change its lifecycle.
	c.PatientID = existing.PatientID
	c.Status = existing.Status
	c.CreatedBy = existing.CreatedBy
	c.FinalizedAt = existing.FinalizedAt
	c.CreatedAt = existing.CreatedAt
	normalize(c)

	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}
	s.publish(ctx, "consults", realtime.ActionUpdate, c.ID)
	return nil
}

func (s *Service) FinalizeConsult(ctx context.Context, id uuid.UUID) (*Consult, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("consult not found: %w", err)
	}
	if c.Finalized() {
		return nil, ErrFinalized
	}

	now := time.Now().UTC()
	c.Status = StatusFinalized
	c.FinalizedAt = &now
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.publish(ctx, "consults", realtime.ActionUpdate, c.ID)
	return c, nil
}

// DeleteConsult removes a draft consult and everything hanging off it.
// Attachment blobs go first so a failed delete can be retried without
// orphaning storage.
func (s *Service) DeleteConsult(ctx context.Context, id uuid.UUID) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("consult not found: %w", err)
	}
	if c.Finalized() {
		return ErrFinalized
	}

	attachments, err := s.repo.ListAttachments(ctx, id)
	if err != nil {
		return err
	}
	for _, a := range attachments {
		if err := s.blobs.Delete(ctx, a.BlobKey); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			return fmt.Errorf("delete attachment blob: %w", err)
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, "consults", realtime.ActionDelete, id)
	return nil
}

func (s *Service) SearchConsults(ctx context.Context, params map[string]string, limit, offset int) ([]*Consult, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

func (s *Service) AddAttachment(ctx context.Context, consultID uuid.UUID, fileName, contentType string, content io.Reader) (*Attachment, error) {
	c, err := s.repo.GetByID(ctx, consultID)
	if err != nil {
		return nil, fmt.Errorf("consult not found: %w", err)
	}
	if c.Finalized() {
		return nil, ErrFinalized
	}
	if fileName == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	a := &Attachment{
		ID:          uuid.New(),
		ConsultID:   consultID,
		FileName:    fileName,
		ContentType: contentType,
	}
	a.BlobKey = "attachments/" + a.ID.String()

	size, err := s.blobs.Put(ctx, a.BlobKey, contentType, content)
	if err != nil {
		return nil, err
	}
	a.SizeBytes = size

	if err := s.repo.AddAttachment(ctx, a); err != nil {
		_ = s.blobs.Delete(ctx, a.BlobKey)
		return nil, err
	}
	return a, nil
}

func (s *Service) ListAttachments(ctx context.Context, consultID uuid.UUID) ([]*Attachment, error) {
	return s.repo.ListAttachments(ctx, consultID)
}

// OpenAttachment returns the attachment row and a reader over its bytes.
// The caller closes the reader.
func (s *Service) OpenAttachment(ctx context.Context, id uuid.UUID) (*Attachment, io.ReadCloser, error) {
	a, err := s.repo.GetAttachment(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("attachment not found: %w", err)
	}
	rc, _, err := s.blobs.Get(ctx, a.BlobKey)
	if err != nil {
		return nil, nil, err
	}
	return a, rc, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.GetAttachment(ctx, id)
	if err != nil {
		return fmt.Errorf("attachment not found: %w", err)
	}
	c, err := s.repo.GetByID(ctx, a.ConsultID)
	if err != nil {
		return err
	}
	if c.Finalized() {
		return ErrFinalized
	}

	if err := s.blobs.Delete(ctx, a.BlobKey); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		return err
	}
	return s.repo.DeleteAttachment(ctx, id)
}

// SaveTranscript persists transcription output against a consult. The
// recording pipeline calls this after a successful transcription.
func (s *Service) SaveTranscript(ctx context.Context, consultID uuid.UUID, content string, durationSeconds *int) (*Transcript, error) {
	c, err := s.repo.GetByID(ctx, consultID)
	if err != nil {
		return nil, fmt.Errorf("consult not found: %w", err)
	}
	if c.Finalized() {
		return nil, ErrFinalized
	}
	if content == "" {
		return nil, fmt.Errorf("transcript content is required")
	}

	t := &Transcript{ConsultID: consultID, Content: content, DurationSeconds: durationSeconds}
	if err := s.repo.AddTranscript(ctx, t); err != nil {
		return nil, err
	}

	s.publish(ctx, "transcripts", realtime.ActionInsert, t.ID)
	s.notify(ctx, c.CreatedBy, "transcript_ready", "Transcript ready",
		"A recording transcript is ready for review.",
		map[string]string{"consult_id": consultID.String()})
	return t, nil
}

func (s *Service) ListTranscripts(ctx context.Context, consultID uuid.UUID) ([]*Transcript, error) {
	return s.repo.ListTranscripts(ctx, consultID)
}

// LatestTranscript returns the newest transcript for a consult, or nil when
// none has been recorded yet.
func (s *Service) LatestTranscript(ctx context.Context, consultID uuid.UUID) (*Transcript, error) {
	return s.repo.LatestTranscript(ctx, consultID)
}

// normalize keeps JSON and array columns non-null so scans round-trip.
func normalize(c *Consult) {
	if c.AltReports == nil {
		c.AltReports = map[string]string{}
	}
	if c.Differentials == nil {
		c.Differentials = []string{}
	}
}

func (s *Service) publish(ctx context.Context, table, action string, id uuid.UUID) {
	if s.events == nil {
		return
	}
	clinicID := db.ClinicFromContext(ctx)
	if clinicID == uuid.Nil {
		return
	}
	_ = s.events.Publish(ctx, clinicID, realtime.Event{Table: table, Action: action, ID: id.String()})
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, kind, title, body string, data map[string]string) {
	if s.notifier == nil || userID == uuid.Nil {
		return
	}
	_ = s.notifier.Notify(ctx, userID, kind, title, body, data)
}
