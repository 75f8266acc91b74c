package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whiskr/whiskr/internal/domain/patient"
	"github.com/whiskr/whiskr/internal/platform/ai"
	"github.com/whiskr/whiskr/internal/platform/auth"
	"github.com/whiskr/whiskr/internal/platform/blobstore"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	// ErrUnsupportedType refuses uploads the analysis pipeline cannot read.
	ErrUnsupportedType = errors.New("unsupported document type")
)

// allowedTypes is the upload allow-list. Everything here can be fed to the
// model either as text or as an inline attachment.
var allowedTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"text/plain":      true,
	"text/csv":        true,
}

const analysisSystem = `You are a veterinary document analyst. Summarize the clinical content of the supplied document for the treating team. State the document type, key findings, abnormal values, and anything that needs follow-up. Write short plain-text paragraphs without markdown.`

// PatientDirectory is the slice of the patient service uploads need.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Service struct {
	repo     Repository
	patients PatientDirectory
	blobs    blobstore.Store
	gen      ai.Generator
}

func NewService(repo Repository, patients PatientDirectory, blobs blobstore.Store, gen ai.Generator) *Service {
	return &Service{repo: repo, patients: patients, blobs: blobs, gen: gen}
}

// Upload stores the file bytes and the metadata row. The blob is removed
// again when the row insert fails.
func (s *Service) Upload(ctx context.Context, fileName, contentType string, patientID, consultID *uuid.UUID, content io.Reader) (*Document, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, fmt.Errorf("file name is required")
	}
	contentType = normalizeType(contentType)
	if !allowedTypes[contentType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if patientID != nil {
		if _, err := s.patients.GetPatient(ctx, *patientID); err != nil {
			return nil, fmt.Errorf("patient not found: %w", err)
		}
	}

	d := &Document{
		ID:          uuid.New(),
		PatientID:   patientID,
		ConsultID:   consultID,
		FileName:    fileName,
		ContentType: contentType,
	}
	d.BlobKey = "documents/" + d.ID.String()
	if uid, err := uuid.Parse(auth.UserIDFromContext(ctx)); err == nil {
		d.UploadedBy = uid
	}

	size, err := s.blobs.Put(ctx, d.BlobKey, contentType, content)
	if err != nil {
		return nil, err
	}
	if size > MaxDocumentBytes {
		_ = s.blobs.Delete(ctx, d.BlobKey)
		return nil, blobstore.ErrBlobTooLarge
	}
	d.SizeBytes = size

	if err := s.repo.Create(ctx, d); err != nil {
		_ = s.blobs.Delete(ctx, d.BlobKey)
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.load(ctx, id)
}

func (s *Service) SearchDocuments(ctx context.Context, params map[string]string, limit, offset int) ([]*Document, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// Open returns the document row and a reader over its bytes. The caller
// closes the reader.
func (s *Service) Open(ctx context.Context, id uuid.UUID) (*Document, io.ReadCloser, error) {
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := s.blobs.Get(ctx, d.BlobKey)
	if err != nil {
		return nil, nil, err
	}
	return d, rc, nil
}

func (s *Service) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	d, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, d.BlobKey); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// Analyze runs the model over the document content and stores the summary.
// Text documents go into the prompt; binary formats ride along inline.
// Re-analyzing replaces the previous summary.
func (s *Service) Analyze(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	rc, _, err := s.blobs.Get(ctx, d.BlobKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, MaxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}

	req := ai.Request{System: analysisSystem}
	if strings.HasPrefix(d.ContentType, "text/") {
		req.Prompt = fmt.Sprintf("Summarize this veterinary document (%s):\n\n%s", d.FileName, string(data))
	} else {
		req.Prompt = fmt.Sprintf("Summarize this veterinary document (%s).", d.FileName)
		req.Media = &ai.Media{MIMEType: d.ContentType, Data: data}
	}

	res, err := s.gen.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	summary := strings.TrimSpace(res.Text)
	if summary == "" {
		return nil, fmt.Errorf("%w: empty analysis", ai.ErrUnavailable)
	}

	now := time.Now().UTC()
	if err := s.repo.SetSummary(ctx, id, summary, now); err != nil {
		return nil, err
	}
	d.Summary = &summary
	d.AnalyzedAt = &now
	return d, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, ErrDocumentNotFound
	}
	return d, nil
}

// normalizeType strips content-type parameters such as charset.
func normalizeType(ct string) string {
	ct = strings.TrimSpace(strings.ToLower(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
