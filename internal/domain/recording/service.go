package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/whiskr/whiskr/internal/domain/consult"
	"github.com/whiskr/whiskr/internal/platform/auth"
	"github.com/whiskr/whiskr/internal/platform/blobstore"
	"github.com/whiskr/whiskr/internal/platform/db"
	"github.com/whiskr/whiskr/internal/platform/transcribe"
)

// ErrTooShort rejects a stop whose accumulated audio is below
// MinRecordingBytes. Such recordings are never sent for transcription.
var ErrTooShort = errors.New("recording too short")

// Consults is the slice of the consult service the recording pipeline
// needs: a consult to record against and a home for the transcript.
type Consults interface {
	GetConsult(ctx context.Context, id uuid.UUID) (*consult.Consult, error)
	SaveTranscript(ctx context.Context, consultID uuid.UUID, content string, durationSeconds *int) (*consult.Transcript, error)
}

type Service struct {
	store    *Store
	consults Consults
	blobs    blobstore.Store
	trans    transcribe.Transcriber
	minBytes int64
}

func NewService(store *Store, consults Consults, blobs blobstore.Store, trans transcribe.Transcriber) *Service {
	return &Service{store: store, consults: consults, blobs: blobs, trans: trans, minBytes: MinRecordingBytes}
}

// SetMinBytes overrides the shortest recording Stop will accept.
func (s *Service) SetMinBytes(n int64) {
	if n > 0 {
		s.minBytes = n
	}
}

// Start opens a session against a draft consult.
func (s *Service) Start(ctx context.Context, consultID uuid.UUID, mimeType string) (*Session, error) {
	c, err := s.consults.GetConsult(ctx, consultID)
	if err != nil {
		return nil, fmt.Errorf("consult not found: %w", err)
	}
	if c.Finalized() {
		return nil, consult.ErrFinalized
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	var createdBy uuid.UUID
	if uid, err := uuid.Parse(auth.UserIDFromContext(ctx)); err == nil {
		createdBy = uid
	}
	return s.store.Open(consultID, db.ClinicFromContext(ctx), createdBy, mimeType), nil
}

// Append adds one uploaded chunk and returns the running byte total.
func (s *Service) Append(id uuid.UUID, chunk []byte) (int64, error) {
	if len(chunk) == 0 {
		return 0, fmt.Errorf("empty chunk")
	}
	return s.store.Append(id, chunk)
}

// Stop closes the session, transcribes the assembled audio, and persists
// the transcript. The session is released on every path; the staged audio
// blob survives only a transcription failure, so the text can be recovered
// later without re-recording.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) (*consult.Transcript, error) {
	sess, err := s.store.Close(id)
	if err != nil {
		return nil, err
	}
	defer s.store.Remove(id)

	if sess.TotalBytes < s.minBytes {
		return nil, ErrTooShort
	}

	audio := sess.assemble()
	blobKey := "recordings/" + sess.ID.String()
	if _, err := s.blobs.Put(ctx, blobKey, sess.MimeType, bytes.NewReader(audio)); err != nil {
		return nil, fmt.Errorf("stage audio: %w", err)
	}

	text, err := s.trans.Transcribe(ctx, sess.MimeType, audio)
	if err != nil {
		// The blob stays for a retry path that does not need the session.
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	duration := int(time.Since(sess.StartedAt).Seconds())
	tr, err := s.consults.SaveTranscript(ctx, sess.ConsultID, text, &duration)
	if err != nil {
		return nil, err
	}

	_ = s.blobs.Delete(ctx, blobKey)
	return tr, nil
}

// Cancel discards the session without persisting anything.
func (s *Service) Cancel(id uuid.UUID) error {
	if !s.store.Remove(id) {
		return ErrSessionNotFound
	}
	return nil
}
