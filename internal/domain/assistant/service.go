package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/whiskr/whiskr/internal/domain/consult"
	"github.com/whiskr/whiskr/internal/domain/patient"
	"github.com/whiskr/whiskr/internal/platform/ai"
	"github.com/whiskr/whiskr/internal/platform/auth"
)

var ErrThreadNotFound = errors.New("thread not found")

// Consults supplies the case context a bound thread draws on.
type Consults interface {
	GetConsult(ctx context.Context, id uuid.UUID) (*consult.Consult, error)
	LatestTranscript(ctx context.Context, consultID uuid.UUID) (*consult.Transcript, error)
}

type Patients interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Service struct {
	repo     Repository
	consults Consults
	patients Patients
	gen      ai.Generator
}

func NewService(repo Repository, consults Consults, patients Patients, gen ai.Generator) *Service {
	return &Service{repo: repo, consults: consults, patients: patients, gen: gen}
}

var validModes = map[string]bool{
	ModeInitial:      true,
	ModeDifferential: true,
	ModePlan:         true,
	ModeTreatment:    true,
	ModeFollowup:     true,
}

func (s *Service) CreateThread(ctx context.Context, t *Thread) error {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		t.Title = "New conversation"
	}
	if t.ConsultID != nil {
		if _, err := s.consults.GetConsult(ctx, *t.ConsultID); err != nil {
			return fmt.Errorf("consult not found: %w", err)
		}
	}
	if t.CreatedBy == uuid.Nil {
		if id, err := uuid.Parse(auth.UserIDFromContext(ctx)); err == nil {
			t.CreatedBy = id
		}
	}
	return s.repo.CreateThread(ctx, t)
}

func (s *Service) GetThread(ctx context.Context, id uuid.UUID) (*Thread, error) {
	t, err := s.repo.GetThread(ctx, id)
	if err != nil {
		return nil, ErrThreadNotFound
	}
	return t, nil
}

func (s *Service) SearchThreads(ctx context.Context, params map[string]string, limit, offset int) ([]*Thread, int, error) {
	return s.repo.SearchThreads(ctx, params, limit, offset)
}

func (s *Service) DeleteThread(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetThread(ctx, id); err != nil {
		return ErrThreadNotFound
	}
	return s.repo.DeleteThread(ctx, id)
}

func (s *Service) ListMessages(ctx context.Context, threadID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if _, err := s.repo.GetThread(ctx, threadID); err != nil {
		return nil, 0, ErrThreadNotFound
	}
	return s.repo.ListMessages(ctx, threadID, limit, offset)
}

// Ask sends a question to Atlas and returns the reply. The user message and
// the reply are stored only after Atlas answers, so a failed ask leaves no
// trace and can simply be retried. When the question carries a consult and
// the thread has none yet, the thread is bound to it.
func (s *Service) Ask(ctx context.Context, threadID uuid.UUID, consultID *uuid.UUID, mode, content string) (*Message, error) {
	if mode == "" {
		mode = ModeFollowup
	}
	if !validModes[mode] {
		return nil, fmt.Errorf("invalid mode: %s", mode)
	}
	content = strings.TrimSpace(content)
	if content == "" && (mode == ModePlan || mode == ModeFollowup) {
		return nil, fmt.Errorf("content is required for %s questions", mode)
	}

	t, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, ErrThreadNotFound
	}

	// An explicitly named consult wins over the thread's own binding.
	effective := t.ConsultID
	if consultID != nil && *consultID != uuid.Nil {
		effective = consultID
	}

	system := atlasSystemPrompt
	transcription := ""
	var con *consult.Consult
	if effective != nil {
		con, err = s.consults.GetConsult(ctx, *effective)
		if err != nil {
			return nil, fmt.Errorf("consult not found: %w", err)
		}
		p, err := s.patients.GetPatient(ctx, con.PatientID)
		if err != nil {
			return nil, fmt.Errorf("patient not found: %w", err)
		}
		system += patientContext(p)
		if tr, err := s.consults.LatestTranscript(ctx, con.ID); err != nil {
			return nil, err
		} else if tr != nil {
			transcription = tr.Content
		}
	}

	question := displayQuestion(mode, content)
	prompt := buildPrompt(mode, question, transcription)

	history, err := s.repo.RecentMessages(ctx, threadID, historyDepth)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		// RecentMessages is newest first; the conversation reads oldest first.
		reverse(history)
		prompt = historyContext(history) + "\n\nCurrent question:\n" + prompt
	}

	res, err := s.gen.Generate(ctx, ai.Request{System: system, Prompt: prompt})
	if err != nil {
		return nil, err
	}

	userMsg := &Message{ThreadID: threadID, Role: RoleUser, Mode: mode, Content: question}
	if err := s.repo.AddMessage(ctx, userMsg); err != nil {
		return nil, err
	}
	reply := &Message{ThreadID: threadID, Role: RoleAssistant, Mode: mode, Content: res.Text}
	if err := s.repo.AddMessage(ctx, reply); err != nil {
		return nil, err
	}

	if con != nil && t.ConsultID == nil {
		t.ConsultID = &con.ID
		if err := s.repo.UpdateThread(ctx, t); err != nil {
			return nil, err
		}
	}
	return reply, nil
}

func reverse(msgs []*Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
