package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/whiskr/whiskr/internal/domain/consult"
	"github.com/whiskr/whiskr/internal/domain/patient"
	"github.com/whiskr/whiskr/internal/platform/ai"
	"github.com/whiskr/whiskr/internal/platform/auth"
)

type mockRepo struct {
	threads  map[uuid.UUID]*Thread
	messages []*Message
}

func newMockRepo() *mockRepo {
	return &mockRepo{threads: make(map[uuid.UUID]*Thread)}
}

func (m *mockRepo) CreateThread(_ context.Context, t *Thread) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.threads[t.ID] = &cp
	return nil
}

func (m *mockRepo) GetThread(_ context.Context, id uuid.UUID) (*Thread, error) {
	t, ok := m.threads[id]
	if !ok {
		return nil, errors.New("no rows in result set")
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepo) UpdateThread(_ context.Context, t *Thread) error {
	if _, ok := m.threads[t.ID]; !ok {
		return errors.New("no rows in result set")
	}
	t.UpdatedAt = time.Now()
	cp := *t
	m.threads[t.ID] = &cp
	return nil
}

func (m *mockRepo) DeleteThread(_ context.Context, id uuid.UUID) error {
	delete(m.threads, id)
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.ThreadID != id {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *mockRepo) SearchThreads(_ context.Context, params map[string]string, limit, offset int) ([]*Thread, int, error) {
	out := make([]*Thread, 0)
	for _, t := range m.threads {
		if v := params["consult"]; v != "" && (t.ConsultID == nil || t.ConsultID.String() != v) {
			continue
		}
		out = append(out, t)
	}
	return out, len(out), nil
}

func (m *mockRepo) AddMessage(_ context.Context, msg *Message) error {
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now()
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m *mockRepo) ListMessages(_ context.Context, threadID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	all := m.threadMessages(threadID)
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) RecentMessages(_ context.Context, threadID uuid.UUID, n int) ([]*Message, error) {
	all := m.threadMessages(threadID)
	out := make([]*Message, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *mockRepo) threadMessages(threadID uuid.UUID) []*Message {
	out := make([]*Message, 0)
	for _, msg := range m.messages {
		if msg.ThreadID == threadID {
			out = append(out, msg)
		}
	}
	return out
}

type mockConsults struct {
	consults    map[uuid.UUID]*consult.Consult
	transcripts map[uuid.UUID][]*consult.Transcript
}

func (m *mockConsults) GetConsult(_ context.Context, id uuid.UUID) (*consult.Consult, error) {
	c, ok := m.consults[id]
	if !ok {
		return nil, errors.New("no rows in result set")
	}
	return c, nil
}

func (m *mockConsults) LatestTranscript(_ context.Context, consultID uuid.UUID) (*consult.Transcript, error) {
	ts := m.transcripts[consultID]
	if len(ts) == 0 {
		return nil, nil
	}
	return ts[len(ts)-1], nil
}

func (m *mockConsults) add(patientID uuid.UUID) *consult.Consult {
	c := &consult.Consult{ID: uuid.New(), PatientID: patientID, Status: consult.StatusDraft}
	m.consults[c.ID] = c
	return c
}

func (m *mockConsults) addTranscript(consultID uuid.UUID, content string) {
	m.transcripts[consultID] = append(m.transcripts[consultID],
		&consult.Transcript{ID: uuid.New(), ConsultID: consultID, Content: content})
}

type mockPatients struct {
	patients map[uuid.UUID]*patient.Patient
}

func (m *mockPatients) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, errors.New("no rows in result set")
	}
	return p, nil
}

func (m *mockPatients) add(name, species string) *patient.Patient {
	p := &patient.Patient{ID: uuid.New(), Name: name, Species: species, OwnerName: "Jordan Wells"}
	m.patients[p.ID] = p
	return p
}

type mockGen struct {
	text string
	err  error
	reqs []ai.Request
}

func (g *mockGen) Generate(_ context.Context, req ai.Request) (*ai.Result, error) {
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return nil, g.err
	}
	return &ai.Result{Text: g.text, Model: "test-model"}, nil
}

type testDeps struct {
	repo     *mockRepo
	consults *mockConsults
	patients *mockPatients
	gen      *mockGen
}

func newTestService() (*Service, *testDeps) {
	d := &testDeps{
		repo: newMockRepo(),
		consults: &mockConsults{
			consults:    make(map[uuid.UUID]*consult.Consult),
			transcripts: make(map[uuid.UUID][]*consult.Transcript),
		},
		patients: &mockPatients{patients: make(map[uuid.UUID]*patient.Patient)},
		gen:      &mockGen{text: "Case Summary:\nIntermittent cough, otherwise stable."},
	}
	return NewService(d.repo, d.consults, d.patients, d.gen), d
}

func userCtx(userID uuid.UUID) context.Context {
	return context.WithValue(context.Background(), auth.UserIDKey, userID.String())
}

func boundThread(t *testing.T, svc *Service, d *testDeps) (*Thread, *consult.Consult) {
	t.Helper()
	p := d.patients.add("Maple", "canine")
	con := d.consults.add(p.ID)
	th := &Thread{ConsultID: &con.ID}
	if err := svc.CreateThread(userCtx(uuid.New()), th); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	return th, con
}

func TestCreateThread(t *testing.T) {
	svc, _ := newTestService()
	userID := uuid.New()

	th := &Thread{}
	if err := svc.CreateThread(userCtx(userID), th); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if th.Title != "New conversation" {
		t.Errorf("Title = %q", th.Title)
	}
	if th.CreatedBy != userID {
		t.Errorf("CreatedBy = %s, want %s", th.CreatedBy, userID)
	}
	if _, err := svc.GetThread(context.Background(), th.ID); err != nil {
		t.Errorf("GetThread: %v", err)
	}
}

func TestCreateThread_UnknownConsult(t *testing.T) {
	svc, _ := newTestService()
	missing := uuid.New()

	err := svc.CreateThread(userCtx(uuid.New()), &Thread{ConsultID: &missing})
	if err == nil {
		t.Fatal("expected error for unknown consult")
	}
}

func TestAsk_Initial(t *testing.T) {
	svc, d := newTestService()
	th := &Thread{}
	if err := svc.CreateThread(userCtx(uuid.New()), th); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	reply, err := svc.Ask(context.Background(), th.ID, nil, ModeInitial, "")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.Role != RoleAssistant || reply.Mode != ModeInitial {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Content != d.gen.text {
		t.Errorf("Content = %q", reply.Content)
	}

	if len(d.gen.reqs) != 1 {
		t.Fatalf("generate calls = %d", len(d.gen.reqs))
	}
	req := d.gen.reqs[0]
	if req.System != atlasSystemPrompt {
		t.Error("unbound thread should carry no patient context")
	}
	if !strings.Contains(req.Prompt, "No transcription available") {
		t.Errorf("prompt missing placeholder: %q", req.Prompt)
	}

	msgs, total, err := svc.ListMessages(context.Background(), th.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if total != 2 || len(msgs) != 2 {
		t.Fatalf("messages = %d", total)
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != questionInitial {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant {
		t.Errorf("reply message = %+v", msgs[1])
	}
}

func TestAsk_PatientContext(t *testing.T) {
	svc, d := newTestService()
	th, con := boundThread(t, svc, d)
	d.consults.addTranscript(con.ID, "Owner reports three days of coughing after boarding.")

	if _, err := svc.Ask(context.Background(), th.ID, nil, ModeInitial, ""); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	req := d.gen.reqs[0]
	if !strings.Contains(req.System, "Patient Information:") ||
		!strings.Contains(req.System, "• Name: Maple") ||
		!strings.Contains(req.System, "• Species: canine") {
		t.Errorf("system prompt missing patient block: %q", req.System)
	}
	if !strings.Contains(req.Prompt, "Owner reports three days of coughing after boarding.") {
		t.Errorf("prompt missing transcription: %q", req.Prompt)
	}
}

func TestAsk_FollowupSnippet(t *testing.T) {
	svc, d := newTestService()
	th, con := boundThread(t, svc, d)
	long := strings.Repeat("x", transcriptContextLimit+50)
	d.consults.addTranscript(con.ID, long)

	if _, err := svc.Ask(context.Background(), th.ID, nil, ModeFollowup, "Is kennel cough likely?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	prompt := d.gen.reqs[0].Prompt
	want := "[Context from recording: " + strings.Repeat("x", transcriptContextLimit) + "...]\n\nIs kennel cough likely?"
	if prompt != want {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestAsk_History(t *testing.T) {
	svc, d := newTestService()
	th := &Thread{}
	if err := svc.CreateThread(userCtx(uuid.New()), th); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	// Three asks leave six stored messages; only the last four may reach
	// the next prompt.
	for i := 0; i < 3; i++ {
		d.gen.text = fmt.Sprintf("answer %d", i)
		if _, err := svc.Ask(context.Background(), th.ID, nil, ModeFollowup, fmt.Sprintf("question %d", i)); err != nil {
			t.Fatalf("Ask %d: %v", i, err)
		}
	}

	d.gen.reqs = nil
	long := strings.Repeat("y", historyCharLimit+20)
	if _, err := svc.Ask(context.Background(), th.ID, nil, ModeFollowup, long); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	prompt := d.gen.reqs[0].Prompt
	if !strings.Contains(prompt, "Previous conversation:") {
		t.Fatalf("prompt missing history: %q", prompt)
	}
	if strings.Contains(prompt, "question 0") || strings.Contains(prompt, "answer 0") {
		t.Error("history should keep only the last four messages")
	}
	for _, line := range []string{"User: question 1", "Atlas: answer 1", "User: question 2", "Atlas: answer 2"} {
		if !strings.Contains(prompt, line) {
			t.Errorf("history missing %q", line)
		}
	}
	if strings.Index(prompt, "question 1") > strings.Index(prompt, "answer 2") {
		t.Error("history should read oldest first")
	}
	if !strings.Contains(prompt, "\n\nCurrent question:\n"+long) {
		t.Error("current question should follow the history block")
	}

	// The long question itself is only truncated once it becomes history.
	d.gen.reqs = nil
	if _, err := svc.Ask(context.Background(), th.ID, nil, ModeFollowup, "and now?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	truncated := strings.Repeat("y", historyCharLimit) + "..."
	if !strings.Contains(d.gen.reqs[0].Prompt, "User: "+truncated) {
		t.Error("history entries should truncate at the character limit")
	}
}

func TestAsk_ModeQuestions(t *testing.T) {
	svc, d := newTestService()
	th, _ := boundThread(t, svc, d)

	if _, err := svc.Ask(context.Background(), th.ID, nil, ModeDifferential, ""); err != nil {
		t.Fatalf("differential: %v", err)
	}
	if _, err := svc.Ask(context.Background(), th.ID, nil, ModeTreatment, ""); err != nil {
		t.Fatalf("treatment: %v", err)
	}
	if _, err := svc.Ask(context.Background(), th.ID, nil, ModePlan, "Canine infectious tracheobronchitis"); err != nil {
		t.Fatalf("plan: %v", err)
	}

	msgs, _, err := svc.ListMessages(context.Background(), th.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if msgs[0].Content != questionDifferential {
		t.Errorf("differential question = %q", msgs[0].Content)
	}
	if msgs[2].Content != questionTreatment {
		t.Errorf("treatment question = %q", msgs[2].Content)
	}
	if !strings.Contains(msgs[4].Content, "Canine infectious tracheobronchitis") {
		t.Errorf("plan question = %q", msgs[4].Content)
	}
}

func TestAsk_PlanRequiresContent(t *testing.T) {
	svc, d := newTestService()
	th, _ := boundThread(t, svc, d)

	if _, err := svc.Ask(context.Background(), th.ID, nil, ModePlan, "  "); err == nil {
		t.Fatal("expected error for plan without a differential")
	}
	if _, err := svc.Ask(context.Background(), th.ID, nil, ModeFollowup, ""); err == nil {
		t.Fatal("expected error for followup without content")
	}
}

func TestAsk_InvalidMode(t *testing.T) {
	svc, d := newTestService()
	th, _ := boundThread(t, svc, d)

	if _, err := svc.Ask(context.Background(), th.ID, nil, "prognosis", "outlook?"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestAsk_DefaultsToFollowup(t *testing.T) {
	svc, d := newTestService()
	th, _ := boundThread(t, svc, d)

	reply, err := svc.Ask(context.Background(), th.ID, nil, "", "What dose of maropitant?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.Mode != ModeFollowup {
		t.Errorf("Mode = %q", reply.Mode)
	}
}

func TestAsk_LatchesConsult(t *testing.T) {
	svc, d := newTestService()
	p := d.patients.add("Biscuit", "feline")
	con := d.consults.add(p.ID)

	th := &Thread{}
	if err := svc.CreateThread(userCtx(uuid.New()), th); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	if _, err := svc.Ask(context.Background(), th.ID, &con.ID, ModeInitial, ""); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	got, err := svc.GetThread(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.ConsultID == nil || *got.ConsultID != con.ID {
		t.Errorf("thread should be bound to the consult, got %v", got.ConsultID)
	}
}

func TestAsk_UnknownThread(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Ask(context.Background(), uuid.New(), nil, ModeInitial, "")
	if !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("err = %v, want ErrThreadNotFound", err)
	}
}

func TestAsk_AIUnavailable(t *testing.T) {
	svc, d := newTestService()
	th, _ := boundThread(t, svc, d)
	d.gen.err = fmt.Errorf("%w: all models exhausted", ai.ErrUnavailable)

	_, err := svc.Ask(context.Background(), th.ID, nil, ModeInitial, "")
	if !errors.Is(err, ai.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}

	// A failed ask stores nothing, so the retry starts clean.
	_, total, err := svc.ListMessages(context.Background(), th.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if total != 0 {
		t.Errorf("messages = %d, want 0", total)
	}
}

func TestDeleteThread(t *testing.T) {
	svc, d := newTestService()
	th, _ := boundThread(t, svc, d)
	if _, err := svc.Ask(context.Background(), th.ID, nil, ModeInitial, ""); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if err := svc.DeleteThread(context.Background(), th.ID); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	if _, err := svc.GetThread(context.Background(), th.ID); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("thread should be gone, got %v", err)
	}
	if len(d.repo.messages) != 0 {
		t.Errorf("messages should cascade, %d left", len(d.repo.messages))
	}

	if err := svc.DeleteThread(context.Background(), th.ID); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("second delete = %v, want ErrThreadNotFound", err)
	}
}

func TestListMessages_UnknownThread(t *testing.T) {
	svc, _ := newTestService()

	_, _, err := svc.ListMessages(context.Background(), uuid.New(), 10, 0)
	if !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("err = %v, want ErrThreadNotFound", err)
	}
}
