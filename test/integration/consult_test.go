package integration

import (
	"errors"
	"testing"

	"github.com/whiskr/whiskr/internal/domain/consult"
	"github.com/whiskr/whiskr/internal/platform/noteparse"
)

func TestConsultLifecycle(t *testing.T) {
	e := newEnv(t)
	cl := newClinic(t, e, "Consult Clinic")
	ctx := scopedCtx(t, cl)
	p := newPatient(t, e, ctx, "Pepper", "dog")

	c := &consult.Consult{
		PatientID:  p.ID,
		VisitType:  noteparse.VisitIllness,
		Subjective: "Owner reports two days of vomiting.",
		Vitals:     "T 102.1F, HR 96, RR 24, wt 18.0kg",
	}
	if err := e.consults.CreateConsult(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != consult.StatusDraft {
		t.Fatalf("new consult should be draft, got %q", c.Status)
	}
	if c.CreatedBy.String() != testUserID {
		t.Fatalf("created_by should come from the request user, got %s", c.CreatedBy)
	}

	c.Assessment = "Suspect dietary indiscretion."
	c.Plan = "Maropitant injection, bland diet for 3 days."
	c.Differentials = []string{"Gastroenteritis", "Foreign body"}
	if err := e.consults.UpdateConsult(ctx, c); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := e.consults.GetConsult(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Assessment != c.Assessment || len(got.Differentials) != 2 {
		t.Fatalf("update not persisted: %+v", got)
	}

	duration := 412
	tr, err := e.consults.SaveTranscript(ctx, c.ID, "Okay Pepper, let's take a look at you.", &duration)
	if err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	if tr.ID.String() == "" || tr.ConsultID != c.ID {
		t.Fatalf("unexpected transcript: %+v", tr)
	}
	latest, err := e.consults.LatestTranscript(ctx, c.ID)
	if err != nil {
		t.Fatalf("latest transcript: %v", err)
	}
	if latest == nil || latest.ID != tr.ID {
		t.Fatalf("latest transcript mismatch: %+v", latest)
	}

	fin, err := e.consults.FinalizeConsult(ctx, c.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if fin.Status != consult.StatusFinalized || fin.FinalizedAt == nil {
		t.Fatalf("finalize did not set status: %+v", fin)
	}

	if err := e.consults.UpdateConsult(ctx, got); !errors.Is(err, consult.ErrFinalized) {
		t.Fatalf("update after finalize: want ErrFinalized, got %v", err)
	}
	if _, err := e.consults.SaveTranscript(ctx, c.ID, "too late", nil); !errors.Is(err, consult.ErrFinalized) {
		t.Fatalf("transcript after finalize: want ErrFinalized, got %v", err)
	}
	if _, err := e.consults.FinalizeConsult(ctx, c.ID); !errors.Is(err, consult.ErrFinalized) {
		t.Fatalf("double finalize: want ErrFinalized, got %v", err)
	}
	if err := e.consults.DeleteConsult(ctx, c.ID); !errors.Is(err, consult.ErrFinalized) {
		t.Fatalf("delete finalized: want ErrFinalized, got %v", err)
	}
}

func TestConsultDelete_DraftCascades(t *testing.T) {
	e := newEnv(t)
	cl := newClinic(t, e, "Cascade Clinic")
	ctx := scopedCtx(t, cl)
	p := newPatient(t, e, ctx, "Willow", "cat")

	c := &consult.Consult{PatientID: p.ID, Subjective: "Limping on the right hind leg."}
	if err := e.consults.CreateConsult(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, content := range []string{"First pass dictation.", "Corrected dictation."} {
		if _, err := e.consults.SaveTranscript(ctx, c.ID, content, nil); err != nil {
			t.Fatalf("save transcript: %v", err)
		}
	}
	list, err := e.consults.ListTranscripts(ctx, c.ID)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 transcripts, got %d (%v)", len(list), err)
	}

	if err := e.consults.DeleteConsult(ctx, c.ID); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	if _, err := e.consults.GetConsult(ctx, c.ID); err == nil {
		t.Fatal("expected get after delete to fail")
	}
	list, err = e.consults.ListTranscripts(ctx, c.ID)
	if err != nil {
		t.Fatalf("list transcripts after delete: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("transcripts should cascade with the consult, got %d", len(list))
	}
}

func TestConsultSearch(t *testing.T) {
	e := newEnv(t)
	cl := newClinic(t, e, "Consult Search Clinic")
	ctx := scopedCtx(t, cl)
	dog := newPatient(t, e, ctx, "Bruno", "dog")
	cat := newPatient(t, e, ctx, "Smokey", "cat")

	first := &consult.Consult{PatientID: dog.ID, VisitType: noteparse.VisitIllness, Subjective: "Persistent cough for a week."}
	second := &consult.Consult{PatientID: dog.ID, VisitType: noteparse.VisitIllness, Subjective: "Recheck of the cough."}
	third := &consult.Consult{PatientID: cat.ID, VisitType: noteparse.VisitWellness, Subjective: "Annual checkup."}
	for _, c := range []*consult.Consult{first, second, third} {
		if err := e.consults.CreateConsult(ctx, c); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := e.consults.FinalizeConsult(ctx, first.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	drafts, total, err := e.consults.SearchConsults(ctx, map[string]string{"status": consult.StatusDraft}, 20, 0)
	if err != nil {
		t.Fatalf("search by status: %v", err)
	}
	if total != 2 || len(drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d (total %d)", len(drafts), total)
	}

	_, total, err = e.consults.SearchConsults(ctx, map[string]string{"patient": dog.ID.String()}, 20, 0)
	if err != nil {
		t.Fatalf("search by patient: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 consults for Bruno, got %d", total)
	}

	matches, total, err := e.consults.SearchConsults(ctx, map[string]string{"q": "cough"}, 20, 0)
	if err != nil {
		t.Fatalf("free text search: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 cough consults, got %d", total)
	}
	for _, m := range matches {
		if m.PatientID != dog.ID {
			t.Fatalf("free text match crossed patients: %+v", m)
		}
	}
}
