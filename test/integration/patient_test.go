package integration

import (
	"errors"
	"testing"
	"time"

	"github.com/whiskr/whiskr/internal/domain/consult"
	"github.com/whiskr/whiskr/internal/domain/patient"
)

func TestPatientLifecycle(t *testing.T) {
	e := newEnv(t)
	cl := newClinic(t, e, "Lifecycle Clinic")
	ctx := scopedCtx(t, cl)

	breed := "Maine Coon"
	weight := 6.4
	chip := "985112003456789"
	dob := time.Date(2019, 3, 14, 0, 0, 0, 0, time.UTC)
	p := &patient.Patient{
		Name:        "Mochi",
		Species:     "cat",
		Breed:       &breed,
		DateOfBirth: &dob,
		WeightKG:    &weight,
		MicrochipID: &chip,
		OwnerName:   "Dana Whitfield",
	}
	if err := e.patients.CreatePatient(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := e.patients.GetPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Mochi" || got.Species != "cat" || got.Status != patient.StatusActive {
		t.Fatalf("unexpected patient: %+v", got)
	}
	if got.Breed == nil || *got.Breed != breed {
		t.Fatalf("breed not persisted: %v", got.Breed)
	}
	if got.WeightKG == nil || *got.WeightKG != weight {
		t.Fatalf("weight not persisted: %v", got.WeightKG)
	}
	if got.MicrochipID == nil || *got.MicrochipID != chip {
		t.Fatalf("microchip not persisted: %v", got.MicrochipID)
	}
	if got.DateOfBirth == nil || !got.DateOfBirth.Equal(dob) {
		t.Fatalf("date of birth not persisted: %v", got.DateOfBirth)
	}

	got.Status = patient.StatusDeceased
	notes := "passed away peacefully"
	got.Notes = &notes
	if err := e.patients.UpdatePatient(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, err := e.patients.GetPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if updated.Status != patient.StatusDeceased || updated.Notes == nil || *updated.Notes != notes {
		t.Fatalf("update not persisted: %+v", updated)
	}

	if err := e.patients.DeletePatient(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.patients.GetPatient(ctx, p.ID); err == nil {
		t.Fatal("expected get after delete to fail")
	}
}

func TestPatientDelete_BlockedByConsults(t *testing.T) {
	e := newEnv(t)
	cl := newClinic(t, e, "Guard Clinic")
	ctx := scopedCtx(t, cl)

	p := newPatient(t, e, ctx, "Rocky", "dog")
	c := &consult.Consult{PatientID: p.ID, Subjective: "Annual wellness exam."}
	if err := e.consults.CreateConsult(ctx, c); err != nil {
		t.Fatalf("create consult: %v", err)
	}

	err := e.patients.DeletePatient(ctx, p.ID)
	if !errors.Is(err, patient.ErrHasConsults) {
		t.Fatalf("expected ErrHasConsults, got %v", err)
	}
	if _, err := e.patients.GetPatient(ctx, p.ID); err != nil {
		t.Fatalf("patient should survive the refused delete: %v", err)
	}
}

func TestPatientSearch(t *testing.T) {
	e := newEnv(t)
	cl := newClinic(t, e, "Search Clinic")
	ctx := scopedCtx(t, cl)

	newPatient(t, e, ctx, "Luna", "cat")
	newPatient(t, e, ctx, "Lucky", "dog")
	p := &patient.Patient{Name: "Biscuit", Species: "dog", OwnerName: "Priya Raman"}
	if err := e.patients.CreatePatient(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	dogs, total, err := e.patients.SearchPatients(ctx, map[string]string{"species": "dog"}, 20, 0)
	if err != nil {
		t.Fatalf("search by species: %v", err)
	}
	if total != 2 || len(dogs) != 2 {
		t.Fatalf("expected 2 dogs, got %d (total %d)", len(dogs), total)
	}

	byName, total, err := e.patients.SearchPatients(ctx, map[string]string{"name": "Lu"}, 20, 0)
	if err != nil {
		t.Fatalf("search by name: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected name prefix to match Luna and Lucky, got %d", total)
	}
	for _, got := range byName {
		if got.Name != "Luna" && got.Name != "Lucky" {
			t.Fatalf("unexpected match %q", got.Name)
		}
	}

	byOwner, total, err := e.patients.SearchPatients(ctx, map[string]string{"q": "Priya"}, 20, 0)
	if err != nil {
		t.Fatalf("free text search: %v", err)
	}
	if total != 1 || byOwner[0].Name != "Biscuit" {
		t.Fatalf("expected Biscuit by owner, got total %d", total)
	}

	page, total, err := e.patients.SearchPatients(ctx, nil, 2, 2)
	if err != nil {
		t.Fatalf("paged search: %v", err)
	}
	if total != 3 || len(page) != 1 {
		t.Fatalf("expected page of 1 from total 3, got %d (total %d)", len(page), total)
	}
}
