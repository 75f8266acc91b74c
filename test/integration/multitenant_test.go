package integration

import (
	"context"
	"testing"

	"github.com/whiskr/whiskr/internal/domain/consult"
)

// Every clinic lives in its own schema. Records created in one clinic
// must be invisible from a context scoped to another.
func TestClinicIsolation(t *testing.T) {
	e := newEnv(t)
	north := newClinic(t, e, "Northside Vet")
	south := newClinic(t, e, "Southside Vet")
	northCtx := scopedCtx(t, north)
	southCtx := scopedCtx(t, south)

	luna := newPatient(t, e, northCtx, "Luna", "cat")
	newPatient(t, e, southCtx, "Luna", "dog")

	results, total, err := e.patients.SearchPatients(northCtx, map[string]string{"name": "Luna"}, 20, 0)
	if err != nil {
		t.Fatalf("search north: %v", err)
	}
	if total != 1 || results[0].Species != "cat" {
		t.Fatalf("north should only see its own Luna, got %d results", total)
	}

	results, total, err = e.patients.SearchPatients(southCtx, map[string]string{"name": "Luna"}, 20, 0)
	if err != nil {
		t.Fatalf("search south: %v", err)
	}
	if total != 1 || results[0].Species != "dog" {
		t.Fatalf("south should only see its own Luna, got %d results", total)
	}

	if _, err := e.patients.GetPatient(southCtx, luna.ID); err == nil {
		t.Fatal("south must not resolve a north patient id")
	}

	c := &consult.Consult{PatientID: luna.ID, Subjective: "Cross clinic attempt."}
	if err := e.consults.CreateConsult(southCtx, c); err == nil {
		t.Fatal("consults must not attach to another clinic's patient")
	}
}

// Deleting a clinic removes its row without disturbing other tenants.
func TestClinicDelete_LeavesOthersIntact(t *testing.T) {
	e := newEnv(t)
	doomed := newClinic(t, e, "Closing Clinic")
	survivor := newClinic(t, e, "Open Clinic")

	doomedCtx := scopedCtx(t, doomed)
	newPatient(t, e, doomedCtx, "Ghost", "cat")

	survivorCtx := scopedCtx(t, survivor)
	kept := newPatient(t, e, survivorCtx, "Alive", "dog")

	if err := e.clinics.DeleteClinic(context.Background(), doomed.ID); err != nil {
		t.Fatalf("delete clinic: %v", err)
	}
	if _, err := e.clinics.GetClinic(context.Background(), doomed.ID); err == nil {
		t.Fatal("deleted clinic should be gone")
	}

	got, err := e.patients.GetPatient(survivorCtx, kept.ID)
	if err != nil {
		t.Fatalf("surviving clinic broke: %v", err)
	}
	if got.Name != "Alive" {
		t.Fatalf("unexpected patient: %+v", got)
	}
}
