package ingest

import (
	"errors"
	"testing"
	"time"

	"vehicleregistry/pkg/domain"
	"vehicleregistry/pkg/store"
)

func testRecord() Record {
	return Record{
		FirstName:  "Alice",
		LastName:   "Smith",
		VIN:        "JH4DA3340GS000123",
		StartDate:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Duration:   domain.Duration7Years,
		SpgAcn:     "001000004",
		SpgOrgName: "Company A",
	}
}

func beginUnit(t *testing.T, s *store.MemoryStore) store.RegistrationUnit {
	t.Helper()
	unit, err := s.Begin()
	if err != nil {
		t.Fatalf("begin unit: %v", err)
	}
	return unit
}

func TestReconcilerAddsNewRegistration(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewReconciler(beginUnit(t, s))

	outcome, err := r.Apply(testRecord())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeAdded {
		t.Fatalf("outcome = %v, want OutcomeAdded", outcome)
	}
	regs := s.Registrations()
	if len(regs) != 1 {
		t.Fatalf("registrations = %d, want 1", len(regs))
	}
	if regs[0].ID == "" {
		t.Fatalf("expected generated ID")
	}
}

func TestReconcilerUpdatesOnIdentityMatch(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewReconciler(beginUnit(t, s))

	if _, err := r.Apply(testRecord()); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	rec := testRecord()
	rec.Duration = domain.Duration25Years
	rec.SpgOrgName = "Company B"
	outcome, err := r.Apply(rec)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Fatalf("outcome = %v, want OutcomeUpdated", outcome)
	}
	regs := s.Registrations()
	if len(regs) != 1 {
		t.Fatalf("registrations = %d, want 1 (update, not insert)", len(regs))
	}
	if regs[0].Duration != domain.Duration25Years {
		t.Fatalf("duration = %q, want updated", regs[0].Duration)
	}
	if regs[0].SpgOrgName != "Company B" {
		t.Fatalf("spgOrgName = %q, want Company B", regs[0].SpgOrgName)
	}
}

func TestReconcilerRejectsVINHeldByOtherGrantor(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewReconciler(beginUnit(t, s))

	if _, err := r.Apply(testRecord()); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	rec := testRecord()
	rec.FirstName = "Bob"
	rec.LastName = "Jones"
	_, err := r.Apply(rec)
	if err == nil {
		t.Fatalf("expected VIN conflict")
	}
	var conflict *domain.VINConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error type = %T, want *domain.VINConflictError", err)
	}
	if conflict.VIN != "JH4DA3340GS000123" {
		t.Fatalf("conflict VIN = %q", conflict.VIN)
	}
	if len(s.Registrations()) != 1 {
		t.Fatalf("conflicting record must not be written")
	}
}

func TestReconcilerAllowsSameGrantorNewACN(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewReconciler(beginUnit(t, s))

	if _, err := r.Apply(testRecord()); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	rec := testRecord()
	rec.SpgAcn = "009999999"
	outcome, err := r.Apply(rec)
	if err != nil {
		t.Fatalf("apply with new ACN: %v", err)
	}
	if outcome != OutcomeAdded {
		t.Fatalf("outcome = %v, want OutcomeAdded (different secured party)", outcome)
	}
	if len(s.Registrations()) != 2 {
		t.Fatalf("registrations = %d, want 2", len(s.Registrations()))
	}
}
