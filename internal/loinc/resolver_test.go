package loinc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaharoded/CDSS-Dev-Project/internal/storage"
	"github.com/shaharoded/CDSS-Dev-Project/internal/storage/sqlite"
)

func setupResolver(t *testing.T) (*Resolver, storage.Store) {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	for _, table := range []string{"Measurements", "AbstractedMeasurements", "Patients", "Loinc"} {
		if err := s.Execute(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("reset %s failed: %v", table, err)
		}
	}

	seed := []struct {
		num, component string
	}{
		{"718-7", "Hemoglobin"},
		{"2345-7", "Glucose"},
		{"2339-0", "Glucose"},
		{"6690-2", "Leukocytes"},
	}
	for _, e := range seed {
		if err := s.Execute(ctx, "INSERT INTO Loinc (LoincNum, Component) VALUES (?, ?)", e.num, e.component); err != nil {
			t.Fatalf("seed loinc failed: %v", err)
		}
	}
	return NewResolver(s), s
}

func TestResolveForInsertByCode(t *testing.T) {
	r, _ := setupResolver(t)
	ctx := context.Background()

	got, err := r.ResolveForInsert(ctx, "718-7", "")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "718-7" {
		t.Errorf("got %q, want 718-7", got)
	}

	_, err = r.ResolveForInsert(ctx, "0000-0", "")
	if !errors.Is(err, storage.ErrLoincNotFound) {
		t.Errorf("unknown code: want ErrLoincNotFound, got %v", err)
	}
}

func TestResolveForInsertByComponent(t *testing.T) {
	r, _ := setupResolver(t)
	ctx := context.Background()

	// Unique component resolves, case-insensitively.
	got, err := r.ResolveForInsert(ctx, "", "hemoglobin")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "718-7" {
		t.Errorf("got %q, want 718-7", got)
	}

	// Glucose maps to two codes.
	_, err = r.ResolveForInsert(ctx, "", "Glucose")
	if !errors.Is(err, storage.ErrAmbiguousComponent) {
		t.Errorf("ambiguous component: want ErrAmbiguousComponent, got %v", err)
	}

	_, err = r.ResolveForInsert(ctx, "", "Unobtainium")
	if !errors.Is(err, storage.ErrUnknownComponent) {
		t.Errorf("unknown component: want ErrUnknownComponent, got %v", err)
	}
}

func TestResolveForInsertMismatch(t *testing.T) {
	r, _ := setupResolver(t)
	ctx := context.Background()

	// Code and component disagree.
	_, err := r.ResolveForInsert(ctx, "718-7", "Glucose")
	if !errors.Is(err, storage.ErrLoincMismatch) {
		t.Errorf("want ErrLoincMismatch, got %v", err)
	}

	// Code belongs to the component's candidate set.
	got, err := r.ResolveForInsert(ctx, "2339-0", "Glucose")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "2339-0" {
		t.Errorf("got %q, want 2339-0", got)
	}
}

func TestResolveForUpdateScopedToHistory(t *testing.T) {
	r, s := setupResolver(t)
	ctx := context.Background()

	if err := s.Execute(ctx, "INSERT INTO Patients (PatientId, FirstName, LastName, Sex) VALUES (?, ?, ?, ?)",
		"100000001", "John", "Doe", "Male"); err != nil {
		t.Fatalf("seed patient failed: %v", err)
	}
	// The patient only ever measured Glucose as 2345-7, so the otherwise
	// ambiguous component is unique in update scope.
	if err := s.Execute(ctx, `INSERT INTO Measurements
		(PatientId, LoincNum, Value, Unit, ValidStartTime, TransactionInsertionTime)
		VALUES (?, ?, ?, ?, ?, ?)`,
		"100000001", "2345-7", "5.5", "mmol/L", "2024-04-01 08:00:00", "2024-04-01 08:01:00"); err != nil {
		t.Fatalf("seed measurement failed: %v", err)
	}

	validStart := time.Date(2024, 4, 1, 8, 0, 0, 0, time.Local)
	snapshot := time.Date(2024, 4, 2, 0, 0, 0, 0, time.Local)

	got, err := r.ResolveForUpdate(ctx, "", "Glucose", "100000001", validStart, snapshot)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "2345-7" {
		t.Errorf("got %q, want 2345-7", got)
	}

	// Before the row was inserted, nothing is visible.
	early := time.Date(2024, 4, 1, 8, 0, 30, 0, time.Local)
	_, err = r.ResolveForUpdate(ctx, "", "Glucose", "100000001", validStart, early)
	if !errors.Is(err, storage.ErrUnknownComponent) {
		t.Errorf("pre-insert snapshot: want ErrUnknownComponent, got %v", err)
	}
}
