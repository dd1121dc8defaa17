package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/shaharoded/CDSS-Dev-Project/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	// Reset shared in-memory state left over from prior tests.
	ctx := context.Background()
	for _, table := range []string{"Measurements", "AbstractedMeasurements", "Patients", "Loinc"} {
		if err := s.Execute(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("reset %s failed: %v", table, err)
		}
	}
	return s
}

func TestSchemaCreated(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"Patients", "Loinc", "Measurements", "AbstractedMeasurements"} {
		ok, err := s.Exists(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table)
		if err != nil {
			t.Fatalf("Exists failed: %v", err)
		}
		if !ok {
			t.Errorf("expected table %s to exist", table)
		}
	}
}

func TestExecuteAndFetch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Execute(ctx, "INSERT INTO Patients (PatientId, FirstName, LastName, Sex) VALUES (?, ?, ?, ?)",
		"100000001", "John", "Doe", "Male"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	rows, err := s.Fetch(ctx, "SELECT PatientId, FirstName, LastName, Sex FROM Patients WHERE PatientId = ?", "100000001")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if got := rows[0][1].String; got != "John" {
		t.Errorf("expected FirstName John, got %q", got)
	}
}

func TestScalarMissingValue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Scalar(ctx, "SELECT FirstName FROM Patients WHERE PatientId = ?", "999999999")
	if err != nil {
		t.Fatalf("Scalar failed: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing row")
	}
}

func TestScalarNullValue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Execute(ctx, "INSERT INTO Loinc (LoincNum, Component) VALUES (?, ?)", "718-7", "Hemoglobin"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	_, ok, err := s.Scalar(ctx, "SELECT AllowedValues FROM Loinc WHERE LoincNum = ?", "718-7")
	if err != nil {
		t.Fatalf("Scalar failed: %v", err)
	}
	if ok {
		t.Error("expected ok=false for NULL value")
	}
}

func TestInTransactionRollsBackOnError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := s.InTransaction(ctx, func(tx storage.Executor) error {
		if err := tx.Execute(ctx, "INSERT INTO Patients (PatientId, FirstName, LastName, Sex) VALUES (?, ?, ?, ?)",
			"100000002", "Jane", "Doe", "Female"); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	ok, err := s.Exists(ctx, "SELECT 1 FROM Patients WHERE PatientId = ?", "100000002")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("expected insert to be rolled back")
	}
}

func TestInTransactionCommits(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.InTransaction(ctx, func(tx storage.Executor) error {
		return tx.Execute(ctx, "INSERT INTO Patients (PatientId, FirstName, LastName, Sex) VALUES (?, ?, ?, ?)",
			"100000003", "Ada", "Smith", "Female")
	})
	if err != nil {
		t.Fatalf("InTransaction failed: %v", err)
	}

	ok, err := s.Exists(ctx, "SELECT 1 FROM Patients WHERE PatientId = ?", "100000003")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("expected committed row to be visible")
	}
}
