package records

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shaharoded/CDSS-Dev-Project/internal/loinc"
	"github.com/shaharoded/CDSS-Dev-Project/internal/storage"
	"github.com/shaharoded/CDSS-Dev-Project/internal/storage/sqlite"
	"github.com/shaharoded/CDSS-Dev-Project/internal/validation"
)

func setupService(t *testing.T) (*Service, storage.Store) {
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

	seed := []struct{ num, component, allowed string }{
		{"718-7", "Hemoglobin", "NUM"},
		{"2345-7", "Glucose", "NUM"},
		{"2339-0", "Glucose", "NUM"},
		{"5778-6", "Color of Urine", `["Yellow","Amber","Red"]`},
	}
	for _, e := range seed {
		if err := s.Execute(ctx, "INSERT INTO Loinc (LoincNum, Component, AllowedValues) VALUES (?, ?, ?)",
			e.num, e.component, e.allowed); err != nil {
			t.Fatalf("seed loinc failed: %v", err)
		}
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(s, loinc.NewResolver(s), log)
	if err := svc.RegisterPatient(ctx, "100000001", "John", "Doe", "Male"); err != nil {
		t.Fatalf("register patient failed: %v", err)
	}
	return svc, s
}

func TestRegisterPatientValidation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	if err := svc.RegisterPatient(ctx, "100000001", "John", "Doe", "Male"); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("duplicate id: want ErrAlreadyExists, got %v", err)
	}
	if err := svc.RegisterPatient(ctx, "12345", "Ann", "Lee", "Female"); !errors.Is(err, validation.ErrInvalidInput) {
		t.Errorf("short id: want ErrInvalidInput, got %v", err)
	}
	if err := svc.RegisterPatient(ctx, "200000001", "Ann3", "Lee", "Female"); !errors.Is(err, validation.ErrInvalidInput) {
		t.Errorf("bad name: want ErrInvalidInput, got %v", err)
	}
	if err := svc.RegisterPatient(ctx, "200000001", "Ann", "Lee", "unknown"); !errors.Is(err, validation.ErrInvalidInput) {
		t.Errorf("bad sex: want ErrInvalidInput, got %v", err)
	}
}

func TestRegisterPatientNormalizesNames(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	if err := svc.RegisterPatient(ctx, "200000002", " jane ", "DOE", "female"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	p, err := svc.GetPatient(ctx, "200000002")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if p.FirstName != "Jane" || p.LastName != "Doe" || string(p.Sex) != "Female" {
		t.Errorf("unexpected normalization: %+v", p)
	}
}

func TestFindPatientsByName(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	matches, err := svc.FindPatientsByName(ctx, "john", "doe")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(matches) != 1 || matches[0].PatientID != "100000001" {
		t.Errorf("unexpected matches: %+v", matches)
	}

	if _, err := svc.FindPatientsByName(ctx, "No", "Body"); !errors.Is(err, storage.ErrPatientNotFound) {
		t.Errorf("missing: want ErrPatientNotFound, got %v", err)
	}
}

// Scenario: insert then update at a later transaction time. History before
// the update sees the old value; after it, only the new one.
func TestBiTemporalUpdate(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	err := svc.InsertMeasurement(ctx, InsertParams{
		PatientID:       "100000001",
		LoincNum:        "718-7",
		Value:           "14.2",
		Unit:            "mmol/L",
		ValidStartTime:  "2024-04-01 08:00",
		TransactionTime: "2024-04-01 08:01",
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	err = svc.UpdateMeasurement(ctx, UpdateParams{
		PatientID:       "100000001",
		LoincNum:        "718-7",
		NewValue:        "14.5",
		ValidStartTime:  "2024-04-01 08:00",
		TransactionTime: "2024-04-02 09:00",
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	before, err := svc.Search(ctx, HistoryQuery{PatientID: "100000001", Snapshot: "2024-04-01 12:00"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(before) != 1 || before[0].Value != "14.2" {
		t.Errorf("snapshot before update: got %+v, want one row with 14.2", before)
	}

	after, err := svc.Search(ctx, HistoryQuery{PatientID: "100000001", Snapshot: "2024-04-02 10:00"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(after) != 1 || after[0].Value != "14.5" {
		t.Errorf("snapshot after update: got %+v, want one row with 14.5", after)
	}
	if after[0].Unit != "mmol/L" {
		t.Errorf("unit not inherited: got %q", after[0].Unit)
	}
}

// Scenario: updating behind an already-recorded newer version is rejected.
func TestStaleUpdateRejected(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	mustInsert(t, svc, "718-7", "14.2", "2024-04-01 08:00", "2024-04-01 08:01")
	mustUpdate(t, svc, "718-7", "14.5", "2024-04-01 08:00", "2024-04-02 09:00")

	err := svc.UpdateMeasurement(ctx, UpdateParams{
		PatientID:       "100000001",
		LoincNum:        "718-7",
		NewValue:        "14.9",
		ValidStartTime:  "2024-04-01 08:00",
		TransactionTime: "2024-04-01 23:00",
	})
	if !errors.Is(err, storage.ErrStaleUpdate) {
		t.Errorf("want ErrStaleUpdate, got %v", err)
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	err := svc.UpdateMeasurement(ctx, UpdateParams{
		PatientID:       "100000001",
		LoincNum:        "718-7",
		NewValue:        "14.5",
		ValidStartTime:  "2024-04-01 08:00",
		TransactionTime: "2024-04-02 09:00",
	})
	if !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("want ErrRecordNotFound, got %v", err)
	}
}

func TestDuplicateInsertRejected(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	mustInsert(t, svc, "718-7", "14.2", "2024-04-01 08:00", "2024-04-01 08:01")

	err := svc.InsertMeasurement(ctx, InsertParams{
		PatientID:       "100000001",
		LoincNum:        "718-7",
		Value:           "15.0",
		Unit:            "mmol/L",
		ValidStartTime:  "2024-04-01 08:00",
		TransactionTime: "2024-04-01 09:00",
	})
	if !errors.Is(err, storage.ErrDuplicateInsert) {
		t.Errorf("want ErrDuplicateInsert, got %v", err)
	}
}

// Scenario: logical delete at D hides the row at D but not at D-1s.
func TestDeleteVisibilityBoundary(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	mustInsert(t, svc, "718-7", "14.2", "2024-04-01 08:00", "2024-04-01 08:01")

	err := svc.DeleteMeasurement(ctx, DeleteParams{
		PatientID:      "100000001",
		LoincNum:       "718-7",
		ValidStartTime: "2024-04-01 08:00",
		DeletionTime:   "2024-04-02 00:00",
	})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	atD, err := svc.Search(ctx, HistoryQuery{PatientID: "100000001", Snapshot: "2024-04-02 00:00"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(atD) != 0 {
		t.Errorf("row still visible at deletion time: %+v", atD)
	}

	beforeD, err := svc.Search(ctx, HistoryQuery{PatientID: "100000001", Snapshot: "2024-04-01 23:59:59"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(beforeD) != 1 {
		t.Errorf("row not visible one second before deletion: %+v", beforeD)
	}
}

// Scenario: date-only delete picks the latest measurement of the day.
func TestDateOnlyDeletePicksLatest(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	mustInsert(t, svc, "718-7", "13.0", "2024-04-01 08:00", "2024-04-01 08:01")
	mustInsert(t, svc, "718-7", "14.0", "2024-04-01 20:00", "2024-04-01 20:01")

	err := svc.DeleteMeasurement(ctx, DeleteParams{
		PatientID:      "100000001",
		LoincNum:       "718-7",
		ValidStartTime: "2024-04-01",
		DeletionTime:   "2024-04-02 00:00",
	})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	rows, err := svc.Search(ctx, HistoryQuery{PatientID: "100000001", Snapshot: "2024-04-02 01:00"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected the 08:00 row to survive, got %+v", rows)
	}
	if rows[0].ValidStartTime.Hour() != 8 {
		t.Errorf("wrong row deleted: surviving row at %v", rows[0].ValidStartTime)
	}
}

// Scenario: component disambiguation differs between insert scope (full
// dictionary) and update scope (patient history).
func TestComponentDisambiguationScopes(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	// Glucose is ambiguous in the dictionary.
	err := svc.InsertMeasurement(ctx, InsertParams{
		PatientID:       "100000001",
		Component:       "Glucose",
		Value:           "5.5",
		Unit:            "mmol/L",
		ValidStartTime:  "2024-04-01 08:00",
		TransactionTime: "2024-04-01 08:01",
	})
	if !errors.Is(err, storage.ErrAmbiguousComponent) {
		t.Fatalf("insert by ambiguous component: want ErrAmbiguousComponent, got %v", err)
	}

	// Insert with the explicit code, then update by component: the patient's
	// history has only one Glucose code, so it resolves.
	mustInsert(t, svc, "2345-7", "5.5", "2024-04-01 08:00", "2024-04-01 08:01")
	err = svc.UpdateMeasurement(ctx, UpdateParams{
		PatientID:       "100000001",
		Component:       "Glucose",
		NewValue:        "5.9",
		ValidStartTime:  "2024-04-01 08:00",
		TransactionTime: "2024-04-01 10:00",
	})
	if err != nil {
		t.Fatalf("update by component failed: %v", err)
	}

	rows, err := svc.Search(ctx, HistoryQuery{PatientID: "100000001", Snapshot: "2024-04-01 11:00", LoincNum: "2345-7"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Value != "5.9" {
		t.Errorf("expected updated glucose row, got %+v", rows)
	}
}

func TestAllowedValuesEnforced(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	err := svc.InsertMeasurement(ctx, InsertParams{
		PatientID:       "100000001",
		LoincNum:        "718-7",
		Value:           "very high",
		Unit:            "mmol/L",
		ValidStartTime:  "2024-04-01 08:00",
		TransactionTime: "2024-04-01 08:01",
	})
	if !errors.Is(err, validation.ErrInvalidInput) {
		t.Errorf("non-numeric value for NUM concept: want ErrInvalidInput, got %v", err)
	}

	err = svc.InsertMeasurement(ctx, InsertParams{
		PatientID:       "100000001",
		LoincNum:        "5778-6",
		Value:           "Green",
		Unit:            "n/a",
		ValidStartTime:  "2024-04-01 08:00",
		TransactionTime: "2024-04-01 08:01",
	})
	if !errors.Is(err, validation.ErrInvalidInput) {
		t.Errorf("value outside allowed list: want ErrInvalidInput, got %v", err)
	}

	err = svc.InsertMeasurement(ctx, InsertParams{
		PatientID:       "100000001",
		LoincNum:        "5778-6",
		Value:           "Amber",
		Unit:            "n/a",
		ValidStartTime:  "2024-04-01 08:00",
		TransactionTime: "2024-04-01 08:01",
	})
	if err != nil {
		t.Errorf("allowed value rejected: %v", err)
	}
}

func TestTransactionTimeBeforeValidStartRejected(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	err := svc.InsertMeasurement(ctx, InsertParams{
		PatientID:       "100000001",
		LoincNum:        "718-7",
		Value:           "14.2",
		Unit:            "mmol/L",
		ValidStartTime:  "2024-04-02 08:00",
		TransactionTime: "2024-04-01 08:00",
	})
	if !errors.Is(err, validation.ErrDateOrder) {
		t.Errorf("want ErrDateOrder, got %v", err)
	}
}

// Lineage invariant: each non-final row's deletion time equals the next
// row's insertion time.
func TestLineageChain(t *testing.T) {
	svc, s := setupService(t)
	ctx := context.Background()

	mustInsert(t, svc, "718-7", "14.2", "2024-04-01 08:00", "2024-04-01 08:01")
	mustUpdate(t, svc, "718-7", "14.5", "2024-04-01 08:00", "2024-04-02 09:00")
	mustUpdate(t, svc, "718-7", "14.9", "2024-04-01 08:00", "2024-04-03 09:00")

	rows, err := s.Fetch(ctx, `SELECT TransactionInsertionTime, TransactionDeletionTime
		FROM Measurements
		WHERE PatientId = ? AND LoincNum = ? AND ValidStartTime = ?
		ORDER BY TransactionInsertionTime`,
		"100000001", "718-7", "2024-04-01 08:00:00")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 lineage rows, got %d", len(rows))
	}
	for i := 0; i < len(rows)-1; i++ {
		if !rows[i][1].Valid {
			t.Fatalf("row %d has open deletion time", i)
		}
		if rows[i][1].String != rows[i+1][0].String {
			t.Errorf("row %d deletion %q != row %d insertion %q", i, rows[i][1].String, i+1, rows[i+1][0].String)
		}
	}
	if rows[2][1].Valid {
		t.Errorf("final lineage row should be open, has deletion %q", rows[2][1].String)
	}
}

func TestHistoryFilters(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	mustInsert(t, svc, "718-7", "14.2", "2024-04-01 08:00", "2024-04-01 08:01")
	mustInsert(t, svc, "2345-7", "5.5", "2024-04-02 09:00", "2024-04-02 09:01")

	// LOINC filter.
	rows, err := svc.Search(ctx, HistoryQuery{PatientID: "100000001", Snapshot: "2024-04-03", LoincNum: "718-7"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(rows) != 1 || rows[0].LoincNum != "718-7" {
		t.Errorf("loinc filter: got %+v", rows)
	}

	// Component substring filter, case-insensitive.
	rows, err = svc.Search(ctx, HistoryQuery{PatientID: "100000001", Snapshot: "2024-04-03", Component: "gluc"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Component != "Glucose" {
		t.Errorf("component filter: got %+v", rows)
	}

	// Valid-time window.
	rows, err = svc.Search(ctx, HistoryQuery{
		PatientID: "100000001", Snapshot: "2024-04-03",
		Start: "2024-04-02", End: "2024-04-02",
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(rows) != 1 || rows[0].LoincNum != "2345-7" {
		t.Errorf("window filter: got %+v", rows)
	}

	// Window in the wrong order.
	_, err = svc.Search(ctx, HistoryQuery{
		PatientID: "100000001", Snapshot: "2024-04-03",
		Start: "2024-04-03", End: "2024-04-01",
	})
	if !errors.Is(err, validation.ErrDateOrder) {
		t.Errorf("want ErrDateOrder, got %v", err)
	}
}

func TestHistoryUnknownPatient(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Search(ctx, HistoryQuery{PatientID: "999999999"})
	if !errors.Is(err, storage.ErrPatientNotFound) {
		t.Errorf("want ErrPatientNotFound, got %v", err)
	}
}

func mustInsert(t *testing.T, svc *Service, loincNum, value, validStart, txTime string) {
	t.Helper()
	err := svc.InsertMeasurement(context.Background(), InsertParams{
		PatientID:       "100000001",
		LoincNum:        loincNum,
		Value:           value,
		Unit:            "mmol/L",
		ValidStartTime:  validStart,
		TransactionTime: txTime,
	})
	if err != nil {
		t.Fatalf("insert %s at %s failed: %v", loincNum, validStart, err)
	}
}

func mustUpdate(t *testing.T, svc *Service, loincNum, value, validStart, txTime string) {
	t.Helper()
	err := svc.UpdateMeasurement(context.Background(), UpdateParams{
		PatientID:       "100000001",
		LoincNum:        loincNum,
		NewValue:        value,
		ValidStartTime:  validStart,
		TransactionTime: txTime,
	})
	if err != nil {
		t.Fatalf("update %s at %s failed: %v", loincNum, validStart, err)
	}
}
