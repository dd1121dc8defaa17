// Package records implements the record service: patient registration and
// CRUD over bi-temporal measurements. Updates and deletes never rewrite
// rows; they close the valid-time lineage by stamping a transaction
// deletion time and (for updates) appending a new version.
package records

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shaharoded/CDSS-Dev-Project/internal/loinc"
	"github.com/shaharoded/CDSS-Dev-Project/internal/storage"
	"github.com/shaharoded/CDSS-Dev-Project/internal/types"
	"github.com/shaharoded/CDSS-Dev-Project/internal/validation"
)

// Service is the record service. Construct with NewService; dependencies are
// explicit, there is no package state.
type Service struct {
	store    storage.Store
	resolver *loinc.Resolver
	log      *slog.Logger

	// now is the transaction clock; swapped in tests.
	now func() time.Time
}

// NewService returns a record service over store.
func NewService(store storage.Store, resolver *loinc.Resolver, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		resolver: resolver,
		log:      log,
		now:      time.Now,
	}
}

// RegisterPatient validates and inserts a new patient row. The id must be
// unused; names are trimmed and capitalized before validation.
func (s *Service) RegisterPatient(ctx context.Context, patientID, firstName, lastName, sex string) error {
	patientID = strings.TrimSpace(patientID)
	firstName = capitalize(strings.TrimSpace(firstName))
	lastName = capitalize(strings.TrimSpace(lastName))

	if err := validation.PatientID(patientID); err != nil {
		return err
	}
	if err := validation.Name(firstName, "First Name"); err != nil {
		return err
	}
	if err := validation.Name(lastName, "Last Name"); err != nil {
		return err
	}
	sexValue, err := validation.SexValue(sex)
	if err != nil {
		return err
	}

	exists, err := s.store.Exists(ctx, checkPatientQuery, patientID)
	if err != nil {
		return fmt.Errorf("check patient: %w", err)
	}
	if exists {
		return fmt.Errorf("patient %s: %w", patientID, storage.ErrAlreadyExists)
	}

	if err := s.store.Execute(ctx, insertPatientQuery, patientID, firstName, lastName, string(sexValue)); err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	s.log.Info("patient registered", "patient", patientID)
	return nil
}

// GetPatient fetches one patient row.
func (s *Service) GetPatient(ctx context.Context, patientID string) (*types.Patient, error) {
	rows, err := s.store.Fetch(ctx, getPatientQuery, strings.TrimSpace(patientID))
	if err != nil {
		return nil, fmt.Errorf("fetch patient: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("patient %s: %w", patientID, storage.ErrPatientNotFound)
	}
	return patientFromRow(rows[0]), nil
}

// FindPatientsByName returns every patient matching the given first and last
// name (case-insensitive). Used by collaborators that only know the name.
func (s *Service) FindPatientsByName(ctx context.Context, firstName, lastName string) ([]types.Patient, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return nil, fmt.Errorf("%w: first and last name are required for a name search", validation.ErrInvalidInput)
	}

	rows, err := s.store.Fetch(ctx, findPatientsByNameQuery, firstName, lastName)
	if err != nil {
		return nil, fmt.Errorf("fetch patients by name: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %s: %w", firstName, lastName, storage.ErrPatientNotFound)
	}
	out := make([]types.Patient, 0, len(rows))
	for _, row := range rows {
		out = append(out, *patientFromRow(row))
	}
	return out, nil
}

func (s *Service) requirePatient(ctx context.Context, patientID string) error {
	exists, err := s.store.Exists(ctx, checkPatientQuery, patientID)
	if err != nil {
		return fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return fmt.Errorf("patient %s: %w", patientID, storage.ErrPatientNotFound)
	}
	return nil
}

func patientFromRow(row storage.Row) *types.Patient {
	return &types.Patient{
		PatientID: row[0].String,
		FirstName: row[1].String,
		LastName:  row[2].String,
		Sex:       types.Sex(row[3].String),
	}
}

// capitalize upper-cases the first letter and lower-cases the rest, the
// normalization applied to names before storage.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
