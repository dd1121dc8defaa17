package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shaharoded/CDSS-Dev-Project/internal/storage"
	"github.com/shaharoded/CDSS-Dev-Project/internal/types"
	"github.com/shaharoded/CDSS-Dev-Project/internal/validation"
)

// InsertParams are the inputs to InsertMeasurement. Dates arrive as strings
// in either ISO or day-first format; TransactionTime defaults to now.
// At least one of Component and LoincNum must be set.
type InsertParams struct {
	PatientID       string
	ValidStartTime  string
	Value           string
	Unit            string
	Component       string
	LoincNum        string
	TransactionTime string
}

// UpdateParams are the inputs to UpdateMeasurement. The unit is inherited
// from the visible row and cannot be changed here.
type UpdateParams struct {
	PatientID       string
	ValidStartTime  string
	NewValue        string
	Component       string
	LoincNum        string
	TransactionTime string
}

// DeleteParams are the inputs to DeleteMeasurement. ValidStartTime may be a
// date only, in which case the latest measurement of that concept on the day
// is deleted.
type DeleteParams struct {
	PatientID      string
	ValidStartTime string
	Component      string
	LoincNum       string
	DeletionTime   string
}

// InsertMeasurement appends a new measurement row with an open transaction
// lineage. Colliding with a row already visible at the transaction time is
// ErrDuplicateInsert; such rows must be updated instead.
func (s *Service) InsertMeasurement(ctx context.Context, p InsertParams) error {
	p.normalize()
	if p.PatientID == "" || p.Value == "" || p.Unit == "" || p.ValidStartTime == "" {
		return fmt.Errorf("%w: patient id, value, unit and valid start time are required", validation.ErrInvalidInput)
	}
	if p.Component == "" && p.LoincNum == "" {
		return fmt.Errorf("%w: a LOINC code or a component name is required", validation.ErrInvalidInput)
	}

	validStart, txTime, err := s.parseTransactionPair(p.ValidStartTime, p.TransactionTime)
	if err != nil {
		return err
	}

	if err := s.requirePatient(ctx, p.PatientID); err != nil {
		return err
	}

	loincNum, err := s.resolver.ResolveForInsert(ctx, p.LoincNum, p.Component)
	if err != nil {
		return err
	}

	entry, err := s.resolver.Entry(ctx, loincNum)
	if err != nil {
		return err
	}
	if err := validation.CheckAllowedValue(p.Value, entry.AllowedValues); err != nil {
		return err
	}

	vs, tx := types.FormatTime(validStart), types.FormatTime(txTime)
	visible, err := s.store.Exists(ctx, checkVisibleRecordQuery, p.PatientID, loincNum, vs, tx, tx)
	if err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if visible {
		return fmt.Errorf("patient %s loinc %s at %s: %w", p.PatientID, loincNum, vs, storage.ErrDuplicateInsert)
	}

	if err := s.store.Execute(ctx, insertMeasurementQuery, p.PatientID, loincNum, p.Value, p.Unit, vs, tx); err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	s.log.Info("measurement inserted", "patient", p.PatientID, "loinc", loincNum, "valid_start", vs)
	return nil
}

// UpdateMeasurement records a new version of an existing measurement. The
// prior version's lineage is closed and the new row appended in a single
// transaction; either both are visible or neither is.
func (s *Service) UpdateMeasurement(ctx context.Context, p UpdateParams) error {
	p.normalize()
	if p.PatientID == "" || p.NewValue == "" || p.ValidStartTime == "" {
		return fmt.Errorf("%w: patient id, new value and valid start time are required", validation.ErrInvalidInput)
	}
	if p.Component == "" && p.LoincNum == "" {
		return fmt.Errorf("%w: a LOINC code or a component name is required", validation.ErrInvalidInput)
	}

	validStart, txTime, err := s.parseTransactionPair(p.ValidStartTime, p.TransactionTime)
	if err != nil {
		return err
	}

	if err := s.requirePatient(ctx, p.PatientID); err != nil {
		return err
	}

	loincNum, err := s.resolver.ResolveForUpdate(ctx, p.LoincNum, p.Component, p.PatientID, validStart, txTime)
	if err != nil {
		return err
	}

	entry, err := s.resolver.Entry(ctx, loincNum)
	if err != nil {
		return err
	}
	if err := validation.CheckAllowedValue(p.NewValue, entry.AllowedValues); err != nil {
		return err
	}

	vs, tx := types.FormatTime(validStart), types.FormatTime(txTime)
	if err := s.requireUpdatable(ctx, p.PatientID, loincNum, vs, tx); err != nil {
		return err
	}

	// Units are sticky: carry the recorded unit forward.
	unit, _, err := s.store.Scalar(ctx, existingUnitQuery, p.PatientID, loincNum, vs)
	if err != nil {
		return fmt.Errorf("fetch unit: %w", err)
	}

	err = s.store.InTransaction(ctx, func(txe storage.Executor) error {
		if err := txe.Execute(ctx, stampDeletionQuery, tx, p.PatientID, loincNum, vs, tx); err != nil {
			return fmt.Errorf("stamp deletion time: %w", err)
		}
		if err := txe.Execute(ctx, insertMeasurementQuery, p.PatientID, loincNum, p.NewValue, unit, vs, tx); err != nil {
			return fmt.Errorf("insert new version: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("measurement updated", "patient", p.PatientID, "loinc", loincNum, "valid_start", vs, "transaction", tx)
	return nil
}

// DeleteMeasurement logically deletes a measurement by stamping its
// transaction deletion time. A date-only valid start resolves to the latest
// measurement of the concept on that day.
func (s *Service) DeleteMeasurement(ctx context.Context, p DeleteParams) error {
	p.normalize()
	if p.PatientID == "" || p.ValidStartTime == "" {
		return fmt.Errorf("%w: patient id and valid start time are required", validation.ErrInvalidInput)
	}
	if p.Component == "" && p.LoincNum == "" {
		return fmt.Errorf("%w: a LOINC code or a component name is required", validation.ErrInvalidInput)
	}

	var deletionTime time.Time
	if p.DeletionTime == "" {
		deletionTime = s.now()
	} else {
		var err error
		deletionTime, err = validation.ParseEndBound(p.DeletionTime)
		if err != nil {
			return err
		}
	}

	start, dateOnly, err := validation.ParseDateTime(p.ValidStartTime)
	if err != nil {
		return err
	}

	var loincNum string
	var validStart time.Time
	if dateOnly {
		loincNum, validStart, err = s.resolveDayDelete(ctx, p, start, deletionTime)
	} else {
		validStart = start
		loincNum, err = s.resolver.ResolveForUpdate(ctx, p.LoincNum, p.Component, p.PatientID, validStart, deletionTime)
	}
	if err != nil {
		return err
	}

	if err := validation.DatesOrdered(validStart, deletionTime, "Valid Start Time", "Deletion Time"); err != nil {
		return err
	}
	if err := s.requirePatient(ctx, p.PatientID); err != nil {
		return err
	}

	vs, del := types.FormatTime(validStart), types.FormatTime(deletionTime)
	if err := s.requireUpdatable(ctx, p.PatientID, loincNum, vs, del); err != nil {
		return err
	}

	if err := s.store.Execute(ctx, stampDeletionQuery, del, p.PatientID, loincNum, vs, del); err != nil {
		return fmt.Errorf("stamp deletion time: %w", err)
	}
	s.log.Info("measurement deleted", "patient", p.PatientID, "loinc", loincNum, "valid_start", vs, "deletion", del)
	return nil
}

// resolveDayDelete handles the date-only delete form: pick the concept from
// the day's visible rows, then the latest valid-start on that day.
func (s *Service) resolveDayDelete(ctx context.Context, p DeleteParams, day, deletionTime time.Time) (string, time.Time, error) {
	dayStr := day.Format("2006-01-02")
	del := types.FormatTime(deletionTime)

	loincNum := p.LoincNum
	if p.Component != "" {
		rows, err := s.store.Fetch(ctx, codesByComponentForDayQuery, p.Component, p.PatientID, dayStr, del, del)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("component lookup: %w", err)
		}
		matches := make([]string, 0, len(rows))
		for _, row := range rows {
			matches = append(matches, row[0].String)
		}
		switch {
		case len(matches) == 0:
			return "", time.Time{}, fmt.Errorf("component %q on %s: %w", p.Component, dayStr, storage.ErrUnknownComponent)
		case loincNum != "":
			found := false
			for _, m := range matches {
				if m == loincNum {
					found = true
					break
				}
			}
			if !found {
				return "", time.Time{}, fmt.Errorf("code %q vs component %q (candidates %v): %w",
					loincNum, p.Component, matches, storage.ErrLoincMismatch)
			}
		case len(matches) > 1:
			return "", time.Time{}, fmt.Errorf("component %q matches %v: %w", p.Component, matches, storage.ErrAmbiguousComponent)
		default:
			loincNum = matches[0]
		}
	}

	latest, ok, err := s.store.Scalar(ctx, latestValidTimeForDayQuery, p.PatientID, loincNum, dayStr, del, del)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("latest valid time: %w", err)
	}
	if !ok {
		return "", time.Time{}, fmt.Errorf("patient %s loinc %s on %s: %w", p.PatientID, loincNum, dayStr, storage.ErrRecordNotFound)
	}
	validStart, err := types.ParseDBTime(latest)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse stored valid time: %w", err)
	}
	return loincNum, validStart, nil
}

// requireUpdatable checks that a lineage row is visible at the snapshot and
// that no newer transaction has been recorded on the lineage.
func (s *Service) requireUpdatable(ctx context.Context, patientID, loincNum, validStart, snapshot string) error {
	visible, err := s.store.Exists(ctx, checkVisibleRecordQuery, patientID, loincNum, validStart, snapshot, snapshot)
	if err != nil {
		return fmt.Errorf("check record: %w", err)
	}
	if !visible {
		return fmt.Errorf("patient %s loinc %s at %s (snapshot %s): %w",
			patientID, loincNum, validStart, snapshot, storage.ErrRecordNotFound)
	}

	future, ok, err := s.store.Scalar(ctx, futureRecordQuery, patientID, loincNum, validStart, snapshot)
	if err != nil {
		return fmt.Errorf("check future record: %w", err)
	}
	if ok {
		return fmt.Errorf("newer version recorded at %s: %w", future, storage.ErrStaleUpdate)
	}
	return nil
}

// parseTransactionPair parses the valid-start and transaction times, applies
// the now default, and enforces their ordering. A date-only valid start
// keeps the literal 00:00:00.
func (s *Service) parseTransactionPair(validStartStr, txTimeStr string) (validStart, txTime time.Time, err error) {
	validStart, _, err = validation.ParseDateTime(validStartStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if txTimeStr == "" {
		txTime = s.now()
	} else {
		txTime, err = validation.ParseEndBound(txTimeStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if err := validation.DatesOrdered(validStart, txTime, "Valid Start Time", "Transaction Time"); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return validStart, txTime, nil
}

func (p *InsertParams) normalize() {
	p.PatientID = strings.TrimSpace(p.PatientID)
	p.ValidStartTime = strings.TrimSpace(p.ValidStartTime)
	p.Value = strings.TrimSpace(p.Value)
	p.Unit = strings.TrimSpace(p.Unit)
	p.Component = strings.TrimSpace(p.Component)
	p.LoincNum = strings.TrimSpace(p.LoincNum)
	p.TransactionTime = strings.TrimSpace(p.TransactionTime)
}

func (p *UpdateParams) normalize() {
	p.PatientID = strings.TrimSpace(p.PatientID)
	p.ValidStartTime = strings.TrimSpace(p.ValidStartTime)
	p.NewValue = strings.TrimSpace(p.NewValue)
	p.Component = strings.TrimSpace(p.Component)
	p.LoincNum = strings.TrimSpace(p.LoincNum)
	p.TransactionTime = strings.TrimSpace(p.TransactionTime)
}

func (p *DeleteParams) normalize() {
	p.PatientID = strings.TrimSpace(p.PatientID)
	p.ValidStartTime = strings.TrimSpace(p.ValidStartTime)
	p.Component = strings.TrimSpace(p.Component)
	p.LoincNum = strings.TrimSpace(p.LoincNum)
	p.DeletionTime = strings.TrimSpace(p.DeletionTime)
}
