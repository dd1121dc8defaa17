// Package orchestrator drives the abstraction pipeline: it rebuilds the
// AbstractedMeasurements table from mediator output and evaluates the rule
// processor per patient for a snapshot.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaharoded/CDSS-Dev-Project/internal/mediator"
	"github.com/shaharoded/CDSS-Dev-Project/internal/rules"
	"github.com/shaharoded/CDSS-Dev-Project/internal/storage"
	"github.com/shaharoded/CDSS-Dev-Project/internal/types"
)

// ErrNoPatients reports an abstraction run against an empty Patients table.
var ErrNoPatients = errors.New("no patients registered")

const (
	listPatientsQuery = `SELECT PatientId FROM Patients ORDER BY PatientId`

	truncateAbstractedQuery = `DELETE FROM AbstractedMeasurements`

	insertAbstractedQuery = `INSERT INTO AbstractedMeasurements
		(PatientId, LoincCode, ConceptName, Value, StartDateTime, EndDateTime)
		VALUES (?, ?, ?, ?, ?, ?)`

	// Abstracted intervals covering the snapshot instant, inclusive on
	// both ends.
	visibleAbstractedQuery = `SELECT PatientId, LoincCode, ConceptName, Value, StartDateTime, EndDateTime
FROM AbstractedMeasurements
WHERE StartDateTime <= ? AND EndDateTime >= ?
ORDER BY PatientId, StartDateTime, LoincCode`
)

// Orchestrator owns the pipeline dependencies. Construct one per process
// and pass it the shared store.
type Orchestrator struct {
	store     storage.Store
	mediator  *mediator.Mediator
	processor *rules.Processor
	log       *slog.Logger
	relevance time.Duration
}

// New returns an orchestrator. relevance extends mediator interval edges;
// pass 0 for the mediator default.
func New(store storage.Store, med *mediator.Mediator, proc *rules.Processor, relevance time.Duration, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		mediator:  med,
		processor: proc,
		log:       log,
		relevance: relevance,
	}
}

// AbstractData rebuilds the AbstractedMeasurements table at the snapshot:
// it runs the mediator for every patient, then truncates and refills the
// table in one transaction. An empty Patients table is an error; patients
// with no visible measurements simply contribute no rows.
func (o *Orchestrator) AbstractData(ctx context.Context, snapshot time.Time) ([]types.AbstractedRecord, error) {
	patients, err := o.listPatients(ctx)
	if err != nil {
		return nil, err
	}
	if len(patients) == 0 {
		return nil, ErrNoPatients
	}

	var all []types.AbstractedRecord
	for _, patientID := range patients {
		records, err := o.mediator.Run(ctx, patientID, snapshot, o.relevance)
		if err != nil {
			return nil, fmt.Errorf("abstract patient %s: %w", patientID, err)
		}
		all = append(all, records...)
	}

	err = o.store.InTransaction(ctx, func(tx storage.Executor) error {
		if err := tx.Execute(ctx, truncateAbstractedQuery); err != nil {
			return fmt.Errorf("truncate abstracted measurements: %w", err)
		}
		for _, rec := range all {
			err := tx.Execute(ctx, insertAbstractedQuery,
				rec.PatientID, rec.LoincCode, rec.ConceptName, rec.Value,
				types.FormatTime(rec.Start), types.FormatTime(rec.End))
			if err != nil {
				return fmt.Errorf("insert abstracted row for %s: %w", rec.PatientID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.log.Info("abstraction rebuilt",
		"snapshot", types.FormatTime(snapshot), "patients", len(patients), "rows", len(all))
	return all, nil
}

// AnalyzeClinicalState refreshes the abstraction, then evaluates the rule
// processor per patient over the intervals covering the snapshot, keeping
// only the most recent interval per LOINC code within each patient.
// Returns the per-patient state maps and the normalized snapshot string.
func (o *Orchestrator) AnalyzeClinicalState(ctx context.Context, snapshot time.Time) (map[string]map[string]string, string, error) {
	if _, err := o.AbstractData(ctx, snapshot); err != nil {
		return nil, "", err
	}

	byPatient, err := o.coveringIntervals(ctx, snapshot)
	if err != nil {
		return nil, "", err
	}

	states := make(map[string]map[string]string, len(byPatient))
	for patientID, records := range byPatient {
		state, err := o.processor.Run(ctx, patientID, latestPerCode(records))
		if err != nil {
			return nil, "", fmt.Errorf("analyze patient %s: %w", patientID, err)
		}
		states[patientID] = state
	}
	return states, types.FormatTime(snapshot), nil
}

func (o *Orchestrator) listPatients(ctx context.Context) ([]string, error) {
	rows, err := o.store.Fetch(ctx, listPatientsQuery)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row[0].String)
	}
	return ids, nil
}

// coveringIntervals loads the abstracted rows whose interval contains the
// snapshot, grouped by patient.
func (o *Orchestrator) coveringIntervals(ctx context.Context, snapshot time.Time) (map[string][]types.AbstractedRecord, error) {
	snap := types.FormatTime(snapshot)
	rows, err := o.store.Fetch(ctx, visibleAbstractedQuery, snap, snap)
	if err != nil {
		return nil, fmt.Errorf("fetch abstracted measurements: %w", err)
	}

	byPatient := make(map[string][]types.AbstractedRecord)
	for _, row := range rows {
		start, err := types.ParseDBTime(row[4].String)
		if err != nil {
			return nil, fmt.Errorf("parse stored start time: %w", err)
		}
		end, err := types.ParseDBTime(row[5].String)
		if err != nil {
			return nil, fmt.Errorf("parse stored end time: %w", err)
		}
		rec := types.AbstractedRecord{
			PatientID:   row[0].String,
			LoincCode:   row[1].String,
			ConceptName: row[2].String,
			Value:       row[3].String,
			Start:       start,
			End:         end,
		}
		byPatient[rec.PatientID] = append(byPatient[rec.PatientID], rec)
	}
	return byPatient, nil
}

// latestPerCode keeps, per LOINC code, only the record with the greatest
// Start. Rule parameters see one current value per concept.
func latestPerCode(records []types.AbstractedRecord) []types.AbstractedRecord {
	latest := make(map[string]int, len(records))
	for i := range records {
		code := records[i].LoincCode
		j, ok := latest[code]
		if !ok || records[i].Start.After(records[j].Start) {
			latest[code] = i
		}
	}
	out := make([]types.AbstractedRecord, 0, len(latest))
	for i := range records {
		if latest[records[i].LoincCode] == i {
			out = append(out, records[i])
		}
	}
	return out
}
