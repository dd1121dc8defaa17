package mediator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shaharoded/CDSS-Dev-Project/internal/storage"
	"github.com/shaharoded/CDSS-Dev-Project/internal/types"
)

// DefaultRelevance is how long a single measurement stays clinically
// relevant when no persistence window extends it further.
const DefaultRelevance = 24 * time.Hour

const (
	patientAttrsQuery = `SELECT PatientId, FirstName, LastName, Sex FROM Patients WHERE PatientId = ?`

	// Raw measurements visible at the snapshot, joined with LOINC for the
	// concept name, in valid-time order.
	visibleMeasurementsQuery = `SELECT m.LoincNum, l.Component, m.Value, m.Unit, m.ValidStartTime, m.TransactionInsertionTime
FROM Measurements m
JOIN Loinc l ON l.LoincNum = m.LoincNum
WHERE m.PatientId = ?
  AND m.TransactionInsertionTime <= ?
  AND (m.TransactionDeletionTime IS NULL OR m.TransactionDeletionTime > ?)
ORDER BY m.ValidStartTime, m.TransactionInsertionTime`
)

// Mediator converts raw measurements into labeled abstracted intervals by
// applying the loaded TAK rules.
type Mediator struct {
	store storage.Store
	log   *slog.Logger

	takDir string

	mu    sync.RWMutex
	rules []Rule
}

// New loads the TAK directory and returns a ready mediator.
func New(store storage.Store, takDir string, log *slog.Logger) (*Mediator, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &Mediator{store: store, log: log, takDir: takDir}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-parses the TAK directory and atomically swaps the rule set.
func (m *Mediator) Reload() error {
	rules, err := LoadTAKDirectory(m.takDir)
	if err != nil {
		return fmt.Errorf("load TAK rules: %w", err)
	}
	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()
	m.log.Info("TAK rules loaded", "dir", m.takDir, "rules", len(rules))
	return nil
}

// Rules returns the currently loaded rule set.
func (m *Mediator) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules
}

// rawRow is one visible measurement with its dictionary component name.
type rawRow struct {
	LoincNum   string
	Component  string
	Value      string
	ValidStart time.Time
}

// Run executes the abstraction for one patient at the given snapshot and
// returns the unified record set, sorted by interval start. relevance
// extends every interval edge; pass 0 for DefaultRelevance.
func (m *Mediator) Run(ctx context.Context, patientID string, snapshot time.Time, relevance time.Duration) ([]types.AbstractedRecord, error) {
	if relevance <= 0 {
		relevance = DefaultRelevance
	}

	attrs, err := m.patientAttributes(ctx, patientID)
	if err != nil {
		return nil, err
	}

	raw, err := m.visibleMeasurements(ctx, patientID, snapshot)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	// Apply each applicable rule; track which raw rows were consumed.
	consumed := make([]bool, len(raw))
	var abstracted []types.AbstractedRecord
	for _, rule := range m.Rules() {
		if !rule.AppliesTo(attrs) {
			continue
		}
		for i, row := range raw {
			if row.LoincNum != rule.LoincCode {
				continue
			}
			value, err := strconv.ParseFloat(row.Value, 64)
			if err != nil {
				continue // non-numeric values stay raw
			}
			label, ok := rule.Classify(value)
			if !ok {
				continue
			}
			abstracted = append(abstracted, types.AbstractedRecord{
				PatientID:   patientID,
				LoincCode:   rule.LoincCode,
				ConceptName: rule.AbstractionName,
				Value:       label,
				Start:       row.ValidStart.Add(-rule.GoodBefore),
				End:         row.ValidStart.Add(rule.GoodAfter),
				Source:      types.SourceAbstracted,
			})
			consumed[i] = true
		}
	}

	out := mergeIntervals(abstracted, relevance)

	// Untouched raw rows become single-point intervals extended by the
	// relevance window.
	for i, row := range raw {
		if consumed[i] {
			continue
		}
		out = append(out, types.AbstractedRecord{
			PatientID:   patientID,
			LoincCode:   row.LoincNum,
			ConceptName: row.Component,
			Value:       row.Value,
			Start:       row.ValidStart,
			End:         row.ValidStart.Add(relevance),
			Source:      types.SourceRaw,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		if out[i].LoincCode != out[j].LoincCode {
			return out[i].LoincCode < out[j].LoincCode
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

// mergeIntervals sorts abstracted intervals by (LoincCode, Start, Value),
// extends every end by the relevance window, unions consecutive intervals
// of the same code and value that touch, and truncates the earlier interval
// at a label change so intervals with differing values never overlap.
func mergeIntervals(records []types.AbstractedRecord, relevance time.Duration) []types.AbstractedRecord {
	if len(records) == 0 {
		return nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].LoincCode != records[j].LoincCode {
			return records[i].LoincCode < records[j].LoincCode
		}
		if !records[i].Start.Equal(records[j].Start) {
			return records[i].Start.Before(records[j].Start)
		}
		return records[i].Value < records[j].Value
	})

	var merged []types.AbstractedRecord
	var current *types.AbstractedRecord

	for _, rec := range records {
		rec.End = rec.End.Add(relevance)

		if current == nil {
			c := rec
			current = &c
			continue
		}

		sameCode := rec.LoincCode == current.LoincCode
		sameValue := rec.Value == current.Value
		touching := !rec.Start.After(current.End)

		if sameCode && sameValue && touching {
			if rec.End.After(current.End) {
				current.End = rec.End
			}
			continue
		}

		// Label change within the same code: the earlier interval yields.
		if sameCode && rec.Start.Before(current.End) {
			current.End = rec.Start
		}
		merged = append(merged, *current)
		c := rec
		current = &c
	}
	merged = append(merged, *current)
	return merged
}

func (m *Mediator) patientAttributes(ctx context.Context, patientID string) (map[string]string, error) {
	rows, err := m.store.Fetch(ctx, patientAttrsQuery, patientID)
	if err != nil {
		return nil, fmt.Errorf("fetch patient: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("patient %s: %w", patientID, storage.ErrPatientNotFound)
	}
	p := types.Patient{
		PatientID: rows[0][0].String,
		FirstName: rows[0][1].String,
		LastName:  rows[0][2].String,
		Sex:       types.Sex(rows[0][3].String),
	}
	return p.Attributes(), nil
}

func (m *Mediator) visibleMeasurements(ctx context.Context, patientID string, snapshot time.Time) ([]rawRow, error) {
	snap := types.FormatTime(snapshot)
	rows, err := m.store.Fetch(ctx, visibleMeasurementsQuery, patientID, snap, snap)
	if err != nil {
		return nil, fmt.Errorf("fetch measurements: %w", err)
	}
	out := make([]rawRow, 0, len(rows))
	for _, row := range rows {
		validStart, err := types.ParseDBTime(row[4].String)
		if err != nil {
			return nil, fmt.Errorf("parse stored valid time: %w", err)
		}
		out = append(out, rawRow{
			LoincNum:   row[0].String,
			Component:  row[1].String,
			Value:      row[2].String,
			ValidStart: validStart,
		})
	}
	return out, nil
}
