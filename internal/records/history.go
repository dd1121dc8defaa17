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

// historyFilter enumerates the optional WHERE fragments of the history
// query. The clause is composed only from this closed set with positional
// placeholders; no user data is ever concatenated into SQL text.
type historyFilter int

const (
	filterLoinc historyFilter = iota
	filterComponent
	filterStartFrom
	filterStartTo
)

var historyFragments = map[historyFilter]string{
	filterLoinc:     `m.LoincNum = ?`,
	filterComponent: `LOWER(l.Component) LIKE '%' || LOWER(?) || '%'`,
	filterStartFrom: `m.ValidStartTime >= ?`,
	filterStartTo:   `m.ValidStartTime <= ?`,
}

// Mandatory fragments: patient scope plus snapshot visibility.
const (
	fragmentPatient        = `m.PatientId = ?`
	fragmentInsertedBefore = `m.TransactionInsertionTime <= ?`
	fragmentNotDeleted     = `(m.TransactionDeletionTime IS NULL OR m.TransactionDeletionTime > ?)`
)

// HistoryQuery selects a patient's visible measurements at a snapshot with
// optional filters. Zero-valued fields are ignored; an empty Snapshot means
// now.
type HistoryQuery struct {
	PatientID string
	Snapshot  string
	LoincNum  string
	Component string // substring match, case-insensitive
	Start     string // valid-time window lower bound
	End       string // valid-time window upper bound
}

// Search runs the snapshot-consistent history query and returns rows joined
// with the LOINC dictionary for display.
func (s *Service) Search(ctx context.Context, q HistoryQuery) ([]types.HistoryRow, error) {
	q.PatientID = strings.TrimSpace(q.PatientID)
	if q.PatientID == "" {
		return nil, fmt.Errorf("%w: patient id is required", validation.ErrInvalidInput)
	}
	if err := s.requirePatient(ctx, q.PatientID); err != nil {
		return nil, err
	}

	var snapshot time.Time
	if strings.TrimSpace(q.Snapshot) == "" {
		snapshot = s.now()
	} else {
		var err error
		snapshot, err = validation.ParseEndBound(q.Snapshot)
		if err != nil {
			return nil, err
		}
	}

	filters := []historyFilter{}
	args := []any{q.PatientID}
	clauses := []string{fragmentPatient}

	if v := strings.TrimSpace(q.LoincNum); v != "" {
		filters = append(filters, filterLoinc)
		args = append(args, v)
	}
	if v := strings.TrimSpace(q.Component); v != "" {
		filters = append(filters, filterComponent)
		args = append(args, v)
	}

	var start, end time.Time
	if v := strings.TrimSpace(q.Start); v != "" {
		var err error
		start, err = validation.ParseStartBound(v)
		if err != nil {
			return nil, err
		}
		filters = append(filters, filterStartFrom)
		args = append(args, types.FormatTime(start))
	}
	if v := strings.TrimSpace(q.End); v != "" {
		var err error
		end, err = validation.ParseEndBound(v)
		if err != nil {
			return nil, err
		}
		filters = append(filters, filterStartTo)
		args = append(args, types.FormatTime(end))
	}

	if !start.IsZero() && !end.IsZero() {
		if err := validation.DatesOrdered(start, end, "Start Date", "End Date"); err != nil {
			return nil, err
		}
	}
	if !start.IsZero() {
		if err := validation.DatesOrdered(start, snapshot, "Start Date", "Snapshot Date"); err != nil {
			return nil, err
		}
	}
	if !end.IsZero() {
		if err := validation.DatesOrdered(end, snapshot, "End Date", "Snapshot Date"); err != nil {
			return nil, err
		}
	}

	for _, f := range filters {
		clauses = append(clauses, historyFragments[f])
	}
	snap := types.FormatTime(snapshot)
	clauses = append(clauses, fragmentInsertedBefore, fragmentNotDeleted)
	args = append(args, snap, snap)

	query := fmt.Sprintf(historyBaseQuery, strings.Join(clauses, " AND "))
	rows, err := s.store.Fetch(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}

	out := make([]types.HistoryRow, 0, len(rows))
	for _, row := range rows {
		hr, err := historyRowFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *hr)
	}
	return out, nil
}

func historyRowFromRow(row storage.Row) (*types.HistoryRow, error) {
	validStart, err := types.ParseDBTime(row[4].String)
	if err != nil {
		return nil, fmt.Errorf("parse stored valid time: %w", err)
	}
	inserted, err := types.ParseDBTime(row[5].String)
	if err != nil {
		return nil, fmt.Errorf("parse stored transaction time: %w", err)
	}
	return &types.HistoryRow{
		LoincNum:                 row[0].String,
		Component:                row[1].String,
		Value:                    row[2].String,
		Unit:                     row[3].String,
		ValidStartTime:           validStart,
		TransactionInsertionTime: inserted,
	}, nil
}
