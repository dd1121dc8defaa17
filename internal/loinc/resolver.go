// Package loinc resolves clinical concepts between LOINC codes and
// component names, backed by the LOINC dictionary and per-patient
// measurement history.
package loinc

import (
	"context"
	"fmt"
	"time"

	"github.com/shaharoded/CDSS-Dev-Project/internal/storage"
	"github.com/shaharoded/CDSS-Dev-Project/internal/types"
	"github.com/shaharoded/CDSS-Dev-Project/internal/validation"
)

const (
	existsQuery = `SELECT 1 FROM Loinc WHERE LoincNum = ?`

	entryQuery = `SELECT LoincNum, Component, Property, TimeAspect, System, ScaleType, MethodType, AllowedValues
FROM Loinc WHERE LoincNum = ?`

	// Component lookup against the full dictionary (insert scope).
	byComponentDictQuery = `SELECT LoincNum FROM Loinc WHERE LOWER(Component) = LOWER(?) ORDER BY LoincNum`

	// Component lookup against the patient's measurements visible at the
	// snapshot (update/delete scope): an existing concept can be renamed
	// only to a code the patient already carries at that valid-start.
	byComponentHistoryQuery = `SELECT DISTINCT m.LoincNum
FROM Measurements m
JOIN Loinc l ON l.LoincNum = m.LoincNum
WHERE LOWER(l.Component) = LOWER(?)
  AND m.PatientId = ?
  AND m.ValidStartTime = ?
  AND m.TransactionInsertionTime <= ?
  AND (m.TransactionDeletionTime IS NULL OR m.TransactionDeletionTime > ?)
ORDER BY m.LoincNum`
)

// Resolver maps (LOINC code, component name) pairs to a canonical LoincNum.
type Resolver struct {
	store storage.Store
}

// NewResolver returns a Resolver backed by store.
func NewResolver(store storage.Store) *Resolver {
	return &Resolver{store: store}
}

// Exists reports whether loincNum is present in the dictionary.
func (r *Resolver) Exists(ctx context.Context, loincNum string) (bool, error) {
	return r.store.Exists(ctx, existsQuery, loincNum)
}

// Entry fetches the full dictionary entry for loincNum.
func (r *Resolver) Entry(ctx context.Context, loincNum string) (*types.LoincEntry, error) {
	rows, err := r.store.Fetch(ctx, entryQuery, loincNum)
	if err != nil {
		return nil, fmt.Errorf("fetch LOINC entry: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("loinc %s: %w", loincNum, storage.ErrLoincNotFound)
	}
	row := rows[0]
	return &types.LoincEntry{
		LoincNum:      row[0].String,
		Component:     row[1].String,
		Property:      row[2].String,
		TimeAspect:    row[3].String,
		System:        row[4].String,
		ScaleType:     row[5].String,
		MethodType:    row[6].String,
		AllowedValues: row[7].String,
	}, nil
}

// ResolveForInsert resolves (loincNum?, component?) against the full LOINC
// dictionary. At least one of the two must be provided.
func (r *Resolver) ResolveForInsert(ctx context.Context, loincNum, component string) (string, error) {
	return r.resolve(ctx, loincNum, component, func(ctx context.Context, component string) ([]string, error) {
		return r.codesByComponent(ctx, byComponentDictQuery, component)
	})
}

// ResolveForUpdate resolves (loincNum?, component?) against the patient's
// measurements visible at the snapshot. Used by update and delete, which may
// only address concepts the patient already has.
func (r *Resolver) ResolveForUpdate(ctx context.Context, loincNum, component, patientID string, validStart, snapshot time.Time) (string, error) {
	vs := types.FormatTime(validStart)
	snap := types.FormatTime(snapshot)
	return r.resolve(ctx, loincNum, component, func(ctx context.Context, component string) ([]string, error) {
		return r.codesByComponent(ctx, byComponentHistoryQuery, component, patientID, vs, snap, snap)
	})
}

type componentLookup func(ctx context.Context, component string) ([]string, error)

func (r *Resolver) resolve(ctx context.Context, loincNum, component string, lookup componentLookup) (string, error) {
	switch {
	case loincNum != "" && component != "":
		matches, err := lookup(ctx, component)
		if err != nil {
			return "", err
		}
		if len(matches) == 0 {
			return "", fmt.Errorf("component %q: %w", component, storage.ErrUnknownComponent)
		}
		for _, m := range matches {
			if m == loincNum {
				return loincNum, nil
			}
		}
		return "", fmt.Errorf("code %q vs component %q (candidates %v): %w",
			loincNum, component, matches, storage.ErrLoincMismatch)

	case component != "":
		matches, err := lookup(ctx, component)
		if err != nil {
			return "", err
		}
		if len(matches) == 0 {
			return "", fmt.Errorf("component %q: %w", component, storage.ErrUnknownComponent)
		}
		if len(matches) > 1 {
			return "", fmt.Errorf("component %q matches %v: %w", component, matches, storage.ErrAmbiguousComponent)
		}
		return matches[0], nil

	case loincNum != "":
		ok, err := r.Exists(ctx, loincNum)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("loinc %s: %w", loincNum, storage.ErrLoincNotFound)
		}
		return loincNum, nil
	}
	return "", fmt.Errorf("%w: a LOINC code or a component name is required", validation.ErrInvalidInput)
}

func (r *Resolver) codesByComponent(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.store.Fetch(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("component lookup: %w", err)
	}
	codes := make([]string, 0, len(rows))
	for _, row := range rows {
		codes = append(codes, row[0].String)
	}
	return codes, nil
}
