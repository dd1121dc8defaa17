package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shaharoded/CDSS-Dev-Project/internal/storage"
	"github.com/shaharoded/CDSS-Dev-Project/internal/types"
)

const patientRowQuery = `SELECT PatientId, FirstName, LastName, Sex FROM Patients WHERE PatientId = ?`

// ListSeparator joins multi-valued rule outputs into a single state value.
const ListSeparator = "; "

// Processor evaluates the repository's rules for one patient over their
// abstracted interval set.
type Processor struct {
	store storage.Store
	repo  *Repository
	log   *slog.Logger
}

// NewProcessor returns a processor bound to the store and rule repository.
func NewProcessor(store storage.Store, repo *Repository, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{store: store, repo: repo, log: log}
}

// Run evaluates both tiers for the patient, declarative first, each in
// execution order. Each rule's result enters the state cache under its
// rule name so later rules can consume it. The returned state map carries
// PatientId plus one entry per evaluated rule.
func (p *Processor) Run(ctx context.Context, patientID string, records []types.AbstractedRecord) (map[string]string, error) {
	attrs, err := p.patientAttributes(ctx, patientID)
	if err != nil {
		return nil, err
	}

	// State cache keyed by lower-cased rule name; lookups during parameter
	// resolution are case-insensitive.
	cache := make(map[string]string)
	results := map[string]string{"PatientId": patientID}

	declarative, procedural := p.repo.Tiers()
	for _, tier := range [2][]StructuredRule{declarative, procedural} {
		for i := range tier {
			rule := &tier[i]
			inputs := resolveInputs(rule.InputParameters, attrs, cache, records)
			value := strings.Join(rule.Evaluate(inputs), ListSeparator)
			results[rule.RuleName] = value
			cache[strings.ToLower(rule.RuleName)] = value
			p.log.Debug("rule evaluated",
				"patient", patientID, "rule", rule.RuleName, "value", value)
		}
	}
	return results, nil
}

// resolveInputs resolves each parameter name, case-insensitively, against
// the patient's demographic attributes, then the state cache, then the
// most recent abstracted interval whose concept name matches. Unresolved
// parameters are absent from the returned map.
func resolveInputs(params []string, attrs, cache map[string]string, records []types.AbstractedRecord) map[string]string {
	inputs := make(map[string]string, len(params))
	for _, param := range params {
		key := strings.ToLower(param)
		if value, ok := attrs[key]; ok {
			inputs[key] = value
			continue
		}
		if value, ok := cache[key]; ok {
			inputs[key] = value
			continue
		}
		if value, ok := latestByConcept(records, param); ok {
			inputs[key] = value
		}
	}
	return inputs
}

// latestByConcept returns the value of the record with the greatest Start
// among those whose ConceptName equals name, case-insensitively.
func latestByConcept(records []types.AbstractedRecord, name string) (string, bool) {
	best := -1
	for i := range records {
		if !strings.EqualFold(records[i].ConceptName, name) {
			continue
		}
		if best < 0 || records[i].Start.After(records[best].Start) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return records[best].Value, true
}

func (p *Processor) patientAttributes(ctx context.Context, patientID string) (map[string]string, error) {
	rows, err := p.store.Fetch(ctx, patientRowQuery, patientID)
	if err != nil {
		return nil, fmt.Errorf("fetch patient: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("patient %s: %w", patientID, storage.ErrPatientNotFound)
	}
	patient := types.Patient{
		PatientID: rows[0][0].String,
		FirstName: rows[0][1].String,
		LastName:  rows[0][2].String,
		Sex:       types.Sex(rows[0][3].String),
	}
	return patient.Attributes(), nil
}
