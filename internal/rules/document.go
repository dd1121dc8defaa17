// Package rules implements the two-tier clinical rule processor. Declarative
// rules derive patient state from abstracted intervals, procedural rules
// derive recommendations from state, and results cascade through an
// in-memory state cache within a single analysis run.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrRulesValidation reports that the rule repository failed startup
// validation. Wrapped errors carry the offending file and field.
var ErrRulesValidation = errors.New("rule repository validation failed")

// Tier is the rule hierarchy level. Declarative rules run first.
type Tier string

const (
	TierDeclarative Tier = "declarative"
	TierProcedural  Tier = "procedural"
)

// LogicType selects how a rule's conditions combine.
type LogicType string

const (
	// LogicAND matches the first condition whose every parameter constraint
	// holds.
	LogicAND LogicType = "AND"
	// LogicOR matches the latest condition any of whose parameter
	// constraints holds. With conditions ordered by severity this yields
	// the maximal severity.
	LogicOR LogicType = "OR"
)

// Condition is one condition of a rule: its identifier and the allowed
// values per parameter. Conditions keep their document order; evaluation
// depends on it.
type Condition struct {
	ID     string
	Params map[string][]string
}

// StructuredRule is one parsed and validated rule document.
type StructuredRule struct {
	RuleName        string
	Tier            Tier
	ExecutionOrder  int
	SyntheticLoinc  string
	InputParameters []string
	Logic           LogicType
	Conditions      []Condition
	// Values maps ConditionId to its output. Declarative outputs hold a
	// single element; procedural outputs are recommendation lists.
	Values   map[string][]string
	Fallback []string
}

// Evaluate applies the rule's logic to the resolved inputs, keyed by
// lower-cased parameter name. Missing parameters never satisfy a
// constraint. Returns the matched condition's output or the fallback.
func (r *StructuredRule) Evaluate(inputs map[string]string) []string {
	if r.Logic == LogicOR {
		return r.evaluateOR(inputs)
	}
	return r.evaluateAND(inputs)
}

// evaluateAND returns the first condition for which every parameter has a
// non-null input contained in its allowed list.
func (r *StructuredRule) evaluateAND(inputs map[string]string) []string {
	for _, cond := range r.Conditions {
		matched := true
		for param, allowed := range cond.Params {
			value, ok := inputs[strings.ToLower(param)]
			if !ok || !containsFold(allowed, value) {
				matched = false
				break
			}
		}
		if matched {
			return r.Values[cond.ID]
		}
	}
	return r.Fallback
}

// evaluateOR returns the latest condition for which any parameter's input
// is contained in its allowed list.
func (r *StructuredRule) evaluateOR(inputs map[string]string) []string {
	best := -1
	for i, cond := range r.Conditions {
		for param, allowed := range cond.Params {
			value, ok := inputs[strings.ToLower(param)]
			if ok && containsFold(allowed, value) {
				best = i
				break
			}
		}
	}
	if best < 0 {
		return r.Fallback
	}
	return r.Values[r.Conditions[best].ID]
}

func containsFold(list []string, value string) bool {
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// ruleDocument is the on-disk JSON shape of one rule.
type ruleDocument struct {
	RuleName        string                     `json:"rule_name"`
	HierarchyLevel  string                     `json:"hierarchy_level"`
	ExecutionOrder  int                        `json:"execution_order"`
	SyntheticLoinc  string                     `json:"synthetic_loinc"`
	InputParameters []string                   `json:"input_parameters"`
	LogicType       string                     `json:"logic_type"`
	Rules           orderedConditions          `json:"rules"`
	Values          map[string]json.RawMessage `json:"values"`
	FallbackValue   json.RawMessage            `json:"fallback_value"`
}

var requiredKeys = []string{
	"rule_name", "hierarchy_level", "execution_order", "synthetic_loinc",
	"input_parameters", "logic_type", "rules", "values", "fallback_value",
}

// orderedConditions decodes the rules object preserving key order, which
// json.Unmarshal into a map would lose.
type orderedConditions []Condition

func (c *orderedConditions) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("rules must be a JSON object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		id, _ := keyTok.(string)
		var params map[string][]string
		if err := dec.Decode(&params); err != nil {
			return fmt.Errorf("condition %q: %w", id, err)
		}
		*c = append(*c, Condition{ID: id, Params: params})
	}
	_, err = dec.Token()
	return err
}

// loadRuleFile parses and validates one rule document. tier is the tier
// implied by the containing subdirectory; the document's own
// hierarchy_level must agree.
func loadRuleFile(path string, tier Tier) (*StructuredRule, error) {
	data, err := os.ReadFile(path) // #nosec G304 - controlled path from config
	if err != nil {
		return nil, err
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse rule document: %w", err)
	}
	for _, key := range requiredKeys {
		if _, ok := keys[key]; !ok {
			return nil, fmt.Errorf("missing required key %q: %w", key, ErrRulesValidation)
		}
	}

	var doc ruleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule document: %w", err)
	}
	if Tier(doc.HierarchyLevel) != tier {
		return nil, fmt.Errorf("hierarchy_level %q does not match %s_knowledge directory: %w",
			doc.HierarchyLevel, tier, ErrRulesValidation)
	}

	logic := LogicType(strings.ToUpper(doc.LogicType))
	if logic != LogicAND && logic != LogicOR {
		return nil, fmt.Errorf("logic_type %q must be AND or OR: %w", doc.LogicType, ErrRulesValidation)
	}

	seen := make(map[string]bool, len(doc.Rules))
	values := make(map[string][]string, len(doc.Rules))
	for _, cond := range doc.Rules {
		if seen[cond.ID] {
			return nil, fmt.Errorf("duplicate condition id %q: %w", cond.ID, ErrRulesValidation)
		}
		seen[cond.ID] = true

		raw, ok := doc.Values[cond.ID]
		if !ok {
			return nil, fmt.Errorf("condition %q has no entry in values: %w", cond.ID, ErrRulesValidation)
		}
		value, err := decodeTierValue(raw, tier)
		if err != nil {
			return nil, fmt.Errorf("values[%q]: %w", cond.ID, err)
		}
		values[cond.ID] = value
	}

	fallback, err := decodeTierValue(doc.FallbackValue, tier)
	if err != nil {
		return nil, fmt.Errorf("fallback_value: %w", err)
	}

	return &StructuredRule{
		RuleName:        doc.RuleName,
		Tier:            tier,
		ExecutionOrder:  doc.ExecutionOrder,
		SyntheticLoinc:  doc.SyntheticLoinc,
		InputParameters: doc.InputParameters,
		Logic:           logic,
		Conditions:      doc.Rules,
		Values:          values,
		Fallback:        fallback,
	}, nil
}

// decodeTierValue enforces the tier's value shape: declarative outputs are
// single strings, procedural outputs are lists of strings.
func decodeTierValue(raw json.RawMessage, tier Tier) ([]string, error) {
	if tier == TierDeclarative {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("declarative value must be a string: %w", ErrRulesValidation)
		}
		return []string{s}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("procedural value must be a list of strings: %w", ErrRulesValidation)
	}
	return list, nil
}
