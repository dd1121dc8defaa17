// Package mediator implements the temporal abstraction engine: it loads
// TAK (Temporal Abstraction Knowledge) documents, classifies raw
// measurements into labeled intervals and merges them per patient.
package mediator

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shaharoded/CDSS-Dev-Project/internal/timeparsing"
)

// Threshold is one ordered classification band. Min is inclusive, Max
// exclusive; nil means unbounded on that side.
type Threshold struct {
	Label string
	Min   *float64
	Max   *float64
}

// Matches reports whether value falls inside the band.
func (t Threshold) Matches(value float64) bool {
	if t.Min != nil && value < *t.Min {
		return false
	}
	if t.Max != nil && value >= *t.Max {
		return false
	}
	return true
}

// Rule is a single temporal abstraction rule: one condition of a TAK
// document, bound to a LOINC code with a patient filter set, a persistence
// window and ordered thresholds.
type Rule struct {
	AbstractionName string
	LoincCode       string
	Filters         map[string]string
	GoodBefore      time.Duration
	GoodAfter       time.Duration
	Thresholds      []Threshold
}

// AppliesTo reports whether the rule applies to a patient: every filter key
// must exist in the attributes and match its value, case-insensitively.
func (r *Rule) AppliesTo(attrs map[string]string) bool {
	for key, want := range r.Filters {
		got, ok := attrs[strings.ToLower(key)]
		if !ok || !strings.EqualFold(got, want) {
			return false
		}
	}
	return true
}

// Classify returns the label of the first threshold containing value.
func (r *Rule) Classify(value float64) (string, bool) {
	for _, t := range r.Thresholds {
		if t.Matches(value) {
			return t.Label, true
		}
	}
	return "", false
}

// TAK document wire format. The condition element carries arbitrary
// attributes which become patient filters.
type takDocument struct {
	Name       string         `xml:"name,attr"`
	Loinc      string         `xml:"loinc,attr"`
	Conditions []takCondition `xml:"condition"`
}

type takCondition struct {
	Attrs       []xml.Attr     `xml:",any,attr"`
	Persistence takPersistence `xml:"persistence"`
	Rules       []takThreshold `xml:"rule"`
}

type takPersistence struct {
	GoodBefore string `xml:"good-before,attr"`
	GoodAfter  string `xml:"good-after,attr"`
}

type takThreshold struct {
	Value string `xml:"value,attr"`
	Min   string `xml:"min,attr"`
	Max   string `xml:"max,attr"`
}

// LoadTAKDirectory parses every .xml document under dir into rules. Each
// condition node yields one Rule. Documents are validated here, once; the
// parsed rules are reused across runs.
func LoadTAKDirectory(dir string) ([]Rule, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return nil, fmt.Errorf("scan TAK directory: %w", err)
	}

	var rules []Rule
	for _, path := range paths {
		docRules, err := loadTAKFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		rules = append(rules, docRules...)
	}
	return rules, nil
}

func loadTAKFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path) // #nosec G304 - controlled path from config
	if err != nil {
		return nil, err
	}

	var doc takDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse TAK document: %w", err)
	}
	if doc.Name == "" || doc.Loinc == "" {
		return nil, fmt.Errorf("TAK document must carry name and loinc attributes")
	}

	rules := make([]Rule, 0, len(doc.Conditions))
	for i, cond := range doc.Conditions {
		rule, err := buildRule(doc, cond)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func buildRule(doc takDocument, cond takCondition) (Rule, error) {
	before, err := timeparsing.ParseDuration(cond.Persistence.GoodBefore)
	if err != nil {
		return Rule{}, fmt.Errorf("good-before: %w", err)
	}
	after, err := timeparsing.ParseDuration(cond.Persistence.GoodAfter)
	if err != nil {
		return Rule{}, fmt.Errorf("good-after: %w", err)
	}

	filters := make(map[string]string, len(cond.Attrs))
	for _, attr := range cond.Attrs {
		filters[strings.ToLower(attr.Name.Local)] = attr.Value
	}

	thresholds := make([]Threshold, 0, len(cond.Rules))
	for _, r := range cond.Rules {
		if r.Value == "" {
			return Rule{}, fmt.Errorf("rule node missing value attribute")
		}
		t := Threshold{Label: r.Value}
		if r.Min != "" {
			min, err := strconv.ParseFloat(r.Min, 64)
			if err != nil {
				return Rule{}, fmt.Errorf("rule %q min: %w", r.Value, err)
			}
			t.Min = &min
		}
		if r.Max != "" {
			max, err := strconv.ParseFloat(r.Max, 64)
			if err != nil {
				return Rule{}, fmt.Errorf("rule %q max: %w", r.Value, err)
			}
			t.Max = &max
		}
		thresholds = append(thresholds, t)
	}
	if len(thresholds) == 0 {
		return Rule{}, fmt.Errorf("condition has no rule nodes")
	}

	return Rule{
		AbstractionName: doc.Name,
		LoincCode:       doc.Loinc,
		Filters:         filters,
		GoodBefore:      before,
		GoodAfter:       after,
		Thresholds:      thresholds,
	}, nil
}
