// Package types defines core data structures for the CDSS core:
// patients, LOINC dictionary entries, bi-temporal measurements and
// abstracted interval records.
package types

import "time"

// DBTimeFormat is the canonical datetime layout for every datetime column.
// Values are naive local time and compare lexically in SQL.
const DBTimeFormat = "2006-01-02 15:04:05"

// FormatTime renders t in the canonical database layout.
func FormatTime(t time.Time) string {
	return t.Format(DBTimeFormat)
}

// ParseDBTime parses a value previously written with FormatTime.
func ParseDBTime(s string) (time.Time, error) {
	return time.ParseInLocation(DBTimeFormat, s, time.Local)
}

// Sex is the patient sex attribute.
type Sex string

const (
	SexMale   Sex = "Male"
	SexFemale Sex = "Female"
)

// IsValid reports whether s is one of the recognized sex values.
func (s Sex) IsValid() bool {
	return s == SexMale || s == SexFemale
}

// Patient is a row of the Patients table. Patients are created once and
// never mutated by the core.
type Patient struct {
	PatientID string
	FirstName string
	LastName  string
	Sex       Sex
}

// Attributes returns the patient's demographic attributes keyed by
// lower-cased name, the form TAK filters and rule parameters match against.
func (p *Patient) Attributes() map[string]string {
	return map[string]string{
		"sex":        string(p.Sex),
		"first_name": p.FirstName,
		"last_name":  p.LastName,
	}
}

// AllowedValuesNumeric is the AllowedValues token meaning "any real number".
const AllowedValuesNumeric = "NUM"

// LoincEntry is a row of the Loinc dictionary table.
type LoincEntry struct {
	LoincNum   string
	Component  string
	Property   string
	TimeAspect string
	System     string
	ScaleType  string
	MethodType string
	// AllowedValues is either empty (unconstrained), the token "NUM", or a
	// serialized list of permitted strings. See validation.CheckAllowedValue.
	AllowedValues string
}

// Measurement is a raw bi-temporal measurement row.
//
// Invariants:
//   - ValidStartTime <= TransactionInsertionTime
//   - TransactionDeletionTime, when set, is > TransactionInsertionTime
//   - rows sharing (PatientID, LoincNum, ValidStartTime) form a lineage
//     ordered by TransactionInsertionTime, each closed by the next row's
//     insertion time
type Measurement struct {
	MeasurementID            int64
	PatientID                string
	LoincNum                 string
	Value                    string
	Unit                     string
	ValidStartTime           time.Time
	TransactionInsertionTime time.Time
	TransactionDeletionTime  *time.Time
}

// VisibleAt reports whether the row is visible at snapshot s: inserted at or
// before s and not yet logically deleted as of s.
func (m *Measurement) VisibleAt(s time.Time) bool {
	if m.TransactionInsertionTime.After(s) {
		return false
	}
	return m.TransactionDeletionTime == nil || m.TransactionDeletionTime.After(s)
}

// HistoryRow is a measurement joined with its LOINC entry for display.
type HistoryRow struct {
	LoincNum                 string
	Component                string
	Value                    string
	Unit                     string
	ValidStartTime           time.Time
	TransactionInsertionTime time.Time
}

// Source tags where an abstracted record came from.
type Source string

const (
	// SourceAbstracted marks intervals produced by a TAK rule.
	SourceAbstracted Source = "abstracted"
	// SourceRaw marks raw measurements no TAK rule consumed, emitted as
	// single-point intervals extended by the relevance window.
	SourceRaw Source = "raw"
)

// AbstractedRecord is one labeled interval in the unified mediator output
// and a row of the AbstractedMeasurements table. Derived data; rebuilt in
// full on every abstraction run, no bi-temporal semantics.
type AbstractedRecord struct {
	PatientID   string
	LoincCode   string
	ConceptName string
	Value       string
	Start       time.Time
	End         time.Time
	Source      Source
}

// Covers reports whether the interval contains instant t (inclusive bounds).
func (r *AbstractedRecord) Covers(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}
