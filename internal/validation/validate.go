// Package validation provides pure validators for identifiers, dates and
// measurement values. Nothing in this package touches storage.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shaharoded/CDSS-Dev-Project/internal/types"
)

// Sentinel errors for validation failures.
var (
	// ErrInvalidInput indicates a syntactic validation failure: id, name,
	// date parse, value format or allowed-values membership.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDateOrder indicates two dates were given in the wrong order.
	ErrDateOrder = errors.New("dates out of order")
)

var (
	patientIDRe = regexp.MustCompile(`^\d{9}$`)
	nameRe      = regexp.MustCompile(`^[A-Za-z'-]+$`)
	isoDateRe   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}( \d{2}:\d{2}(:\d{2})?)?$`)
)

// PatientID validates that id is exactly 9 ASCII digits.
func PatientID(id string) error {
	if !patientIDRe.MatchString(id) {
		return fmt.Errorf("%w: patient ID must be exactly 9 digits, got %q", ErrInvalidInput, id)
	}
	return nil
}

// Name validates a first or last name: letters, hyphens and apostrophes only.
func Name(name, field string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %s must contain only letters, hyphens or apostrophes, got %q", ErrInvalidInput, field, name)
	}
	return nil
}

// SexValue validates and canonicalizes a sex attribute (case-insensitive).
func SexValue(s string) (types.Sex, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male":
		return types.SexMale, nil
	case "female":
		return types.SexFemale, nil
	}
	return "", fmt.Errorf("%w: sex must be Male or Female, got %q", ErrInvalidInput, s)
}

// isoLayouts parse month-first inputs; dayFirstLayouts parse everything else.
var isoLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var dayFirstLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
}

// ParseDateTime parses a dual-format datetime string. ISO inputs
// (YYYY-MM-DD[ HH:MM[:SS]]) parse month-first; anything else attempts
// day-first parsing (e.g. DD/MM/YYYY HH:MM). dateOnly reports that the
// input carried no time-of-day component.
func ParseDateTime(s string) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, fmt.Errorf("%w: empty date", ErrInvalidInput)
	}

	layouts := dayFirstLayouts
	if isoDateRe.MatchString(s) {
		layouts = isoLayouts
	}
	for _, layout := range layouts {
		parsed, perr := time.ParseInLocation(layout, s, time.Local)
		if perr == nil {
			return parsed, !strings.Contains(layout, "15:04"), nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: %q could not be parsed as a date or datetime", ErrInvalidInput, s)
}

// ParseStartBound parses s as the start of a window: date-only inputs gain
// 00:00:00.
func ParseStartBound(s string) (time.Time, error) {
	t, _, err := ParseDateTime(s)
	return t, err
}

// ParseEndBound parses s as the end of a window or a snapshot: date-only
// inputs gain 23:59:59.
func ParseEndBound(s string) (time.Time, error) {
	t, dateOnly, err := ParseDateTime(s)
	if err != nil {
		return time.Time{}, err
	}
	if dateOnly {
		t = EndOfDay(t)
	}
	return t, nil
}

// EndOfDay returns t with the time-of-day set to 23:59:59.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// DatesOrdered verifies later >= early. Field names are used in the error.
func DatesOrdered(early, later time.Time, earlyField, laterField string) error {
	if later.Before(early) {
		return fmt.Errorf("%w: %s (%s) cannot be earlier than %s (%s)", ErrDateOrder,
			laterField, types.FormatTime(later), earlyField, types.FormatTime(early))
	}
	return nil
}

// CheckAllowedValue validates value against a LOINC entry's AllowedValues:
// empty accepts anything, the token "NUM" requires a real number, and a
// serialized list requires membership.
func CheckAllowedValue(value, allowedValues string) error {
	allowedValues = strings.TrimSpace(allowedValues)
	if allowedValues == "" {
		return nil
	}
	if allowedValues == types.AllowedValuesNumeric {
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			return fmt.Errorf("%w: value %q must be numeric", ErrInvalidInput, value)
		}
		return nil
	}
	allowed := parseAllowedList(allowedValues)
	for _, a := range allowed {
		if a == value {
			return nil
		}
	}
	return fmt.Errorf("%w: value %q not in allowed values %v", ErrInvalidInput, value, allowed)
}

// parseAllowedList decodes a serialized allowed-values list: a JSON array of
// strings, or a ";"-separated list for dictionaries exported that way.
func parseAllowedList(s string) []string {
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		return list
	}
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
