// Package timeparsing parses the compact duration syntax used by TAK
// persistence windows and relevance settings.
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// compactDurationRe matches compact duration patterns: (\d+)([mhd])
// Examples: 15m, 72h, 2d
var compactDurationRe = regexp.MustCompile(`^(\d+)([mhd])$`)

// ParseDuration parses compact duration syntax into a time.Duration.
//
// Units:
//   - m = minutes
//   - h = hours
//   - d = days
//
// Examples: "15m", "72h", "2d".
func ParseDuration(s string) (time.Duration, error) {
	matches := compactDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("not a compact duration: %q", s)
	}

	amount, err := strconv.Atoi(matches[1])
	if err != nil {
		// Should not happen given regex ensures digits, but handle gracefully
		return 0, fmt.Errorf("invalid duration amount: %q", matches[1])
	}

	switch matches[2] {
	case "m":
		return time.Duration(amount) * time.Minute, nil
	case "h":
		return time.Duration(amount) * time.Hour, nil
	case "d":
		return time.Duration(amount) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported duration unit: %q", matches[2])
}

// IsCompactDuration returns true if the string matches compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}
