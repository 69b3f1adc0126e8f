package format

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// NaT is how an unparseable date is rendered.
const NaT = "NaT"

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"02-Jan-2006",
	"02 Jan 2006",
}

// Float parses s, returning NaN when it is not a number.
func Float(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// Int parses s as an integer, returning 0 when it is not one.
func Int(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Date parses s in any of the layouts the upstream sites use, returning the
// zero time when none matches.
func Date(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Convert parses raw as kind.
func Convert(raw string, kind Kind) any {
	switch kind {
	case KindFloat:
		return Float(raw)
	case KindInt:
		return Int(raw)
	case KindDate:
		return Date(raw)
	default:
		return raw
	}
}

// Display renders a typed value for humans.
func Display(v any) string {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) {
			return "NaN"
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		if t.IsZero() {
			return NaT
		}
		return t.Format("2006-01-02")
	case string:
		return t
	}
	return ""
}
