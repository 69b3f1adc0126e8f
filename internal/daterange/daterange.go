package daterange

import (
	"fmt"
	"slices"
	"time"
)

// KeyLayout is the date layout used whenever a date takes part in a cache key.
const KeyLayout = "2006-01-02"

// Range is an inclusive span of days that never crosses a calendar month.
type Range struct {
	Start time.Time
	End   time.Time
}

// String renders the range as "start..end".
func (r Range) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(KeyLayout), r.End.Format(KeyLayout))
}

// Partition splits [from, to] into calendar-month sub-ranges in forward order.
// The first range starts at from, the last ends at to, and every range in
// between covers one full month.
func Partition(from, to time.Time) ([]Range, error) {
	from = truncate(from)
	to = truncate(to)
	if to.Before(from) {
		return nil, fmt.Errorf("invalid date range: %s is after %s",
			from.Format(KeyLayout), to.Format(KeyLayout))
	}

	if sameMonth(from, to) {
		return []Range{{Start: from, End: to}}, nil
	}

	var ranges []Range
	start := from
	for {
		end := endOfMonth(start)
		if !end.Before(to) {
			ranges = append(ranges, Range{Start: start, End: to})
			return ranges, nil
		}
		ranges = append(ranges, Range{Start: start, End: end})
		start = end.AddDate(0, 0, 1)
	}
}

// Reverse returns a copy of ranges with the most recent range first.
func Reverse(ranges []Range) []Range {
	out := slices.Clone(ranges)
	slices.Reverse(out)
	return out
}

func truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func endOfMonth(t time.Time) time.Time {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location())
}
