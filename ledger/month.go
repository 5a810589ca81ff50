package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - Normalized calendar month key (YYYY-MM-01)
// =============================================================================

// Month is the key of a contribution and of a MonthlyStats document.
// A valid Month is always the first day of a month, formatted YYYY-MM-01,
// so lexical order is chronological order.
type Month string

const monthLayout = "2006-01-02"

// MonthOf returns the month containing t, in t's own location.
func MonthOf(t time.Time) Month {
	return Month(time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Format(monthLayout))
}

// CurrentMonth returns the month containing now as seen in loc.
func CurrentMonth(now time.Time, loc *time.Location) Month {
	if loc == nil {
		loc = time.UTC
	}
	return MonthOf(now.In(loc))
}

// NewMonth builds a Month from its parts.
func NewMonth(year int, month time.Month) Month {
	return MonthOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

// ParseMonth accepts "2024-07", "2024-07-15" or an RFC3339 timestamp and
// normalizes it to the first of the month.
func ParseMonth(s string) (Month, error) {
	for _, layout := range []string{"2006-01", monthLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return MonthOf(t), nil
		}
	}
	return "", &ValidationError{Field: "month", Message: fmt.Sprintf("invalid month %q (use YYYY-MM or YYYY-MM-DD)", s)}
}

// Time returns the first instant of the month in UTC.
func (m Month) Time() time.Time {
	t, _ := time.Parse(monthLayout, string(m))
	return t
}

func (m Month) Next() Month { return MonthOf(m.Time().AddDate(0, 1, 0)) }
func (m Month) Prev() Month { return MonthOf(m.Time().AddDate(0, -1, 0)) }

func (m Month) Before(other Month) bool { return m < other }
func (m Month) After(other Month) bool  { return m > other }
func (m Month) IsZero() bool            { return m == "" }
func (m Month) String() string          { return string(m) }

// Label renders the month for humans, e.g. "Jul 2024".
func (m Month) Label() string { return m.Time().Format("Jan 2006") }

// Validate reports whether m is a normalized month key.
func (m Month) Validate() error {
	t, err := time.Parse(monthLayout, string(m))
	if err != nil || t.Day() != 1 {
		return &ValidationError{Field: "month", Message: fmt.Sprintf("%q is not a normalized month (YYYY-MM-01)", string(m))}
	}
	return nil
}

// MonthRange returns every month from first to last inclusive.
func MonthRange(first, last Month) []Month {
	var out []Month
	for m := first; !m.After(last); m = m.Next() {
		out = append(out, m)
	}
	return out
}
