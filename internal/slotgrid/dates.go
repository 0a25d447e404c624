package slotgrid

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the machine-sortable date key, e.g. "2025-01-10".
	DateLayout = "2006-01-02"
	// DateLabelLayout is the display label, e.g. "Fri, Jan 10".
	DateLabelLayout = "Mon, Jan 2"
)

type UpcomingDate struct {
	Date  string `json:"date"`
	Label string `json:"label"`
}

// UpcomingDates returns the next n bookable calendar dates starting with the day
// of from. With skipWeekends, Saturdays and Sundays are passed over and the
// window is extended so that n dates are still returned.
func UpcomingDates(from time.Time, n int, skipWeekends bool) []UpcomingDate {
	if n <= 0 {
		return nil
	}

	day := StartOfDay(from)
	out := make([]UpcomingDate, 0, n)
	for len(out) < n {
		if !skipWeekends || !IsWeekend(day) {
			out = append(out, UpcomingDate{
				Date:  day.Format(DateLayout),
				Label: day.Format(DateLabelLayout),
			})
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// ParseDate parses a DateLayout key as midnight in loc.
func ParseDate(key string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: expected YYYY-MM-DD", key)
	}
	return t, nil
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
