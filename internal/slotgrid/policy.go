package slotgrid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const minutesPerDay = 24 * 60

var ErrInvalidPolicy = errors.New("invalid working hours policy")

// Break is a half-open [StartMinute, EndMinute) interval in minutes from midnight
// during which no slot may start or overlap.
type Break struct {
	StartMinute int `json:"startMinute"`
	EndMinute   int `json:"endMinute"`
}

// Overlaps reports whether [start, end) intersects the break.
func (b Break) Overlaps(start, end int) bool {
	return start < b.EndMinute && end > b.StartMinute
}

// Policy is the clinic's working-hours configuration. It is immutable per deployment.
type Policy struct {
	DayStartMinute      int     `json:"dayStartMinute"`
	DayEndMinute        int     `json:"dayEndMinute"`
	SlotDurationMinutes int     `json:"slotDurationMinutes"`
	Breaks              []Break `json:"breaks"`
	SkipWeekends        bool    `json:"skipWeekends"`
}

// DefaultPolicy is the observed clinic policy: 9:00 to 17:00 in 30 minute slots,
// two snack breaks and a lunch hour.
func DefaultPolicy() Policy {
	return Policy{
		DayStartMinute:      9 * 60,
		DayEndMinute:        17 * 60,
		SlotDurationMinutes: 30,
		Breaks: []Break{
			{StartMinute: 11 * 60, EndMinute: 11*60 + 10},
			{StartMinute: 13 * 60, EndMinute: 14 * 60},
			{StartMinute: 15 * 60, EndMinute: 15*60 + 10},
		},
		SkipWeekends: true,
	}
}

// Validate rejects policies the slot walk cannot handle deterministically.
// Breaks must be non-empty, inside the working day, and must neither overlap
// nor touch each other; touching breaks should be declared as one.
func (p Policy) Validate() error {
	if p.DayStartMinute < 0 || p.DayEndMinute > minutesPerDay {
		return fmt.Errorf("%w: working day must lie within 00:00-24:00", ErrInvalidPolicy)
	}
	if p.DayStartMinute >= p.DayEndMinute {
		return fmt.Errorf("%w: day start %s is not before day end %s",
			ErrInvalidPolicy, FormatClock(p.DayStartMinute), FormatClock(p.DayEndMinute))
	}
	if p.SlotDurationMinutes <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidPolicy)
	}
	if p.SlotDurationMinutes > p.DayEndMinute-p.DayStartMinute {
		return fmt.Errorf("%w: slot duration exceeds the working day", ErrInvalidPolicy)
	}

	for i, b := range p.Breaks {
		if b.StartMinute >= b.EndMinute {
			return fmt.Errorf("%w: break %d (%s) is empty", ErrInvalidPolicy, i, b)
		}
		if b.StartMinute < p.DayStartMinute || b.EndMinute > p.DayEndMinute {
			return fmt.Errorf("%w: break %d (%s) lies outside working hours", ErrInvalidPolicy, i, b)
		}
		for j := 0; j < i; j++ {
			other := p.Breaks[j]
			if b.StartMinute <= other.EndMinute && b.EndMinute >= other.StartMinute {
				return fmt.Errorf("%w: break %d (%s) overlaps or touches break %d (%s)",
					ErrInvalidPolicy, i, b, j, other)
			}
		}
	}

	return nil
}

func (b Break) String() string {
	return FormatClock(b.StartMinute) + "-" + FormatClock(b.EndMinute)
}

// ParseClock parses a 24h "HH:MM" string into minutes from midnight.
// "24:00" is accepted as the end of the day.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("clock %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("clock %q: bad hour: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("clock %q: bad minute: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock %q: out of range", s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes from midnight as 24h "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ParseBreaks parses a comma separated list such as "11:00-11:10,13:00-14:00".
// Declaration order is preserved.
func ParseBreaks(s string) ([]Break, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out []Break
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, ok := strings.Cut(part, "-")
		if !ok {
			return nil, fmt.Errorf("break %q: expected HH:MM-HH:MM", part)
		}
		start, err := ParseClock(from)
		if err != nil {
			return nil, fmt.Errorf("break %q: %w", part, err)
		}
		end, err := ParseClock(to)
		if err != nil {
			return nil, fmt.Errorf("break %q: %w", part, err)
		}
		out = append(out, Break{StartMinute: start, EndMinute: end})
	}
	return out, nil
}
