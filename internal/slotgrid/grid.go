// Package slotgrid derives the bookable time slots of a clinic day from its
// working-hours policy. Everything here is pure; no I/O and no hidden state.
package slotgrid

import (
	"fmt"
	"strings"
	"time"
)

// labelLayout is the display format of a slot start, e.g. "9:00 AM".
const labelLayout = "3:04 PM"

// TimeSlot is a derived, non-persisted bookable interval.
type TimeSlot struct {
	StartMinute int    `json:"startMinute"`
	EndMinute   int    `json:"endMinute"`
	Label       string `json:"label"`
}

// On returns the wall-clock start of the slot on the given calendar day,
// in the day's location.
func (s TimeSlot) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, s.StartMinute/60, s.StartMinute%60, 0, 0, day.Location())
}

// GenerateSlots walks the working day from DayStartMinute in steps of
// SlotDurationMinutes and emits every interval that ends within the day and
// does not overlap a break. When the next step would reach or cross the start
// of a break that still lies ahead of the cursor, the cursor jumps to that
// break's end instead. Breaks are consulted in declaration order; the first
// match wins.
func GenerateSlots(p Policy) []TimeSlot {
	if p.SlotDurationMinutes <= 0 {
		return nil
	}

	var slots []TimeSlot
	cursor := p.DayStartMinute
	for cursor < p.DayEndMinute {
		end := cursor + p.SlotDurationMinutes
		if end <= p.DayEndMinute && !overlapsAny(p.Breaks, cursor, end) {
			slots = append(slots, TimeSlot{
				StartMinute: cursor,
				EndMinute:   end,
				Label:       FormatLabel(cursor),
			})
		}

		next := end
		for _, b := range p.Breaks {
			if cursor < b.StartMinute && next >= b.StartMinute {
				next = b.EndMinute
				break
			}
		}
		cursor = next
	}
	return slots
}

func overlapsAny(breaks []Break, start, end int) bool {
	for _, b := range breaks {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// FormatLabel renders minutes from midnight in the 12h display form used as
// the appointment time, e.g. 540 -> "9:00 AM", 870 -> "2:30 PM".
func FormatLabel(minute int) string {
	h := minute / 60
	m := minute % 60
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, m, suffix)
}

// ParseLabel is the inverse of FormatLabel. The AM/PM marker is case-insensitive.
func ParseLabel(label string) (int, error) {
	t, err := time.Parse(labelLayout, strings.ToUpper(strings.TrimSpace(label)))
	if err != nil {
		return 0, fmt.Errorf("time label %q: %w", label, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Grid is a validated policy together with its precomputed slots.
type Grid struct {
	policy  Policy
	slots   []TimeSlot
	byLabel map[string]TimeSlot
}

// NewGrid validates the policy and generates its slots once.
func NewGrid(p Policy) (*Grid, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	slots := GenerateSlots(p)
	byLabel := make(map[string]TimeSlot, len(slots))
	for _, s := range slots {
		byLabel[s.Label] = s
	}

	return &Grid{policy: p, slots: slots, byLabel: byLabel}, nil
}

// Policy returns the policy the grid was built from.
func (g *Grid) Policy() Policy {
	return g.policy
}

// Slots returns a copy of the day's slots in ascending order.
func (g *Grid) Slots() []TimeSlot {
	out := make([]TimeSlot, len(g.slots))
	copy(out, g.slots)
	return out
}

// Lookup finds the slot whose label matches. Surrounding whitespace is ignored
// and the label is normalized first, so "09:00 AM" resolves like "9:00 AM".
func (g *Grid) Lookup(label string) (TimeSlot, bool) {
	if s, ok := g.byLabel[strings.TrimSpace(label)]; ok {
		return s, true
	}
	minute, err := ParseLabel(label)
	if err != nil {
		return TimeSlot{}, false
	}
	s, ok := g.byLabel[FormatLabel(minute)]
	return s, ok
}

// Explain returns a human reason why label is not a slot of this grid.
func (g *Grid) Explain(label string) string {
	minute, err := ParseLabel(label)
	if err != nil {
		return fmt.Sprintf("%q is not a time of the form 9:00 AM", label)
	}
	if minute < g.policy.DayStartMinute || minute+g.policy.SlotDurationMinutes > g.policy.DayEndMinute {
		return fmt.Sprintf("%s is outside working hours %s-%s", FormatLabel(minute),
			FormatClock(g.policy.DayStartMinute), FormatClock(g.policy.DayEndMinute))
	}
	for _, b := range g.policy.Breaks {
		if b.Overlaps(minute, minute+g.policy.SlotDurationMinutes) {
			return fmt.Sprintf("%s falls inside the %s break", FormatLabel(minute), b)
		}
	}
	return fmt.Sprintf("%s is not aligned to a %d minute slot", FormatLabel(minute), g.policy.SlotDurationMinutes)
}
