package shift

import (
	"fmt"
	"time"

	"github.com/ehr/urgencias/internal/platform/apperr"
)

// ClockTime is a wall-clock time of day in the hospital's timezone.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime reads "HH:MM" in 24-hour form.
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("clock time %q: %w", s, apperr.ErrValidation)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) on(y int, m time.Month, d int, loc *time.Location) time.Time {
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

// Hours holds the configured shift boundaries.
type Hours struct {
	MorningStart ClockTime
	MorningEnd   ClockTime
	NightStart   ClockTime
	NightEnd     ClockTime
	DoubleStart  ClockTime
	Location     *time.Location
}

// DefaultHours is 08:00-20:00 morning, 20:00-08:00 night and a double
// starting at 08:00.
func DefaultHours(loc *time.Location) Hours {
	return Hours{
		MorningStart: ClockTime{Hour: 8},
		MorningEnd:   ClockTime{Hour: 20},
		NightStart:   ClockTime{Hour: 20},
		NightEnd:     ClockTime{Hour: 8},
		DoubleStart:  ClockTime{Hour: 8},
		Location:     loc,
	}
}

// ParseHours builds Hours from "HH:MM" strings.
func ParseHours(morningStart, morningEnd, nightStart, nightEnd, doubleStart string, loc *time.Location) (Hours, error) {
	h := Hours{Location: loc}
	fields := []struct {
		dst *ClockTime
		src string
	}{
		{&h.MorningStart, morningStart},
		{&h.MorningEnd, morningEnd},
		{&h.NightStart, nightStart},
		{&h.NightEnd, nightEnd},
		{&h.DoubleStart, doubleStart},
	}
	for _, f := range fields {
		ct, err := ParseClockTime(f.src)
		if err != nil {
			return Hours{}, err
		}
		*f.dst = ct
	}
	if loc == nil {
		h.Location = time.UTC
	}
	return h, nil
}

// Window returns the half-open interval [start, end) during which a shift
// of type shiftType on date is active. ok is false for rest and unknown types.
func (h Hours) Window(shiftType string, date time.Time) (start, end time.Time, ok bool) {
	y, m, d := date.Date()
	loc := h.Location
	switch shiftType {
	case TypeMorning:
		return h.MorningStart.on(y, m, d, loc), h.MorningEnd.on(y, m, d, loc), true
	case TypeNight:
		return h.NightStart.on(y, m, d, loc), h.NightEnd.on(y, m, d+1, loc), true
	case TypeDouble:
		start = h.DoubleStart.on(y, m, d, loc)
		return start, start.Add(24 * time.Hour), true
	default:
		return time.Time{}, time.Time{}, false
	}
}

// IsActive reports whether now falls inside the assignment's window. An
// assignment that was clocked out at or before now is no longer active.
func (h Hours) IsActive(a *Assignment, now time.Time) bool {
	if a.ClockOutAt != nil && !now.Before(*a.ClockOutAt) {
		return false
	}
	start, end, ok := h.Window(a.Type, a.Date)
	if !ok {
		return false
	}
	return !now.Before(start) && now.Before(end)
}

// Today returns the calendar date of now in the hospital's timezone.
func (h Hours) Today(now time.Time) time.Time {
	y, m, d := now.In(h.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// VoluntaryShift picks the type and date of an unscheduled shift started at
// now: night from night start until the next morning start, morning
// otherwise. Before morning start the night belongs to yesterday.
func (h Hours) VoluntaryShift(now time.Time) (shiftType string, date time.Time) {
	local := now.In(h.Location)
	today := h.Today(now)
	y, m, d := local.Date()
	morningStart := h.MorningStart.on(y, m, d, h.Location)
	nightStart := h.NightStart.on(y, m, d, h.Location)

	switch {
	case local.Before(morningStart):
		return TypeNight, today.AddDate(0, 0, -1)
	case !local.Before(nightStart):
		return TypeNight, today
	default:
		return TypeMorning, today
	}
}

// Describe renders the configured boundaries for clients.
func (h Hours) Describe() map[string]string {
	return map[string]string{
		"morning_start": h.MorningStart.String(),
		"morning_end":   h.MorningEnd.String(),
		"night_start":   h.NightStart.String(),
		"night_end":     h.NightEnd.String(),
		"double_start":  h.DoubleStart.String(),
		"timezone":      h.Location.String(),
	}
}
