package appointment

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds [start, start+duration). A zero duration means the default.
func NewInterval(start time.Time, durationMinutes int) (Interval, error) {
	if start.IsZero() {
		return Interval{}, validationError("scheduled start is required")
	}
	if durationMinutes == 0 {
		durationMinutes = DefaultDurationMinutes
	}
	if durationMinutes < 0 {
		return Interval{}, validationError("duration must be a positive number of minutes")
	}
	if durationMinutes > MaxDurationMinutes {
		return Interval{}, validationError(fmt.Sprintf("duration cannot exceed %d minutes", MaxDurationMinutes))
	}
	return Interval{
		Start: start,
		End:   start.Add(time.Duration(durationMinutes) * time.Minute),
	}, nil
}

// Overlaps reports whether two half-open intervals share any instant.
// Back-to-back intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Minutes() int {
	return int(i.End.Sub(i.Start) / time.Minute)
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}

// ParseDateTime combines a calendar date ("2006-01-02") and a wall clock time
// ("15:04" or "15:04:05") in loc.
func ParseDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, validationError("date and time are required")
	}

	layout := dateLayout + " " + clockLayout
	if strings.Count(clock, ":") == 2 {
		layout += ":05"
	}

	t, err := time.ParseInLocation(layout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, validationError(fmt.Sprintf("malformed date/time %q %q", date, clock))
	}
	return t, nil
}
