package schedule

import (
	"fmt"
	"strings"
	"time"
)

// LoadLocation resolves an IANA zone name. Empty names resolve to UTC.
func LoadLocation(timezone string) (*time.Location, error) {
	name := strings.TrimSpace(timezone)
	if name == "" {
		return time.UTC, nil
	}
	// "Local" would make results depend on the host.
	if name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}
	return loc, nil
}

// DayBoundsIn returns local midnight and the last millisecond of the local
// calendar day containing instant. Results keep the location of instant.
func DayBoundsIn(instant time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := instant.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	next := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	end := next.Add(-time.Millisecond)
	return start.In(instant.Location()), end.In(instant.Location())
}

// DayBounds is DayBoundsIn for a zone name.
func DayBounds(instant time.Time, timezone string) (time.Time, time.Time, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, end := DayBoundsIn(instant, loc)
	return start, end, nil
}

// IsLocalHour reports whether the wall clock in timezone reads targetHour at instant.
func IsLocalHour(targetHour int, timezone string, instant time.Time) (bool, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return false, err
	}
	return IsLocalHourIn(targetHour, loc, instant), nil
}

// LocalDate parses a YYYY-MM-DD date and returns noon of that day in loc,
// a reference instant safely inside the local day regardless of DST.
func LocalDate(date string, loc *time.Location) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, Invalidf("date", "expected YYYY-MM-DD, got %q", date)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, loc), nil
}

// StartOfDayUTC truncates t to midnight UTC of its UTC calendar date.
func StartOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsLocalHourIn is IsLocalHour for an already loaded location.
func IsLocalHourIn(targetHour int, loc *time.Location, instant time.Time) bool {
	return instant.In(loc).Hour() == targetHour
}
