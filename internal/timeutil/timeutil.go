// Package timeutil provides wall-clock time arithmetic for booking slots.
package timeutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pitchbook/internal/apperr"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// TimeOfDay is a wall-clock time with minute precision, immutable once parsed.
type TimeOfDay struct {
	hour   int
	minute int
}

// Parse parses "HH:MM" (00-23:00-59). An "HH:MM:SS" value is accepted and the
// seconds are dropped, since the backend returns times in that form.
func Parse(s string) (TimeOfDay, error) {
	trimmed := strings.TrimSpace(s)
	if parts := strings.Split(trimmed, ":"); len(parts) == 3 {
		trimmed = parts[0] + ":" + parts[1]
	}
	m := clockPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return TimeOfDay{}, apperr.Validation("time", fmt.Sprintf("%q is not a valid HH:MM time", s))
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	return TimeOfDay{hour: h, minute: min}, nil
}

// MustParse parses s and panics on failure. For tests and constants.
func MustParse(s string) TimeOfDay {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Hour returns the hour component (0-23).
func (t TimeOfDay) Hour() int { return t.hour }

// Minute returns the minute component (0-59).
func (t TimeOfDay) Minute() int { return t.minute }

// TotalMinutes returns minutes since midnight.
func (t TimeOfDay) TotalMinutes() int { return t.hour*60 + t.minute }

// String formats as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.hour, t.minute)
}

// Clock formats as "HH:MM:SS", the normalization the backend expects on writes.
func (t TimeOfDay) Clock() string {
	return fmt.Sprintf("%02d:%02d:00", t.hour, t.minute)
}

// Before reports whether t is strictly earlier than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return t.TotalMinutes() < other.TotalMinutes()
}

// After reports whether t is strictly later than other.
func (t TimeOfDay) After(other TimeOfDay) bool {
	return t.TotalMinutes() > other.TotalMinutes()
}

// Equal reports whether t and other are the same instant.
func (t TimeOfDay) Equal(other TimeOfDay) bool {
	return t.TotalMinutes() == other.TotalMinutes()
}

// On anchors t to the given calendar date in loc.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = date.Location()
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.hour, t.minute, 0, 0, loc)
}

// MarshalJSON encodes t as its "HH:MM" string.
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes an "HH:MM" or "HH:MM:SS" string.
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DurationMinutes returns b minus a in minutes. Negative when b is earlier;
// callers that care about ordering must check separately.
func DurationMinutes(a, b TimeOfDay) int {
	return b.TotalMinutes() - a.TotalMinutes()
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share any instant.
func Overlaps(aStart, aEnd, bStart, bEnd TimeOfDay) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// GapMinutes returns the minutes between earlierEnd and laterStart. Only
// meaningful for non-overlapping, ordered intervals; negative otherwise.
func GapMinutes(earlierEnd, laterStart TimeOfDay) int {
	return laterStart.TotalMinutes() - earlierEnd.TotalMinutes()
}

// ParseDate parses a "YYYY-MM-DD" calendar date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, apperr.Validation("date", fmt.Sprintf("%q is not a valid YYYY-MM-DD date", s))
	}
	return d, nil
}

// FormatDate formats d as "YYYY-MM-DD".
func FormatDate(d time.Time) string {
	return d.Format("2006-01-02")
}
