package models

import (
	"fmt"
	"strings"
	"time"
)

// ClockTime is a wall-clock time of day with minute resolution, counted in
// minutes since midnight.
type ClockTime int

const minutesPerDay = 24 * 60

// ParseClockTime parses an "HH:MM" time of day.
func ParseClockTime(value string) (ClockTime, error) {
	value = strings.TrimSpace(value)
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("%w: clock time %q", ErrParse, value)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

// ClockTimeOf returns the time of day of t, truncated to the minute.
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

// Valid reports whether c falls within a single day.
func (c ClockTime) Valid() bool {
	return c >= 0 && c < minutesPerDay
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}
