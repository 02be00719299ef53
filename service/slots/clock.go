package slots

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mediscan/mediscan-server/cmd/apperr"
)

// Clock is a time of day in whole minutes after midnight, without a date or zone.
type Clock int

const minutesPerDay = 24 * 60

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ClockOf returns the UTC hour:minute of t. Seconds are dropped.
func ClockOf(t time.Time) Clock {
	t = t.UTC()
	return NewClock(t.Hour(), t.Minute())
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// On places c on the calendar day of date, in UTC.
func (c Clock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, time.UTC)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseClock accepts "HH:MM" and the "HH:MM:SS" form postgres returns for time columns.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, apperr.InvalidInput(fmt.Sprintf("invalid time of day %q, expected HH:MM", s), nil)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, apperr.InvalidInput(fmt.Sprintf("invalid hour in %q", s), err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return 0, apperr.InvalidInput(fmt.Sprintf("invalid minute in %q", s), err)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, apperr.InvalidInput(fmt.Sprintf("invalid second in %q", s), err)
		}
	}
	return NewClock(hour, minute), nil
}
