// Package slots computes the bookable appointment times of a doctor on a
// calendar date from the doctor's weekly availability rules and the
// appointments already booked that day.
//
// Everything here is pure: no I/O, no clock reads. Times of day are
// timezone-naive and booked timestamps are compared on their UTC hour and
// minute only.
package slots

import (
	"fmt"
	"strings"
	"time"

	"github.com/mediscan/mediscan-server/cmd/apperr"
)

const (
	DateLayout         = "2006-01-02"
	DefaultSlotMinutes = 30
)

// Rule is a recurring weekly window in which a doctor takes appointments.
type Rule struct {
	Weekdays []time.Weekday
	Start    Clock
	End      Clock
}

// Covers reports whether the rule applies on day.
func (r Rule) Covers(day time.Weekday) bool {
	for _, d := range r.Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

type options struct {
	slotMinutes int
}

type Option func(*options)

// WithSlotMinutes sets the slot length and step. Non-positive values make Available fail.
func WithSlotMinutes(n int) Option {
	return func(o *options) { o.slotMinutes = n }
}

// Available returns the free slot start times of one doctor on date.
//
// Only the first rule (in input order) whose weekdays include the date's
// weekday is used; later matching rules are ignored. A date no rule covers
// yields an empty, non-nil result. A booked timestamp blocks a candidate only
// when its UTC hour:minute equals the candidate exactly, so bookings off the
// slot grid block nothing.
func Available(rules []Rule, date string, booked []time.Time, opts ...Option) ([]Clock, error) {
	o := options{slotMinutes: DefaultSlotMinutes}
	for _, opt := range opts {
		opt(&o)
	}
	if o.slotMinutes <= 0 {
		return nil, apperr.InvalidInput(fmt.Sprintf("slot duration must be a positive number of minutes, got %d", o.slotMinutes), nil)
	}

	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	rule, ok := FirstMatching(rules, day.Weekday())
	if !ok {
		return []Clock{}, nil
	}

	taken := make(map[Clock]struct{}, len(booked))
	for _, ts := range booked {
		taken[ClockOf(ts)] = struct{}{}
	}

	free := []Clock{}
	for _, c := range Candidates(rule, o.slotMinutes) {
		if _, ok := taken[c]; ok {
			continue
		}
		free = append(free, c)
	}
	return free, nil
}

// FirstMatching returns the first rule covering day.
func FirstMatching(rules []Rule, day time.Weekday) (Rule, bool) {
	for _, r := range rules {
		if r.Covers(day) {
			return r, true
		}
	}
	return Rule{}, false
}

// Candidates lists slot starts from rule.Start in step-minute increments while
// strictly before rule.End. A final partial slot is still offered.
func Candidates(rule Rule, step int) []Clock {
	out := []Clock{}
	if step <= 0 {
		return out
	}
	for c := rule.Start; c < rule.End && c < minutesPerDay; c += Clock(step) {
		out = append(out, c)
	}
	return out
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.InvalidInput(fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s), err)
	}
	return d, nil
}

var weekdaysByName = func() map[string]time.Weekday {
	m := make(map[string]time.Weekday, 14)
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		m[name] = d
		m[name[:3]] = d
	}
	return m
}()

// ParseWeekday accepts full English weekday names ("Monday") and their
// three-letter abbreviations, case-insensitively.
func ParseWeekday(name string) (time.Weekday, error) {
	d, ok := weekdaysByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, apperr.InvalidInput(fmt.Sprintf("unknown weekday %q", name), nil)
	}
	return d, nil
}
