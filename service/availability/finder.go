package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/service/metrics"
	"github.com/mediscan/mediscan-server/service/slots"
)

// BookedLister returns the start times of a doctor's non-cancelled
// appointments on the calendar day of day.
type BookedLister interface {
	BookedOn(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]time.Time, error)
}

// Finder answers slot questions from live data: rules and bookings are read
// fresh on every call.
type Finder struct {
	rules       *Store
	booked      BookedLister
	slotMinutes int
	metrics     *metrics.Metrics
}

func NewFinder(rules *Store, booked BookedLister, slotMinutes int, m *metrics.Metrics) *Finder {
	return &Finder{rules: rules, booked: booked, slotMinutes: slotMinutes, metrics: m}
}

func (f *Finder) SlotMinutes() int { return f.slotMinutes }

// FreeSlots returns the doctor's open slots on date. A minutes of 0 uses the
// configured slot length; negative values are rejected by the calculator.
func (f *Finder) FreeSlots(ctx context.Context, doctorID uuid.UUID, date string, minutes int) ([]slots.Clock, error) {
	free, err := f.freeSlots(ctx, doctorID, date, minutes)
	f.metrics.ObserveSlotQuery(slotOutcome(err))
	return free, err
}

func (f *Finder) freeSlots(ctx context.Context, doctorID uuid.UUID, date string, minutes int) ([]slots.Clock, error) {
	if minutes == 0 {
		minutes = f.slotMinutes
	}
	day, err := slots.ParseDate(date)
	if err != nil {
		return nil, err
	}

	rows, err := f.rules.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	rules, err := ToRules(rows)
	if err != nil {
		return nil, err
	}

	booked, err := f.booked.BookedOn(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}

	return slots.Available(rules, date, booked, slots.WithSlotMinutes(minutes))
}

// CheckCandidate returns an InvalidInputError unless startAt is one of the
// slots the doctor's rules generate for that day on a grid of minutes (0
// uses the configured slot length, as FreeSlots does). Existing bookings
// are not considered; the appointment store decides conflicts.
func (f *Finder) CheckCandidate(ctx context.Context, doctorID uuid.UUID, startAt time.Time, minutes int) error {
	if minutes == 0 {
		minutes = f.slotMinutes
	}
	if minutes < 0 {
		return apperr.InvalidInput("slot duration must be positive", nil)
	}
	startAt = startAt.UTC()
	rows, err := f.rules.ListByDoctor(ctx, doctorID)
	if err != nil {
		return fmt.Errorf("load availability: %w", err)
	}
	rules, err := ToRules(rows)
	if err != nil {
		return err
	}

	rule, ok := slots.FirstMatching(rules, startAt.Weekday())
	if !ok {
		return apperr.InvalidInput(fmt.Sprintf("doctor is not available on %s", startAt.Weekday()), nil)
	}
	want := slots.ClockOf(startAt)
	if startAt.Second() == 0 && startAt.Nanosecond() == 0 {
		for _, c := range slots.Candidates(rule, minutes) {
			if c == want {
				return nil
			}
		}
	}
	return apperr.InvalidInput(fmt.Sprintf("%s is not an available slot", startAt.Format("2006-01-02 15:04")), nil)
}

func slotOutcome(err error) string {
	var invalid *apperr.InvalidInputError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &invalid):
		return "invalid"
	default:
		return "error"
	}
}
