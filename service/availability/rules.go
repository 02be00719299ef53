package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/service/slots"
)

// ToRule converts a stored rule for the calculator.
func ToRule(r models.AvailabilityRule) (slots.Rule, error) {
	days := make([]time.Weekday, 0, len(r.Weekdays))
	for _, name := range r.Weekdays {
		d, err := slots.ParseWeekday(name)
		if err != nil {
			return slots.Rule{}, err
		}
		days = append(days, d)
	}
	start, err := slots.ParseClock(r.StartTime)
	if err != nil {
		return slots.Rule{}, err
	}
	end, err := slots.ParseClock(r.EndTime)
	if err != nil {
		return slots.Rule{}, err
	}
	return slots.Rule{Weekdays: days, Start: start, End: end}, nil
}

func ToRules(rows []models.AvailabilityRule) ([]slots.Rule, error) {
	out := make([]slots.Rule, 0, len(rows))
	for _, row := range rows {
		r, err := ToRule(row)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", row.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// NewRule validates input and returns a rule with canonical weekday names
// ("Monday") and "HH:MM" times.
func NewRule(doctorID uuid.UUID, weekdays []string, start, end string) (models.AvailabilityRule, error) {
	if len(weekdays) == 0 {
		return models.AvailabilityRule{}, apperr.InvalidInput("at least one weekday is required", nil)
	}
	seen := map[time.Weekday]bool{}
	names := make(models.WeekdayList, 0, len(weekdays))
	for _, w := range weekdays {
		d, err := slots.ParseWeekday(w)
		if err != nil {
			return models.AvailabilityRule{}, err
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		names = append(names, d.String())
	}

	s, err := slots.ParseClock(start)
	if err != nil {
		return models.AvailabilityRule{}, err
	}
	e, err := slots.ParseClock(end)
	if err != nil {
		return models.AvailabilityRule{}, err
	}
	if s >= e {
		return models.AvailabilityRule{}, apperr.InvalidInput("end time must be after start time", nil)
	}

	return models.AvailabilityRule{
		DoctorID:  doctorID,
		Weekdays:  names,
		StartTime: s.String(),
		EndTime:   e.String(),
	}, nil
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListByDoctor returns a doctor's rules in creation order, the order the
// calculator's first-match policy is applied in.
func (s *Store) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]models.AvailabilityRule, error) {
	rules := []models.AvailabilityRule{}
	err := s.db.WithContext(ctx).
		Where("doctor_id = ?", doctorID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rules).Error
	return rules, err
}

func (s *Store) Create(ctx context.Context, rule *models.AvailabilityRule) error {
	return s.db.WithContext(ctx).Create(rule).Error
}

// Delete removes a rule owned by doctorID.
func (s *Store) Delete(ctx context.Context, doctorID, ruleID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND doctor_id = ?", ruleID, doctorID).
		Delete(&models.AvailabilityRule{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("availability rule not found", nil)
	}
	return nil
}

func (s *Store) DoctorExists(ctx context.Context, doctorID uuid.UUID) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Doctor{}).Where("id = ?", doctorID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("doctor not found", nil)
	}
	return nil
}
