package appointment

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
)

var errSlotTaken = apperr.Conflict("time slot already booked", nil)

// Store persists appointments. Booking and rescheduling are conditional
// writes: the slot check and the write share a transaction, and the
// idx_appointments_doctor_slot unique index rejects whichever concurrent
// writer loses the race.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Book inserts appt if no other non-cancelled appointment holds the doctor's
// start time. A taken slot is reported as an apperr.ConflictError.
func (s *Store) Book(ctx context.Context, appt *models.Appointment) error {
	appt.StartAt = appt.StartAt.UTC()
	appt.Status = models.StatusScheduled

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureFree(tx, appt.DoctorID, appt.StartAt, uuid.Nil); err != nil {
			return err
		}
		return tx.Create(appt).Error
	})
	return translate(err)
}

// Reschedule moves the appointment to startAt and makes it scheduled again.
// Completed appointments cannot move.
func (s *Store) Reschedule(ctx context.Context, id uuid.UUID, startAt time.Time) (*models.Appointment, error) {
	var appt models.Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := find(tx, id, &appt); err != nil {
			return err
		}
		if appt.Status == models.StatusCompleted {
			return apperr.Conflict("completed appointments cannot be rescheduled", nil)
		}
		if err := ensureFree(tx, appt.DoctorID, startAt.UTC(), appt.ID); err != nil {
			return err
		}
		appt.StartAt = startAt.UTC()
		appt.Status = models.StatusScheduled
		return tx.Save(&appt).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &appt, nil
}

// Cancel frees the slot. Cancelling twice is a no-op.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	return s.transition(ctx, id, func(a *models.Appointment) (bool, error) {
		switch a.Status {
		case models.StatusCancelled:
			return false, nil
		case models.StatusCompleted:
			return false, apperr.Conflict("completed appointments cannot be cancelled", nil)
		}
		a.Status = models.StatusCancelled
		return true, nil
	})
}

func (s *Store) Complete(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	return s.transition(ctx, id, func(a *models.Appointment) (bool, error) {
		if a.Status != models.StatusScheduled {
			return false, apperr.Conflict("only scheduled appointments can be completed", nil)
		}
		a.Status = models.StatusCompleted
		return true, nil
	})
}

func (s *Store) transition(ctx context.Context, id uuid.UUID, apply func(*models.Appointment) (bool, error)) (*models.Appointment, error) {
	var appt models.Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := find(tx, id, &appt); err != nil {
			return err
		}
		changed, err := apply(&appt)
		if err != nil || !changed {
			return err
		}
		return tx.Save(&appt).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &appt, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&models.Appointment{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("appointment not found", nil)
	}
	return nil
}

// Get loads an appointment with its doctor and patient.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	var appt models.Appointment
	err := s.db.WithContext(ctx).Preload("Doctor").Preload("Patient").First(&appt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("appointment not found", err)
	}
	if err != nil {
		return nil, err
	}
	return &appt, nil
}

// Filter narrows List. Nil IDs match every doctor or patient.
type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    models.AppointmentStatus
	Page      int
	Size      int
}

// List returns a page of appointments, latest first, and the total match count.
func (s *Store) List(ctx context.Context, f Filter) ([]models.Appointment, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Appointment{})
	if f.PatientID != nil {
		q = q.Where("patient_id = ?", *f.PatientID)
	}
	if f.DoctorID != nil {
		q = q.Where("doctor_id = ?", *f.DoctorID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	appts := []models.Appointment{}
	err := q.Preload("Doctor").Preload("Patient").
		Order("appointment_date DESC").
		Offset((f.Page - 1) * f.Size).
		Limit(f.Size).
		Find(&appts).Error
	return appts, total, err
}

// BookedOn returns the start times of the doctor's non-cancelled
// appointments on the UTC calendar day of day.
func (s *Store) BookedOn(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]time.Time, error) {
	day = day.UTC()
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	var appts []models.Appointment
	err := s.db.WithContext(ctx).
		Select("appointment_date").
		Where("doctor_id = ? AND status <> ?", doctorID, models.StatusCancelled).
		Where("appointment_date >= ? AND appointment_date < ?", from, from.AddDate(0, 0, 1)).
		Order("appointment_date").
		Find(&appts).Error
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(appts))
	for _, a := range appts {
		out = append(out, a.StartAt)
	}
	return out, nil
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

const (
	PatientConsulted = "consulted"
	PatientAppointed = "appointed"
)

// DoctorPatient is one row of a doctor's patient list.
type DoctorPatient struct {
	Patient         models.Patient `json:"patient"`
	Status          string         `json:"status"`
	Appointments    int            `json:"appointments"`
	LastAppointment time.Time      `json:"last_appointment"`
}

// PatientsOfDoctor derives the doctor's patients from their non-cancelled
// appointments. A patient is consulted once any appointment is completed.
func (s *Store) PatientsOfDoctor(ctx context.Context, doctorID uuid.UUID) ([]DoctorPatient, error) {
	var appts []models.Appointment
	err := s.db.WithContext(ctx).
		Preload("Patient").
		Where("doctor_id = ? AND status <> ?", doctorID, models.StatusCancelled).
		Find(&appts).Error
	if err != nil {
		return nil, err
	}

	byPatient := map[uuid.UUID]*DoctorPatient{}
	for _, a := range appts {
		if a.Patient == nil {
			continue
		}
		p, ok := byPatient[a.PatientID]
		if !ok {
			p = &DoctorPatient{Patient: *a.Patient, Status: PatientAppointed}
			byPatient[a.PatientID] = p
		}
		p.Appointments++
		if a.StartAt.After(p.LastAppointment) {
			p.LastAppointment = a.StartAt
		}
		if a.Status == models.StatusCompleted {
			p.Status = PatientConsulted
		}
	}

	out := make([]DoctorPatient, 0, len(byPatient))
	for _, p := range byPatient {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Patient.FullName(), out[j].Patient.FullName()
		if a != b {
			return a < b
		}
		return out[i].Patient.ID.String() < out[j].Patient.ID.String()
	})
	return out, nil
}

func find(tx *gorm.DB, id uuid.UUID, appt *models.Appointment) error {
	err := tx.First(appt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("appointment not found", err)
	}
	return err
}

// ensureFree fails when another non-cancelled appointment, other than
// exclude, holds the doctor's start time.
func ensureFree(tx *gorm.DB, doctorID uuid.UUID, startAt time.Time, exclude uuid.UUID) error {
	var n int64
	err := tx.Model(&models.Appointment{}).
		Where("doctor_id = ? AND appointment_date = ? AND status <> ? AND id <> ?",
			doctorID, startAt, models.StatusCancelled, exclude).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n > 0 {
		return errSlotTaken
	}
	return nil
}

// translate turns a unique index violation into the slot conflict.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("time slot already booked", err)
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key") {
		return apperr.Conflict("time slot already booked", err)
	}
	return err
}
