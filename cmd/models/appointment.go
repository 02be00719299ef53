package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Appointment holds one booked slot. StartAt is always UTC. At most one
// non-cancelled appointment may exist per doctor and start time, enforced by
// the idx_appointments_doctor_slot partial unique index.
type Appointment struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	DoctorID  uuid.UUID         `gorm:"type:uuid;not null;index" json:"doctor_id"`
	PatientID uuid.UUID         `gorm:"type:uuid;not null;index" json:"patient_id"`
	StartAt   time.Time         `gorm:"column:appointment_date;not null;index" json:"appointment_date"`
	Status    AppointmentStatus `gorm:"column:status;size:20;not null;default:scheduled" json:"status"`
	Reason    string            `gorm:"column:reason;type:text" json:"reason"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`

	Doctor  *Doctor  `gorm:"foreignKey:DoctorID" json:"doctor,omitempty"`
	Patient *Patient `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
}

func (a *Appointment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.StartAt = a.StartAt.UTC()
	return nil
}
