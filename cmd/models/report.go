package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportCompleted ReportStatus = "completed"
)

// Report is an uploaded X-ray plus its AI analysis. Patient uploads carry a
// PatientID; doctor-authored reports carry a DoctorID and a title and may
// have no patient.
type Report struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PatientID       *uuid.UUID     `gorm:"type:uuid;index" json:"patient_id"`
	DoctorID        *uuid.UUID     `gorm:"type:uuid;index" json:"doctor_id,omitempty"`
	Title           string         `gorm:"column:title;size:255" json:"title,omitempty"`
	XrayImageURL    string         `gorm:"column:xray_image_url;size:1000;not null" json:"xray_image_url"`
	StorageKey      string         `gorm:"column:storage_key;size:500" json:"-"`
	AIAnalysis      datatypes.JSON `gorm:"column:ai_analysis_result" json:"ai_analysis_result"`
	Status          ReportStatus   `gorm:"column:status;size:20;not null;default:pending" json:"status"`
	Recommendations string         `gorm:"column:recommendations;type:text" json:"recommendations,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`

	Patient *Patient `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Doctor  *Doctor  `gorm:"foreignKey:DoctorID" json:"doctor,omitempty"`
}

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
