package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Patient struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	FirstName      string     `gorm:"column:first_name;size:100;not null" json:"first_name"`
	LastName       string     `gorm:"column:last_name;size:100;not null" json:"last_name"`
	DateOfBirth    *time.Time `gorm:"column:date_of_birth;type:date" json:"date_of_birth,omitempty"`
	Gender         string     `gorm:"column:gender;size:20" json:"gender"`
	ContactNumber  string     `gorm:"column:contact_number;size:30" json:"contact_number"`
	Address        string     `gorm:"column:address;type:text" json:"address"`
	MedicalHistory string     `gorm:"column:medical_history;type:text" json:"medical_history"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (p *Patient) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (p Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

type Doctor struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	FirstName       string    `gorm:"column:first_name;size:100;not null" json:"first_name"`
	LastName        string    `gorm:"column:last_name;size:100;not null" json:"last_name"`
	Specialization  string    `gorm:"column:specialization;size:255" json:"specialization"`
	LicenseNumber   string    `gorm:"column:license_number;size:100" json:"license_number"`
	ExperienceYears int       `gorm:"column:experience_years;default:0" json:"experience_years"`
	ContactNumber   string    `gorm:"column:contact_number;size:30" json:"contact_number"`
	AvatarURL       string    `gorm:"column:avatar_url;size:500" json:"avatar_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	User              *User              `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	AvailabilityRules []AvailabilityRule `gorm:"foreignKey:DoctorID;constraint:OnDelete:CASCADE" json:"doctor_available_slots,omitempty"`
}

func (d *Doctor) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func (d Doctor) FullName() string {
	return "Dr. " + d.FirstName + " " + d.LastName
}
