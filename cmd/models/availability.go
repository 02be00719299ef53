package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// WeekdayList is stored as a postgres text[]; other dialects get the same
// array literal in a text column.
type WeekdayList []string

func (w WeekdayList) Value() (driver.Value, error) {
	return pq.StringArray(w).Value()
}

func (w *WeekdayList) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*w = WeekdayList(arr)
	return nil
}

func (WeekdayList) GormDataType() string {
	return "text[]"
}

func (WeekdayList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// AvailabilityRule is a doctor's recurring weekly window. Rules are created
// and deleted, never edited in place.
type AvailabilityRule struct {
	ID        uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	DoctorID  uuid.UUID   `gorm:"type:uuid;not null;index" json:"doctor_id"`
	Weekdays  WeekdayList `gorm:"column:available_weekdays;not null" json:"available_weekdays"`
	StartTime string      `gorm:"column:start_time;size:8;not null" json:"start_time"`
	EndTime   string      `gorm:"column:end_time;size:8;not null" json:"end_time"`
	CreatedAt time.Time   `json:"created_at"`
}

func (AvailabilityRule) TableName() string {
	return "doctor_available_slots"
}

func (r *AvailabilityRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
