package models

import (
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// All lists every table in dependency order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Patient{},
		&Doctor{},
		&AvailabilityRule{},
		&Appointment{},
		&Report{},
		&Device{},
		&NotificationHistory{},
	}
}

// uniqueSlotIndex keeps a doctor's start time free for rebooking once the
// earlier appointment is cancelled. Both postgres and sqlite accept it.
const uniqueSlotIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_doctor_slot
	ON appointments (doctor_id, appointment_date)
	WHERE status <> 'cancelled'`

func AutoMigrate(db *gorm.DB) error {
	for _, model := range All() {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	if err := db.Exec(uniqueSlotIndex).Error; err != nil {
		return fmt.Errorf("create slot index: %w", err)
	}
	return nil
}

// TableName returns the table gorm maps model to.
func TableName(model interface{}) string {
	if t, ok := model.(schema.Tabler); ok {
		return t.TableName()
	}
	return schema.NamingStrategy{}.TableName(reflect.Indirect(reflect.ValueOf(model)).Type().Name())
}
