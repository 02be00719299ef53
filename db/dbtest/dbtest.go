// Package dbtest opens migrated in-memory sqlite databases for tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/db"
)

// New returns a fresh database private to t. A single connection is kept
// open so the in-memory database survives and writes are serialised the way
// row locks serialise them on postgres.
func New(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), db.GormConfig(zerolog.Nop()))
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.AutoMigrate(gdb))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}

// Patient inserts a verified patient account with a completed profile.
func Patient(t *testing.T, gdb *gorm.DB, email string) (models.User, models.Patient) {
	t.Helper()
	user := models.User{Name: "Ama Mensah", Email: email, PasswordHash: "x", Role: models.RolePatient, EmailVerified: true}
	require.NoError(t, gdb.Create(&user).Error)
	patient := models.Patient{UserID: user.ID, FirstName: "Ama", LastName: "Mensah"}
	require.NoError(t, gdb.Create(&patient).Error)
	return user, patient
}

// Doctor inserts a verified doctor account with a completed profile.
func Doctor(t *testing.T, gdb *gorm.DB, email string) (models.User, models.Doctor) {
	t.Helper()
	user := models.User{Name: "Kofi Owusu", Email: email, PasswordHash: "x", Role: models.RoleDoctor, EmailVerified: true}
	require.NoError(t, gdb.Create(&user).Error)
	doctor := models.Doctor{UserID: user.ID, FirstName: "Kofi", LastName: "Owusu", Specialization: "Radiology"}
	require.NoError(t, gdb.Create(&doctor).Error)
	return user, doctor
}

// Rule inserts an availability rule for doctorID.
func Rule(t *testing.T, gdb *gorm.DB, doctorID uuid.UUID, start, end string, weekdays ...string) models.AvailabilityRule {
	t.Helper()
	rule := models.AvailabilityRule{DoctorID: doctorID, Weekdays: weekdays, StartTime: start, EndTime: end}
	require.NoError(t, gdb.Create(&rule).Error)
	return rule
}
