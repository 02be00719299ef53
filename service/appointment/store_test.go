package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/db/dbtest"
)

var monday9 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

// The test database has a single connection, so the two transactions run one
// after the other and the loser is stopped by the in-transaction check.
// TestUniqueIndexBacksTheCheck covers the index that catches the race on
// postgres.
func TestSimultaneousBookingsSerializeToOneWinner(t *testing.T) {
	gdb := dbtest.New(t)
	_, doctor := dbtest.Doctor(t, gdb, "kofi@example.com")
	_, ama := dbtest.Patient(t, gdb, "ama@example.com")
	_, yaw := dbtest.Patient(t, gdb, "yaw@example.com")
	store := NewStore(gdb)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i, appt := range []models.Appointment{{PatientID: ama.ID}, {PatientID: yaw.ID}} {
		wg.Add(1)
		go func(i int, appt models.Appointment) {
			defer wg.Done()
			<-start
			appt.DoctorID = doctor.ID
			appt.StartAt = monday9
			appt.Reason = "checkup"
			errs[i] = store.Book(context.Background(), &appt)
		}(i, appt)
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		var conflict *apperr.ConflictError
		switch {
		case err == nil:
			ok++
		case assert.ErrorAs(t, err, &conflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	var n int64
	gdb.Model(&models.Appointment{}).Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestUniqueIndexBacksTheCheck(t *testing.T) {
	gdb := dbtest.New(t)
	_, doctor := dbtest.Doctor(t, gdb, "kofi@example.com")
	_, patient := dbtest.Patient(t, gdb, "ama@example.com")

	first := models.Appointment{DoctorID: doctor.ID, PatientID: patient.ID, StartAt: monday9, Status: models.StatusScheduled}
	require.NoError(t, gdb.Create(&first).Error)

	second := models.Appointment{DoctorID: doctor.ID, PatientID: patient.ID, StartAt: monday9, Status: models.StatusScheduled}
	err := translate(gdb.Create(&second).Error)
	var conflict *apperr.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestCancelFreesSlot(t *testing.T) {
	gdb := dbtest.New(t)
	_, doctor := dbtest.Doctor(t, gdb, "kofi@example.com")
	_, patient := dbtest.Patient(t, gdb, "ama@example.com")
	store := NewStore(gdb)
	ctx := context.Background()

	first := models.Appointment{DoctorID: doctor.ID, PatientID: patient.ID, StartAt: monday9}
	require.NoError(t, store.Book(ctx, &first))

	booked, err := store.BookedOn(ctx, doctor.ID, monday9)
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.True(t, booked[0].Equal(monday9))

	cancelled, err := store.Cancel(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = store.Cancel(ctx, first.ID)
	require.NoError(t, err, "cancelling twice is a no-op")

	booked, err = store.BookedOn(ctx, doctor.ID, monday9)
	require.NoError(t, err)
	assert.Empty(t, booked)

	again := models.Appointment{DoctorID: doctor.ID, PatientID: patient.ID, StartAt: monday9}
	require.NoError(t, store.Book(ctx, &again))
}

func TestBookedOnOnlyThatDay(t *testing.T) {
	gdb := dbtest.New(t)
	_, doctor := dbtest.Doctor(t, gdb, "kofi@example.com")
	_, other := dbtest.Doctor(t, gdb, "yaw@example.com")
	_, patient := dbtest.Patient(t, gdb, "ama@example.com")
	store := NewStore(gdb)
	ctx := context.Background()

	for _, a := range []models.Appointment{
		{DoctorID: doctor.ID, StartAt: monday9.Add(-time.Hour * 10)},
		{DoctorID: doctor.ID, StartAt: monday9.Add(time.Hour)},
		{DoctorID: doctor.ID, StartAt: monday9},
		{DoctorID: doctor.ID, StartAt: monday9.AddDate(0, 0, 1)},
		{DoctorID: other.ID, StartAt: monday9.Add(2 * time.Hour)},
	} {
		a.PatientID = patient.ID
		require.NoError(t, store.Book(ctx, &a))
	}

	booked, err := store.BookedOn(ctx, doctor.ID, time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, booked, 2)
	assert.True(t, booked[0].Equal(monday9))
	assert.True(t, booked[1].Equal(monday9.Add(time.Hour)))
}

func TestReschedule(t *testing.T) {
	gdb := dbtest.New(t)
	_, doctor := dbtest.Doctor(t, gdb, "kofi@example.com")
	_, patient := dbtest.Patient(t, gdb, "ama@example.com")
	store := NewStore(gdb)
	ctx := context.Background()

	a := models.Appointment{DoctorID: doctor.ID, PatientID: patient.ID, StartAt: monday9}
	b := models.Appointment{DoctorID: doctor.ID, PatientID: patient.ID, StartAt: monday9.Add(30 * time.Minute)}
	require.NoError(t, store.Book(ctx, &a))
	require.NoError(t, store.Book(ctx, &b))

	_, err := store.Reschedule(ctx, a.ID, b.StartAt)
	var conflict *apperr.ConflictError
	assert.ErrorAs(t, err, &conflict)

	moved, err := store.Reschedule(ctx, a.ID, a.StartAt)
	require.NoError(t, err, "an appointment does not conflict with itself")
	assert.True(t, moved.StartAt.Equal(monday9))

	_, err = store.Cancel(ctx, a.ID)
	require.NoError(t, err)
	moved, err = store.Reschedule(ctx, a.ID, monday9.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, moved.Status)
	assert.True(t, moved.StartAt.Equal(monday9.Add(time.Hour)))

	_, err = store.Complete(ctx, b.ID)
	require.NoError(t, err)
	_, err = store.Reschedule(ctx, b.ID, monday9.Add(2*time.Hour))
	assert.ErrorAs(t, err, &conflict)
	_, err = store.Cancel(ctx, b.ID)
	assert.ErrorAs(t, err, &conflict)
	_, err = store.Complete(ctx, b.ID)
	assert.ErrorAs(t, err, &conflict)
}

func TestPatientsOfDoctor(t *testing.T) {
	gdb := dbtest.New(t)
	_, doctor := dbtest.Doctor(t, gdb, "kofi@example.com")
	_, ama := dbtest.Patient(t, gdb, "ama@example.com")
	yawUser := models.User{Name: "Yaw Boateng", Email: "yaw@example.com", PasswordHash: "x", Role: models.RolePatient}
	require.NoError(t, gdb.Create(&yawUser).Error)
	yaw := models.Patient{UserID: yawUser.ID, FirstName: "Yaw", LastName: "Boateng"}
	require.NoError(t, gdb.Create(&yaw).Error)

	store := NewStore(gdb)
	ctx := context.Background()

	done := models.Appointment{DoctorID: doctor.ID, PatientID: ama.ID, StartAt: monday9}
	require.NoError(t, store.Book(ctx, &done))
	_, err := store.Complete(ctx, done.ID)
	require.NoError(t, err)
	require.NoError(t, store.Book(ctx, &models.Appointment{DoctorID: doctor.ID, PatientID: ama.ID, StartAt: monday9.AddDate(0, 0, 7)}))
	require.NoError(t, store.Book(ctx, &models.Appointment{DoctorID: doctor.ID, PatientID: yaw.ID, StartAt: monday9.Add(time.Hour)}))

	patients, err := store.PatientsOfDoctor(ctx, doctor.ID)
	require.NoError(t, err)
	require.Len(t, patients, 2)

	assert.Equal(t, ama.ID, patients[0].Patient.ID)
	assert.Equal(t, PatientConsulted, patients[0].Status)
	assert.Equal(t, 2, patients[0].Appointments)
	assert.True(t, patients[0].LastAppointment.Equal(monday9.AddDate(0, 0, 7)))

	assert.Equal(t, yaw.ID, patients[1].Patient.ID)
	assert.Equal(t, PatientAppointed, patients[1].Status)
}
