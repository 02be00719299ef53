package availability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/db/dbtest"
	"github.com/mediscan/mediscan-server/service/session"
	"github.com/mediscan/mediscan-server/service/slots"
)

type fakeBooked map[string][]time.Time

func (f fakeBooked) BookedOn(_ context.Context, _ uuid.UUID, day time.Time) ([]time.Time, error) {
	return f[day.Format(slots.DateLayout)], nil
}

func TestNewRule(t *testing.T) {
	id := uuid.New()

	rule, err := NewRule(id, []string{"mon", "Monday", "WEDNESDAY"}, "08:00:00", "12:00")
	require.NoError(t, err)
	assert.Equal(t, models.WeekdayList{"Monday", "Wednesday"}, rule.Weekdays)
	assert.Equal(t, "08:00", rule.StartTime)
	assert.Equal(t, "12:00", rule.EndTime)
	assert.Equal(t, id, rule.DoctorID)

	for name, tc := range map[string]struct {
		days       []string
		start, end string
	}{
		"no weekdays":  {nil, "08:00", "12:00"},
		"bad weekday":  {[]string{"Funday"}, "08:00", "12:00"},
		"bad time":     {[]string{"Monday"}, "8am", "12:00"},
		"end <= start": {[]string{"Monday"}, "12:00", "12:00"},
		"end before":   {[]string{"Monday"}, "12:00", "08:00"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewRule(id, tc.days, tc.start, tc.end)
			var invalid *apperr.InvalidInputError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestFinderFreeSlots(t *testing.T) {
	gdb := dbtest.New(t)
	_, doctor := dbtest.Doctor(t, gdb, "kofi@example.com")

	first := models.AvailabilityRule{DoctorID: doctor.ID, Weekdays: models.WeekdayList{"Monday"}, StartTime: "08:00", EndTime: "10:00", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	second := models.AvailabilityRule{DoctorID: doctor.ID, Weekdays: models.WeekdayList{"Monday", "Tuesday"}, StartTime: "14:00", EndTime: "15:00", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, gdb.Create(&first).Error)
	require.NoError(t, gdb.Create(&second).Error)

	booked := fakeBooked{"2025-01-06": {time.Date(2025, 1, 6, 8, 30, 0, 0, time.UTC)}}
	f := NewFinder(NewStore(gdb), booked, 30, nil)
	ctx := context.Background()

	got, err := f.FreeSlots(ctx, doctor.ID, "2025-01-06", 0)
	require.NoError(t, err)
	assert.Equal(t, []slots.Clock{slots.NewClock(8, 0), slots.NewClock(9, 0), slots.NewClock(9, 30)}, got)

	got, err = f.FreeSlots(ctx, doctor.ID, "2025-01-07", 30)
	require.NoError(t, err)
	assert.Equal(t, []slots.Clock{slots.NewClock(14, 0), slots.NewClock(14, 30)}, got)

	got, err = f.FreeSlots(ctx, doctor.ID, "2025-01-08", 30)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = f.FreeSlots(ctx, doctor.ID, "06/01/2025", 30)
	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))
	_, err = f.FreeSlots(ctx, doctor.ID, "2025-01-06", -15)
	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))
}

func TestFinderCheckCandidate(t *testing.T) {
	gdb := dbtest.New(t)
	_, doctor := dbtest.Doctor(t, gdb, "kofi@example.com")
	dbtest.Rule(t, gdb, doctor.ID, "08:00", "10:00", "Monday")
	f := NewFinder(NewStore(gdb), fakeBooked{}, 30, nil)
	ctx := context.Background()

	assert.NoError(t, f.CheckCandidate(ctx, doctor.ID, time.Date(2025, 1, 6, 9, 30, 0, 0, time.UTC), 0))

	for name, at := range map[string]time.Time{
		"off grid":      time.Date(2025, 1, 6, 9, 15, 0, 0, time.UTC),
		"end of window": time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC),
		"wrong day":     time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC),
		"seconds":       time.Date(2025, 1, 6, 9, 0, 30, 0, time.UTC),
	} {
		t.Run(name, func(t *testing.T) {
			var invalid *apperr.InvalidInputError
			assert.ErrorAs(t, f.CheckCandidate(ctx, doctor.ID, at, 0), &invalid)
		})
	}

	offered, err := f.FreeSlots(ctx, doctor.ID, "2025-01-06", 45)
	require.NoError(t, err)
	require.Equal(t, []slots.Clock{slots.NewClock(8, 0), slots.NewClock(8, 45), slots.NewClock(9, 30)}, offered)
	for _, c := range offered {
		assert.NoError(t, f.CheckCandidate(ctx, doctor.ID, c.On(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)), 45))
	}
	var invalid *apperr.InvalidInputError
	assert.ErrorAs(t, f.CheckCandidate(ctx, doctor.ID, time.Date(2025, 1, 6, 8, 45, 0, 0, time.UTC), 0), &invalid)
	assert.ErrorAs(t, f.CheckCandidate(ctx, doctor.ID, time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC), -45), &invalid)
}

func serveAs(h http.HandlerFunc, sess session.Context, method, target string, body []byte, vars map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req = req.WithContext(session.WithContext(req.Context(), sess))
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestAvailabilityRoutes(t *testing.T) {
	gdb := dbtest.New(t)
	user, doctor := dbtest.Doctor(t, gdb, "kofi@example.com")
	sess := session.SignIn(session.Context{}, session.AccountOf(user), session.DoctorProfileOf(doctor))

	store := NewStore(gdb)
	h := NewAvailabilityHandler(store, NewFinder(store, fakeBooked{}, 30, nil))

	rec := serveAs(h.CreateAvailability, sess, http.MethodPost, "/doctor/availability",
		[]byte(`{"available_weekdays":["Monday"],"start_time":"08:00","end_time":"09:00"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.AvailabilityRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = serveAs(h.CreateAvailability, sess, http.MethodPost, "/doctor/availability",
		[]byte(`{"available_weekdays":["Monday"],"start_time":"09:00","end_time":"08:00"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveAs(h.GetOwnAvailability, sess, http.MethodGet, "/doctor/availability", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rules []models.AvailabilityRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, models.WeekdayList{"Monday"}, rules[0].Weekdays)

	vars := map[string]string{"doctorId": doctor.ID.String()}
	rec = serveAs(h.GetAvailableSlots, sess, http.MethodGet, "/doctors/x/slots?date=2025-01-06", nil, vars)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Slots    []string `json:"available_slots"`
		Duration int      `json:"duration_minutes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"08:00", "08:30"}, resp.Slots)
	assert.Equal(t, 30, resp.Duration)

	rec = serveAs(h.GetAvailableSlots, sess, http.MethodGet, "/doctors/x/slots?date=2025-01-07", nil, vars)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(mustField(t, rec.Body.Bytes(), "available_slots")))

	for _, target := range []string{
		"/doctors/x/slots",
		"/doctors/x/slots?date=tomorrow",
		"/doctors/x/slots?date=2025-01-06&duration=0",
		"/doctors/x/slots?date=2025-01-06&duration=-30",
		"/doctors/x/slots?date=2025-01-06&duration=half",
	} {
		rec = serveAs(h.GetAvailableSlots, sess, http.MethodGet, target, nil, vars)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	rec = serveAs(h.GetAvailableSlots, sess, http.MethodGet, "/doctors/x/slots?date=2025-01-06", nil,
		map[string]string{"doctorId": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	otherUser, otherDoctor := dbtest.Doctor(t, gdb, "yaw@example.com")
	other := session.SignIn(session.Context{}, session.AccountOf(otherUser), session.DoctorProfileOf(otherDoctor))
	rec = serveAs(h.DeleteAvailability, other, http.MethodDelete, "/doctor/availability/x", nil, map[string]string{"id": created.ID.String()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serveAs(h.DeleteAvailability, sess, http.MethodDelete, "/doctor/availability/x", nil, map[string]string{"id": created.ID.String()})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRoutesRequireDoctor(t *testing.T) {
	gdb := dbtest.New(t)
	user, patient := dbtest.Patient(t, gdb, "ama@example.com")
	sess := session.SignIn(session.Context{}, session.AccountOf(user), session.PatientProfileOf(patient))

	store := NewStore(gdb)
	router := mux.NewRouter()
	NewAvailabilityHandler(store, NewFinder(store, fakeBooked{}, 30, nil)).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/doctor/availability", bytes.NewReader([]byte(`{}`)))
	req = req.WithContext(session.WithContext(req.Context(), sess))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func mustField(t *testing.T, body []byte, key string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	return m[key]
}
