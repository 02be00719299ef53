package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/db/dbtest"
	"github.com/mediscan/mediscan-server/service/session"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

type fakeStore struct {
	mu      sync.Mutex
	failPut bool
	puts    []string
	deletes []string
}

func (s *fakeStore) Put(_ context.Context, key, _ string, body io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return "", errors.New("bucket unavailable")
	}
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	s.puts = append(s.puts, key)
	return "https://cdn.example.com/" + key, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, key)
	return nil
}

func (s *fakeStore) Driver() string { return "fake" }

type fakeCaptioner struct {
	caption string
	err     error
}

func (c fakeCaptioner) Caption(context.Context, string, io.Reader) (string, error) {
	return c.caption, c.err
}

type fixture struct {
	db        *gorm.DB
	store     *fakeStore
	h         *ReportHandler
	patient   models.Patient
	asPatient session.Context
	asDoctor  session.Context
}

func newFixture(t *testing.T, captioner fakeCaptioner) *fixture {
	t.Helper()
	gdb := dbtest.New(t)
	patientUser, patient := dbtest.Patient(t, gdb, "ama@example.com")
	doctorUser, doctor := dbtest.Doctor(t, gdb, "kofi@example.com")

	store := &fakeStore{}
	svc := NewService(gdb, store, captioner, nil, zerolog.Nop())
	return &fixture{
		db:        gdb,
		store:     store,
		h:         NewReportHandler(svc),
		patient:   patient,
		asPatient: session.SignIn(session.Context{}, session.AccountOf(patientUser), session.PatientProfileOf(patient)),
		asDoctor:  session.SignIn(session.Context{}, session.AccountOf(doctorUser), session.DoctorProfileOf(doctor)),
	}
}

func upload(t *testing.T, h http.HandlerFunc, sess session.Context, field string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile(field, "chest.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/reports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = req.WithContext(session.WithContext(req.Context(), sess))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func get(h http.HandlerFunc, sess session.Context, target string, vars map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(session.WithContext(req.Context(), sess))
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) models.Report {
	t.Helper()
	var report models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report), rec.Body.String())
	return report
}

func analysisOf(t *testing.T, r models.Report) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, json.Unmarshal(r.AIAnalysis, &out))
	return out
}

func TestPatientUpload(t *testing.T) {
	f := newFixture(t, fakeCaptioner{caption: "no acute cardiopulmonary process"})

	rec := upload(t, f.h.CreateReport, f.asPatient, "image", map[string]string{"title": "Chest PA"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	report := decodeReport(t, rec)
	assert.Equal(t, models.ReportCompleted, report.Status)
	require.NotNil(t, report.PatientID)
	assert.Equal(t, f.patient.ID, *report.PatientID)
	assert.Nil(t, report.DoctorID)
	assert.Equal(t, map[string]string{"title": "Chest PA", "caption": "no acute cardiopulmonary process"}, analysisOf(t, report))

	require.Len(t, f.store.puts, 1)
	assert.Regexp(t, `^patient_xrays/`+f.patient.ID.String()+`/\d{8}-[0-9a-f-]{36}\.png$`, f.store.puts[0])
	assert.Equal(t, "https://cdn.example.com/"+f.store.puts[0], report.XrayImageURL)
}

func TestCaptionFailureKeepsReport(t *testing.T) {
	f := newFixture(t, fakeCaptioner{err: errors.New("model offline")})

	rec := upload(t, f.h.CreateReport, f.asPatient, "file", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	report := decodeReport(t, rec)
	assert.Equal(t, models.ReportPending, report.Status)
	assert.Equal(t, map[string]string{"error": CaptionFailed}, analysisOf(t, report))
	assert.Empty(t, f.store.deletes)
}

func TestUploadFailureSavesNothing(t *testing.T) {
	f := newFixture(t, fakeCaptioner{caption: "x"})
	f.store.failPut = true

	rec := upload(t, f.h.CreateReport, f.asPatient, "image", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var n int64
	require.NoError(t, f.db.Model(&models.Report{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestSaveFailureRemovesObject(t *testing.T) {
	f := newFixture(t, fakeCaptioner{caption: "x"})
	require.NoError(t, f.db.Migrator().DropTable(&models.Report{}))

	rec := upload(t, f.h.CreateReport, f.asPatient, "image", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, f.store.puts, 1)
	assert.Equal(t, f.store.puts, f.store.deletes)
}

func TestUploadRejectsBadInput(t *testing.T) {
	f := newFixture(t, fakeCaptioner{caption: "x"})

	rec := upload(t, f.h.CreateReport, f.asPatient, "attachment", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, f.h.CreateReport, f.asDoctor, "image", map[string]string{"patient_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, f.h.CreateReport, f.asDoctor, "image", map[string]string{"patient_id": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Empty(t, f.store.puts)
}

func TestReportVisibility(t *testing.T) {
	f := newFixture(t, fakeCaptioner{caption: "clear"})

	own := decodeReport(t, upload(t, f.h.CreateReport, f.asPatient, "image", nil))

	authored := decodeReport(t, upload(t, f.h.CreateReport, f.asDoctor, "image", nil))
	assert.Equal(t, DefaultDoctorTitle, authored.Title)
	assert.Nil(t, authored.PatientID)
	assert.Regexp(t, `^doctor_reports/`, f.store.puts[1])

	total := func(sess session.Context) int64 {
		rec := get(f.h.GetReports, sess, "/reports", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp struct {
			Pagination struct {
				TotalItems int64 `json:"total_items"`
			} `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Pagination.TotalItems
	}
	admin := session.SignIn(session.Context{}, session.Account{UserID: uuid.New(), Role: models.RoleAdmin}, nil)

	assert.Equal(t, int64(1), total(f.asPatient))
	assert.Equal(t, int64(1), total(f.asDoctor), "no appointment with the patient yet")
	assert.Equal(t, int64(2), total(admin))

	vars := map[string]string{"id": own.ID.String()}
	assert.Equal(t, http.StatusNotFound, get(f.h.GetReport, f.asDoctor, "/x", vars).Code)
	assert.Equal(t, http.StatusOK, get(f.h.GetReport, f.asPatient, "/x", vars).Code)

	doctorID, _ := f.asDoctor.DoctorID()
	require.NoError(t, f.db.Create(&models.Appointment{
		DoctorID:  doctorID,
		PatientID: f.patient.ID,
		StartAt:   time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
		Status:    models.StatusScheduled,
	}).Error)

	assert.Equal(t, int64(2), total(f.asDoctor))
	assert.Equal(t, http.StatusOK, get(f.h.GetReport, f.asDoctor, "/x", vars).Code)
	assert.Equal(t, http.StatusNotFound, get(f.h.GetReport, f.asPatient, "/x", map[string]string{"id": authored.ID.String()}).Code)
}
