// Package report stores uploaded X-rays, asks the captioning model about
// them and keeps the result as a report.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/cmd/utils"
	"github.com/mediscan/mediscan-server/service/caption"
	"github.com/mediscan/mediscan-server/service/notify"
	"github.com/mediscan/mediscan-server/service/storage"
)

const (
	patientPrefix = "patient_xrays"
	doctorPrefix  = "doctor_reports"

	DefaultDoctorTitle = "AI Analysis Report"
	CaptionFailed      = "Caption generation failed"
)

type Service struct {
	db        *gorm.DB
	store     storage.Store
	captioner caption.Captioner
	notifier  notify.Notifier
	log       zerolog.Logger
}

func NewService(db *gorm.DB, store storage.Store, captioner caption.Captioner, notifier notify.Notifier, log zerolog.Logger) *Service {
	return &Service{
		db:        db,
		store:     store,
		captioner: captioner,
		notifier:  notifier,
		log:       log.With().Str("component", "report").Logger(),
	}
}

// Upload describes a new report. Exactly one of PatientID (patient upload)
// and DoctorID (doctor-authored) identifies the author; a doctor may also
// name a patient.
type Upload struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Title     string
	Image     utils.Image
}

type analysis struct {
	Title   string `json:"title,omitempty"`
	Caption string `json:"caption,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Create uploads the image, captions it and saves the report. A failed
// upload aborts with a CollaboratorError. A failed caption does not: the
// report is saved as pending with an error marker as its analysis.
func (s *Service) Create(ctx context.Context, in Upload) (*models.Report, error) {
	prefix, owner := patientPrefix, uuid.Nil
	switch {
	case in.DoctorID != nil:
		prefix, owner = doctorPrefix, *in.DoctorID
		if in.Title == "" {
			in.Title = DefaultDoctorTitle
		}
	case in.PatientID != nil:
		owner = *in.PatientID
	default:
		return nil, apperr.InvalidInput("a report needs a patient or a doctor", nil)
	}

	key := storage.ObjectKey(prefix, owner, in.Image.Ext)
	url, err := s.store.Put(ctx, key, in.Image.ContentType, in.Image.Reader())
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("x-ray upload failed")
		return nil, apperr.Collaborator("image upload failed", err)
	}

	result, status := s.analyse(ctx, in)
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	report := models.Report{
		PatientID:    in.PatientID,
		DoctorID:     in.DoctorID,
		Title:        in.Title,
		XrayImageURL: url,
		StorageKey:   key,
		AIAnalysis:   datatypes.JSON(raw),
		Status:       status,
	}
	if err := s.db.WithContext(ctx).Create(&report).Error; err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.log.Error().Err(derr).Str("key", key).Msg("failed to remove orphaned x-ray")
		}
		return nil, fmt.Errorf("save report: %w", err)
	}

	s.announce(ctx, &report)
	return &report, nil
}

func (s *Service) analyse(ctx context.Context, in Upload) (analysis, models.ReportStatus) {
	text, err := s.captioner.Caption(ctx, in.Image.Filename, in.Image.Reader())
	if err != nil {
		s.log.Warn().Err(err).Str("filename", in.Image.Filename).Msg("caption generation failed; saving report without analysis")
		return analysis{Error: CaptionFailed}, models.ReportPending
	}
	return analysis{Title: in.Title, Caption: text}, models.ReportCompleted
}

func (s *Service) announce(ctx context.Context, report *models.Report) {
	if s.notifier == nil {
		return
	}
	var users []uuid.UUID
	if report.PatientID != nil {
		var p models.Patient
		if err := s.db.WithContext(ctx).Select("user_id").First(&p, "id = ?", *report.PatientID).Error; err == nil {
			users = append(users, p.UserID)
		}
	}
	if report.DoctorID != nil {
		var d models.Doctor
		if err := s.db.WithContext(ctx).Select("user_id").First(&d, "id = ?", *report.DoctorID).Error; err == nil {
			users = append(users, d.UserID)
		}
	}
	if len(users) == 0 {
		return
	}

	body := "Your X-ray has been analysed."
	if report.Status == models.ReportPending {
		body = "Your X-ray was saved. The automatic analysis is not available yet."
	}
	s.notifier.Notify(ctx, notify.Event{
		Type:    notify.ReportCreated,
		UserIDs: users,
		Title:   "New report",
		Body:    body,
		Data: map[string]string{
			"report_id": report.ID.String(),
			"status":    string(report.Status),
		},
	})
}

// Scope limits what List and Get return to what the caller may see. A nil
// PatientID and DoctorID means everything.
type Scope struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
}

// where restricts q to the scope. A doctor sees reports they authored and
// reports about patients they have non-cancelled appointments with.
func (sc Scope) where(q *gorm.DB) *gorm.DB {
	switch {
	case sc.PatientID != nil:
		return q.Where("reports.patient_id = ?", *sc.PatientID)
	case sc.DoctorID != nil:
		return q.Where(
			"(reports.doctor_id = ? OR reports.patient_id IN (?))",
			*sc.DoctorID,
			q.Session(&gorm.Session{NewDB: true}).Model(&models.Appointment{}).
				Select("patient_id").
				Where("doctor_id = ? AND status <> ?", *sc.DoctorID, models.StatusCancelled),
		)
	}
	return q
}

// List returns a page of reports, newest first, and the total count.
func (s *Service) List(ctx context.Context, sc Scope, page, size int) ([]models.Report, int64, error) {
	q := sc.where(s.db.WithContext(ctx).Model(&models.Report{}))

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	reports := []models.Report{}
	err := q.Preload("Patient").Preload("Doctor").
		Order("reports.created_at DESC").
		Limit(size).
		Offset((page - 1) * size).
		Find(&reports).Error
	return reports, total, err
}

func (s *Service) Get(ctx context.Context, sc Scope, id uuid.UUID) (*models.Report, error) {
	var report models.Report
	q := sc.where(s.db.WithContext(ctx).Model(&models.Report{}))
	err := q.Preload("Patient").Preload("Doctor").First(&report, "reports.id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("report not found", err)
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *Service) PatientExists(ctx context.Context, id uuid.UUID) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Patient{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("patient not found", nil)
	}
	return nil
}
