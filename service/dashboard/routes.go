package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/cmd/utils"
	"github.com/mediscan/mediscan-server/service/session"
)

const upcomingLimit = 5

type DashboardHandler struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDashboardHandler(db *gorm.DB) *DashboardHandler {
	return &DashboardHandler{db: db, now: time.Now}
}

// DashboardStats are the admin totals.
type DashboardStats struct {
	TotalUsers        int64                              `json:"total_users"`
	TotalPatients     int64                              `json:"total_patients"`
	TotalDoctors      int64                              `json:"total_doctors"`
	TotalReports      int64                              `json:"total_reports"`
	PendingReports    int64                              `json:"pending_reports"`
	TotalAppointments int64                              `json:"total_appointments"`
	Appointments      map[models.AppointmentStatus]int64 `json:"appointments_by_status"`
}

// Overview is the signed-in user's landing page.
type Overview struct {
	Role                 models.Role          `json:"role"`
	UpcomingCount        int64                `json:"upcoming_appointments"`
	PendingReports       int64                `json:"pending_reports"`
	TotalReports         int64                `json:"total_reports"`
	PatientCount         *int64               `json:"patient_count,omitempty"`
	UpcomingAppointments []models.Appointment `json:"upcoming"`
}

func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	anyone := session.RequireComplete()
	admin := session.RequireComplete(models.RoleAdmin)

	router.HandleFunc("/dashboard", anyone(h.GetDashboard)).Methods("GET")
	router.HandleFunc("/admin/stats", admin(h.GetDashboardStats)).Methods("GET")
}

func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	var (
		overview Overview
		err      error
	)
	if id, ok := sess.PatientID(); ok {
		overview, err = h.overview(r.Context(), "patient_id", id)
	} else if id, ok := sess.DoctorID(); ok {
		overview, err = h.overview(r.Context(), "doctor_id", id)
		if err == nil {
			var patients int64
			err = h.db.WithContext(r.Context()).Model(&models.Appointment{}).
				Where("doctor_id = ? AND status <> ?", id, models.StatusCancelled).
				Distinct("patient_id").
				Count(&patients).Error
			overview.PatientCount = &patients
		}
	} else {
		h.GetDashboardStats(w, r)
		return
	}
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	overview.Role = sess.Role()
	utils.WriteJSON(w, http.StatusOK, overview)
}

// overview counts the scheduled appointments still ahead of now and the
// reports of the patient or doctor identified by column = id.
func (h *DashboardHandler) overview(ctx context.Context, column string, id uuid.UUID) (Overview, error) {
	db := h.db.WithContext(ctx)
	now := h.now().UTC()
	o := Overview{UpcomingAppointments: []models.Appointment{}}

	upcoming := db.Model(&models.Appointment{}).
		Where(column+" = ? AND status = ? AND appointment_date >= ?", id, models.StatusScheduled, now)
	if err := upcoming.Count(&o.UpcomingCount).Error; err != nil {
		return o, err
	}
	if err := upcoming.Preload("Doctor").Preload("Patient").
		Order("appointment_date ASC").
		Limit(upcomingLimit).
		Find(&o.UpcomingAppointments).Error; err != nil {
		return o, err
	}

	reports := db.Model(&models.Report{}).Where(column+" = ?", id)
	if err := reports.Count(&o.TotalReports).Error; err != nil {
		return o, err
	}
	err := db.Model(&models.Report{}).
		Where(column+" = ? AND status = ?", id, models.ReportPending).
		Count(&o.PendingReports).Error
	return o, err
}

func (h *DashboardHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats(r.Context())
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}

func (h *DashboardHandler) stats(ctx context.Context) (DashboardStats, error) {
	db := h.db.WithContext(ctx)
	stats := DashboardStats{Appointments: map[models.AppointmentStatus]int64{
		models.StatusScheduled: 0,
		models.StatusCompleted: 0,
		models.StatusCancelled: 0,
	}}

	counts := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&stats.TotalUsers, db.Model(&models.User{})},
		{&stats.TotalPatients, db.Model(&models.Patient{})},
		{&stats.TotalDoctors, db.Model(&models.Doctor{})},
		{&stats.TotalReports, db.Model(&models.Report{})},
		{&stats.PendingReports, db.Model(&models.Report{}).Where("status = ?", models.ReportPending)},
		{&stats.TotalAppointments, db.Model(&models.Appointment{})},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dst).Error; err != nil {
			return stats, err
		}
	}

	var rows []struct {
		Status models.AppointmentStatus
		Count  int64
	}
	if err := db.Model(&models.Appointment{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return stats, err
	}
	for _, row := range rows {
		stats.Appointments[row.Status] = row.Count
	}
	return stats, nil
}
