package appointment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/cmd/utils"
	"github.com/mediscan/mediscan-server/service/metrics"
	"github.com/mediscan/mediscan-server/service/notify"
	"github.com/mediscan/mediscan-server/service/session"
	"github.com/mediscan/mediscan-server/service/slots"
)

// SlotValidator checks that a start time is one of the slots a doctor's
// availability rules generate on a grid of minutes; 0 means the default.
type SlotValidator interface {
	CheckCandidate(ctx context.Context, doctorID uuid.UUID, startAt time.Time, minutes int) error
}

type AppointmentHandler struct {
	store    *Store
	slots    SlotValidator
	notifier notify.Notifier
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewAppointmentHandler(store *Store, validator SlotValidator, notifier notify.Notifier, log zerolog.Logger, m *metrics.Metrics) *AppointmentHandler {
	return &AppointmentHandler{
		store:    store,
		slots:    validator,
		notifier: notifier,
		log:      log.With().Str("component", "appointment").Logger(),
		metrics:  m,
		now:      time.Now,
	}
}

func (h *AppointmentHandler) RegisterRoutes(router *mux.Router) {
	patient := session.RequireComplete(models.RolePatient)
	doctor := session.RequireComplete(models.RoleDoctor)
	anyone := session.RequireComplete()

	router.HandleFunc("/appointments", patient(h.BookAppointment)).Methods("POST")
	router.HandleFunc("/appointments", anyone(h.GetAppointments)).Methods("GET")
	router.HandleFunc("/appointments/{id}", anyone(h.GetAppointment)).Methods("GET")
	router.HandleFunc("/appointments/{id}/cancel", anyone(h.CancelAppointment)).Methods("PATCH")
	router.HandleFunc("/appointments/{id}/reschedule", anyone(h.RescheduleAppointment)).Methods("PATCH")
	router.HandleFunc("/appointments/{id}/complete", doctor(h.CompleteAppointment)).Methods("PATCH")
	router.HandleFunc("/appointments/{id}", patient(h.DeleteAppointment)).Methods("DELETE")
	router.HandleFunc("/doctor/patients", doctor(h.GetDoctorPatients)).Methods("GET")
}

// slotRequest names a slot the way GET /doctors/{id}/slots offered it,
// including the duration the slots were queried with.
type slotRequest struct {
	Date            string `json:"date"`
	TimeSlot        string `json:"time_slot"`
	DurationMinutes int    `json:"duration_minutes"`
}

// startAt combines date and time slot into a UTC instant that must lie in
// the future.
func (h *AppointmentHandler) startAt(req slotRequest) (time.Time, error) {
	day, err := slots.ParseDate(req.Date)
	if err != nil {
		return time.Time{}, err
	}
	clock, err := slots.ParseClock(req.TimeSlot)
	if err != nil {
		return time.Time{}, err
	}
	at := clock.On(day)
	if !at.After(h.now()) {
		return time.Time{}, apperr.InvalidInput("appointments cannot be booked in the past", nil)
	}
	return at, nil
}

func (h *AppointmentHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.book(r)
	h.metrics.ObserveBooking("book", outcome(err))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	h.announce(r.Context(), notify.AppointmentBooked, "Appointment booked", appt)
	utils.WriteJSON(w, http.StatusCreated, appt)
}

func (h *AppointmentHandler) book(r *http.Request) (*models.Appointment, error) {
	patientID, _ := session.FromContext(r.Context()).PatientID()

	var req struct {
		DoctorID uuid.UUID `json:"doctor_id"`
		Reason   string    `json:"reason"`
		slotRequest
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		return nil, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.DoctorID == uuid.Nil {
		return nil, apperr.InvalidInput("doctor_id is required", nil)
	}
	if req.Reason == "" {
		return nil, apperr.InvalidInput("reason is required", nil)
	}
	at, err := h.startAt(req.slotRequest)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	if err := h.store.DoctorExists(ctx, req.DoctorID); err != nil {
		return nil, err
	}
	if err := h.slots.CheckCandidate(ctx, req.DoctorID, at, req.DurationMinutes); err != nil {
		return nil, err
	}

	appt := models.Appointment{DoctorID: req.DoctorID, PatientID: patientID, StartAt: at, Reason: req.Reason}
	if err := h.store.Book(ctx, &appt); err != nil {
		return nil, err
	}
	return h.store.Get(ctx, appt.ID)
}

func (h *AppointmentHandler) GetAppointments(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	page, size := utils.Page(r, 20, 100)
	f := Filter{Page: page, Size: size}

	if status := r.URL.Query().Get("status"); status != "" {
		f.Status = models.AppointmentStatus(status)
		switch f.Status {
		case models.StatusScheduled, models.StatusCompleted, models.StatusCancelled:
		default:
			utils.WriteError(w, apperr.InvalidInput("unknown status "+status, nil))
			return
		}
	}
	if id, ok := sess.PatientID(); ok {
		f.PatientID = &id
	}
	if id, ok := sess.DoctorID(); ok {
		f.DoctorID = &id
	}

	appts, total, err := h.store.List(r.Context(), f)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"appointments": appts,
		"pagination":   utils.NewPagination(page, size, total),
	})
}

// load fetches the {id} appointment and checks the caller may see it.
func (h *AppointmentHandler) load(r *http.Request) (*models.Appointment, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return nil, apperr.InvalidInput("invalid appointment ID", err)
	}
	appt, err := h.store.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}

	sess := session.FromContext(r.Context())
	if sess.Role() == models.RoleAdmin || isParticipant(sess, appt) {
		return appt, nil
	}
	return nil, apperr.NotFound("appointment not found", nil)
}

func isParticipant(sess session.Context, appt *models.Appointment) bool {
	if id, ok := sess.PatientID(); ok && id == appt.PatientID {
		return true
	}
	if id, ok := sess.DoctorID(); ok && id == appt.DoctorID {
		return true
	}
	return false
}

func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.load(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.load(r)
	if err == nil && !isParticipant(session.FromContext(r.Context()), appt) {
		err = apperr.Forbidden("only participants can cancel an appointment", nil)
	}
	var already bool
	if err == nil {
		already = appt.Status == models.StatusCancelled
		_, err = h.store.Cancel(r.Context(), appt.ID)
	}
	h.metrics.ObserveBooking("cancel", outcome(err))
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	appt.Status = models.StatusCancelled
	if !already {
		h.announce(r.Context(), notify.AppointmentCancelled, "Appointment cancelled", appt)
	}
	utils.WriteJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.reschedule(r)
	h.metrics.ObserveBooking("reschedule", outcome(err))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	h.announce(r.Context(), notify.AppointmentRescheduled, "Appointment rescheduled", appt)
	utils.WriteJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) reschedule(r *http.Request) (*models.Appointment, error) {
	appt, err := h.load(r)
	if err != nil {
		return nil, err
	}
	if !isParticipant(session.FromContext(r.Context()), appt) {
		return nil, apperr.Forbidden("only participants can reschedule an appointment", nil)
	}

	var req slotRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		return nil, err
	}
	at, err := h.startAt(req)
	if err != nil {
		return nil, err
	}
	if err := h.slots.CheckCandidate(r.Context(), appt.DoctorID, at, req.DurationMinutes); err != nil {
		return nil, err
	}

	if _, err := h.store.Reschedule(r.Context(), appt.ID, at); err != nil {
		return nil, err
	}
	return h.store.Get(r.Context(), appt.ID)
}

func (h *AppointmentHandler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.load(r)
	if err == nil {
		if doctorID, _ := session.FromContext(r.Context()).DoctorID(); doctorID != appt.DoctorID {
			err = apperr.Forbidden("only the appointment's doctor can complete it", nil)
		}
	}
	if err == nil {
		_, err = h.store.Complete(r.Context(), appt.ID)
	}
	h.metrics.ObserveBooking("complete", outcome(err))
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	appt.Status = models.StatusCompleted
	h.announce(r.Context(), notify.AppointmentCompleted, "Appointment completed", appt)
	utils.WriteJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.load(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if patientID, _ := session.FromContext(r.Context()).PatientID(); patientID != appt.PatientID {
		utils.WriteError(w, apperr.Forbidden("only the patient can delete an appointment", nil))
		return
	}
	if err := h.store.Delete(r.Context(), appt.ID); err != nil {
		utils.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AppointmentHandler) GetDoctorPatients(w http.ResponseWriter, r *http.Request) {
	doctorID, _ := session.FromContext(r.Context()).DoctorID()
	patients, err := h.store.PatientsOfDoctor(r.Context(), doctorID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, patients)
}

// announce tells the doctor and the patient about a change to appt.
func (h *AppointmentHandler) announce(ctx context.Context, eventType, title string, appt *models.Appointment) {
	if h.notifier == nil {
		return
	}
	var users []uuid.UUID
	doctorName, patientName := "your doctor", "your patient"
	if appt.Doctor != nil {
		users = append(users, appt.Doctor.UserID)
		doctorName = appt.Doctor.FullName()
	}
	if appt.Patient != nil {
		users = append(users, appt.Patient.UserID)
		patientName = appt.Patient.FullName()
	}
	if len(users) == 0 {
		h.log.Warn().Str("appointment_id", appt.ID.String()).Msg("appointment has no participants to notify")
		return
	}

	h.notifier.Notify(ctx, notify.Event{
		Type:    eventType,
		UserIDs: users,
		Title:   title,
		Body:    fmt.Sprintf("%s with %s on %s", doctorName, patientName, appt.StartAt.UTC().Format("Mon 2 Jan 2006 at 15:04 UTC")),
		Data: map[string]string{
			"appointment_id": appt.ID.String(),
			"start_at":       appt.StartAt.UTC().Format(time.RFC3339),
			"status":         string(appt.Status),
		},
		Email: true,
	})
}

func outcome(err error) string {
	var (
		conflict *apperr.ConflictError
		invalid  *apperr.InvalidInputError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &invalid):
		return "invalid"
	default:
		return "error"
	}
}
