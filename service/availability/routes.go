package availability

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/cmd/utils"
	"github.com/mediscan/mediscan-server/service/session"
)

type AvailabilityHandler struct {
	store  *Store
	finder *Finder
}

func NewAvailabilityHandler(store *Store, finder *Finder) *AvailabilityHandler {
	return &AvailabilityHandler{store: store, finder: finder}
}

func (h *AvailabilityHandler) RegisterRoutes(router *mux.Router) {
	doctor := session.RequireComplete(models.RoleDoctor)
	anyone := session.RequireComplete()

	router.HandleFunc("/doctor/availability", doctor(h.GetOwnAvailability)).Methods("GET")
	router.HandleFunc("/doctor/availability", doctor(h.CreateAvailability)).Methods("POST")
	router.HandleFunc("/doctor/availability/{id}", doctor(h.DeleteAvailability)).Methods("DELETE")
	router.HandleFunc("/doctors/{doctorId}/availability", anyone(h.GetDoctorAvailability)).Methods("GET")
	router.HandleFunc("/doctors/{doctorId}/slots", anyone(h.GetAvailableSlots)).Methods("GET")
}

type createRuleRequest struct {
	Weekdays  []string `json:"available_weekdays"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
}

func (h *AvailabilityHandler) CreateAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, _ := session.FromContext(r.Context()).DoctorID()

	var req createRuleRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	rule, err := NewRule(doctorID, req.Weekdays, req.StartTime, req.EndTime)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if err := h.store.Create(r.Context(), &rule); err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, rule)
}

func (h *AvailabilityHandler) GetOwnAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, _ := session.FromContext(r.Context()).DoctorID()
	h.writeRules(w, r, doctorID)
}

func (h *AvailabilityHandler) GetDoctorAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(mux.Vars(r)["doctorId"])
	if err != nil {
		utils.WriteError(w, apperr.InvalidInput("invalid doctor ID", err))
		return
	}
	if err := h.store.DoctorExists(r.Context(), doctorID); err != nil {
		utils.WriteError(w, err)
		return
	}
	h.writeRules(w, r, doctorID)
}

func (h *AvailabilityHandler) writeRules(w http.ResponseWriter, r *http.Request, doctorID uuid.UUID) {
	rules, err := h.store.ListByDoctor(r.Context(), doctorID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rules)
}

func (h *AvailabilityHandler) DeleteAvailability(w http.ResponseWriter, r *http.Request) {
	ruleID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.WriteError(w, apperr.InvalidInput("invalid availability ID", err))
		return
	}
	doctorID, _ := session.FromContext(r.Context()).DoctorID()

	if err := h.store.Delete(r.Context(), doctorID, ruleID); err != nil {
		utils.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAvailableSlots answers GET /doctors/{doctorId}/slots?date=YYYY-MM-DD&duration=30.
func (h *AvailabilityHandler) GetAvailableSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(mux.Vars(r)["doctorId"])
	if err != nil {
		utils.WriteError(w, apperr.InvalidInput("invalid doctor ID", err))
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		utils.WriteError(w, apperr.InvalidInput("date is required", nil))
		return
	}
	minutes := h.finder.SlotMinutes()
	if raw := r.URL.Query().Get("duration"); raw != "" {
		minutes, err = strconv.Atoi(raw)
		if err != nil {
			utils.WriteError(w, apperr.InvalidInput("duration must be a whole number of minutes", err))
			return
		}
		if minutes == 0 {
			utils.WriteError(w, apperr.InvalidInput("duration must be positive", nil))
			return
		}
	}

	if err := h.store.DoctorExists(r.Context(), doctorID); err != nil {
		utils.WriteError(w, err)
		return
	}
	free, err := h.finder.FreeSlots(r.Context(), doctorID, date, minutes)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"doctor_id":        doctorID,
		"date":             date,
		"duration_minutes": minutes,
		"available_slots":  free,
	})
}
