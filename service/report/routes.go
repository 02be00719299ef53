package report

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/cmd/utils"
	"github.com/mediscan/mediscan-server/service/session"
)

type ReportHandler struct {
	svc *Service
}

func NewReportHandler(svc *Service) *ReportHandler {
	return &ReportHandler{svc: svc}
}

func (h *ReportHandler) RegisterRoutes(router *mux.Router) {
	author := session.RequireComplete(models.RolePatient, models.RoleDoctor)
	anyone := session.RequireComplete()

	router.HandleFunc("/reports", author(h.CreateReport)).Methods("POST")
	router.HandleFunc("/reports", anyone(h.GetReports)).Methods("GET")
	router.HandleFunc("/reports/{id}", anyone(h.GetReport)).Methods("GET")
}

// CreateReport accepts a multipart form with the X-ray in "image" (or
// "file"), an optional "title" and, for doctors, an optional "patient_id".
func (h *ReportHandler) CreateReport(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, utils.MaxImageSize+1<<20)
	if err := r.ParseMultipartForm(utils.MaxImageSize); err != nil {
		utils.WriteError(w, apperr.InvalidInput("unable to parse form", err))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		file, header, err = r.FormFile("file")
	}
	if err != nil {
		utils.WriteError(w, apperr.InvalidInput("image file is required", err))
		return
	}
	defer file.Close()

	img, err := utils.ReadImage(file, header)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	in := Upload{Title: strings.TrimSpace(r.FormValue("title")), Image: img}
	if id, ok := sess.PatientID(); ok {
		in.PatientID = &id
	} else if id, ok := sess.DoctorID(); ok {
		in.DoctorID = &id
		if raw := strings.TrimSpace(r.FormValue("patient_id")); raw != "" {
			patientID, err := uuid.Parse(raw)
			if err != nil {
				utils.WriteError(w, apperr.InvalidInput("invalid patient ID", err))
				return
			}
			if err := h.svc.PatientExists(r.Context(), patientID); err != nil {
				utils.WriteError(w, err)
				return
			}
			in.PatientID = &patientID
		}
	}

	report, err := h.svc.Create(r.Context(), in)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, report)
}

func scopeOf(sess session.Context) Scope {
	if id, ok := sess.PatientID(); ok {
		return Scope{PatientID: &id}
	}
	if id, ok := sess.DoctorID(); ok {
		return Scope{DoctorID: &id}
	}
	return Scope{}
}

func (h *ReportHandler) GetReports(w http.ResponseWriter, r *http.Request) {
	page, size := utils.Page(r, 10, 50)

	reports, total, err := h.svc.List(r.Context(), scopeOf(session.FromContext(r.Context())), page, size)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"reports":    reports,
		"pagination": utils.NewPagination(page, size, total),
	})
}

// GetReport answers 404 for reports outside the caller's scope.
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.WriteError(w, apperr.InvalidInput("invalid report ID", err))
		return
	}

	report, err := h.svc.Get(r.Context(), scopeOf(session.FromContext(r.Context())), id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, report)
}
