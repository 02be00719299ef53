package user

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/cmd/utils"
	"github.com/mediscan/mediscan-server/service/session"
)

// profileRequest carries the fields of either profile kind; the caller's
// role decides which ones are read.
type profileRequest struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	DateOfBirth     string `json:"date_of_birth"`
	Gender          string `json:"gender"`
	ContactNumber   string `json:"contact_number"`
	Address         string `json:"address"`
	MedicalHistory  string `json:"medical_history"`
	Specialization  string `json:"specialization"`
	LicenseNumber   string `json:"license_number"`
	ExperienceYears int    `json:"experience_years"`
	AvatarURL       string `json:"avatar_url"`
}

func (p *profileRequest) trim() {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.DateOfBirth = strings.TrimSpace(p.DateOfBirth)
	p.ContactNumber = strings.TrimSpace(p.ContactNumber)
}

func (p profileRequest) birthDate(now time.Time) (*time.Time, error) {
	if p.DateOfBirth == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", p.DateOfBirth)
	if err != nil {
		return nil, apperr.InvalidInput("date_of_birth must be YYYY-MM-DD", err)
	}
	if d.After(now) {
		return nil, apperr.InvalidInput("date_of_birth is in the future", nil)
	}
	return &d, nil
}

func (p profileRequest) patient(userID uuid.UUID, now time.Time) (models.Patient, error) {
	dob, err := p.birthDate(now)
	if err != nil {
		return models.Patient{}, err
	}
	return models.Patient{
		UserID:         userID,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		DateOfBirth:    dob,
		Gender:         p.Gender,
		ContactNumber:  p.ContactNumber,
		Address:        p.Address,
		MedicalHistory: p.MedicalHistory,
	}, nil
}

func (p profileRequest) doctor(userID uuid.UUID) (models.Doctor, error) {
	if p.ExperienceYears < 0 {
		return models.Doctor{}, apperr.InvalidInput("experience_years cannot be negative", nil)
	}
	return models.Doctor{
		UserID:          userID,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Specialization:  p.Specialization,
		LicenseNumber:   p.LicenseNumber,
		ExperienceYears: p.ExperienceYears,
		ContactNumber:   p.ContactNumber,
		AvatarURL:       p.AvatarURL,
	}, nil
}

// CompleteProfile creates the caller's patient or doctor row and moves the
// session to AuthenticatedComplete.
func (h *Handler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	var req profileRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	req.trim()

	var (
		row       interface{}
		candidate session.Profile
	)
	switch sess.Role() {
	case models.RolePatient:
		p, err := req.patient(sess.UserID(), h.now())
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		row, candidate = &p, session.PatientProfileOf(p)
	case models.RoleDoctor:
		d, err := req.doctor(sess.UserID())
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		row, candidate = &d, session.DoctorProfileOf(d)
	default:
		candidate = session.AdminProfile{}
	}

	if _, err := session.CompleteProfile(sess, candidate); err != nil {
		utils.WriteError(w, err)
		return
	}
	if req.FirstName == "" || req.LastName == "" {
		utils.WriteError(w, apperr.InvalidInput("first_name and last_name are required", nil))
		return
	}

	if err := h.db.WithContext(r.Context()).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = apperr.Conflict("profile already completed", err)
		}
		utils.WriteError(w, err)
		return
	}

	var profile session.Profile
	switch v := row.(type) {
	case *models.Patient:
		profile = session.PatientProfileOf(*v)
	case *models.Doctor:
		profile = session.DoctorProfileOf(*v)
	}
	next, err := session.CompleteProfile(sess, profile)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	h.log.Info().Str("user_id", sess.UserID().String()).Str("role", string(sess.Role())).Msg("profile completed")
	utils.WriteJSON(w, http.StatusCreated, next.View())
}

// UpdateProfile changes the non-empty fields of the caller's profile.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	var req profileRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	req.trim()

	db := h.db.WithContext(r.Context())
	var profile session.Profile
	switch sess.Role() {
	case models.RolePatient:
		changes, err := req.patient(sess.UserID(), h.now())
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		var p models.Patient
		if err := db.Where("user_id = ?", sess.UserID()).First(&p).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
		mergePatient(&p, changes)
		if err := db.Save(&p).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
		profile = session.PatientProfileOf(p)
	case models.RoleDoctor:
		changes, err := req.doctor(sess.UserID())
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		var d models.Doctor
		if err := db.Where("user_id = ?", sess.UserID()).First(&d).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
		mergeDoctor(&d, changes)
		if err := db.Save(&d).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
		profile = session.DoctorProfileOf(d)
	default:
		utils.WriteError(w, apperr.InvalidInput("admins have no profile to update", nil))
		return
	}

	utils.WriteJSON(w, http.StatusOK, session.Resolve(sess.Account, profile).View())
}

func mergePatient(p *models.Patient, c models.Patient) {
	setString(&p.FirstName, c.FirstName)
	setString(&p.LastName, c.LastName)
	setString(&p.Gender, c.Gender)
	setString(&p.ContactNumber, c.ContactNumber)
	setString(&p.Address, c.Address)
	setString(&p.MedicalHistory, c.MedicalHistory)
	if c.DateOfBirth != nil {
		p.DateOfBirth = c.DateOfBirth
	}
}

func mergeDoctor(d *models.Doctor, c models.Doctor) {
	setString(&d.FirstName, c.FirstName)
	setString(&d.LastName, c.LastName)
	setString(&d.Specialization, c.Specialization)
	setString(&d.LicenseNumber, c.LicenseNumber)
	setString(&d.ContactNumber, c.ContactNumber)
	setString(&d.AvatarURL, c.AvatarURL)
	if c.ExperienceYears > 0 {
		d.ExperienceYears = c.ExperienceYears
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (h *Handler) GetDoctors(w http.ResponseWriter, r *http.Request) {
	q := h.db.WithContext(r.Context()).Preload("AvailabilityRules", orderRules)
	if want := strings.TrimSpace(r.URL.Query().Get("specialization")); want != "" {
		q = q.Where("LOWER(specialization) LIKE ?", "%"+strings.ToLower(want)+"%")
	}

	doctors := []models.Doctor{}
	if err := q.Order("last_name, first_name").Find(&doctors).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, doctors)
}

func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.WriteError(w, apperr.InvalidInput("invalid doctor ID", err))
		return
	}

	var doctor models.Doctor
	err = h.db.WithContext(r.Context()).Preload("AvailabilityRules", orderRules).First(&doctor, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = apperr.NotFound("doctor not found", err)
	}
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, doctor)
}

func orderRules(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC").Order("id ASC")
}

func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	page, size := utils.Page(r, 20, 100)

	q := h.db.WithContext(r.Context()).Model(&models.User{})
	if role := models.Role(r.URL.Query().Get("role")); role != "" {
		if !role.Valid() {
			utils.WriteError(w, apperr.InvalidInput("unknown role "+string(role), nil))
			return
		}
		q = q.Where("role = ?", role)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	users := []models.User{}
	if err := q.Order("created_at DESC").Limit(size).Offset((page - 1) * size).Find(&users).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users":      users,
		"pagination": utils.NewPagination(page, size, total),
	})
}
