package notify

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/cmd/utils"
	"github.com/mediscan/mediscan-server/service/session"
)

// NotificationHandler manages the caller's push devices and notification history.
type NotificationHandler struct {
	db *gorm.DB
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

func (h *NotificationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/devices", h.RegisterDevice).Methods("POST")
	router.HandleFunc("/devices", h.GetDevices).Methods("GET")
	router.HandleFunc("/devices/{id}", h.DeleteDevice).Methods("DELETE")
	router.HandleFunc("/notifications", h.GetNotificationHistory).Methods("GET")
}

// RegisterDevice is idempotent per (token, user).
func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess.Account == nil {
		utils.WriteError(w, apperr.Unauthorized("not signed in", nil))
		return
	}

	var req struct {
		Token      string `json:"token"`
		DeviceType string `json:"device_type"`
		DeviceName string `json:"device_name"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		utils.WriteError(w, apperr.InvalidInput("token is required", nil))
		return
	}
	if err := ValidatePushToken(req.Token); err != nil {
		utils.WriteError(w, apperr.InvalidInput("invalid Expo push token format", err))
		return
	}

	device := models.Device{UserID: sess.UserID(), Token: req.Token}
	err := h.db.WithContext(r.Context()).
		Where(models.Device{UserID: device.UserID, Token: device.Token}).
		Assign(models.Device{DeviceType: req.DeviceType, DeviceName: req.DeviceName}).
		FirstOrCreate(&device).Error
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Device registered successfully",
		"device":  device,
	})
}

func (h *NotificationHandler) GetDevices(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	devices := []models.Device{}
	if err := h.db.WithContext(r.Context()).Where("user_id = ?", sess.UserID()).Find(&devices).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, devices)
}

func (h *NotificationHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.WriteError(w, apperr.InvalidInput("invalid device ID", err))
		return
	}
	sess := session.FromContext(r.Context())

	result := h.db.WithContext(r.Context()).
		Where("id = ? AND user_id = ?", deviceID, sess.UserID()).
		Delete(&models.Device{})
	if result.Error != nil {
		utils.WriteError(w, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		utils.WriteError(w, apperr.NotFound("device not found", nil))
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Device deleted successfully"})
}

func (h *NotificationHandler) GetNotificationHistory(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	page, size := utils.Page(r, 20, 100)

	var total int64
	q := h.db.WithContext(r.Context()).Model(&models.NotificationHistory{}).Where("user_id = ?", sess.UserID())
	if err := q.Count(&total).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	history := []models.NotificationHistory{}
	err := h.db.WithContext(r.Context()).
		Where("user_id = ?", sess.UserID()).
		Order("sent_at DESC").
		Limit(size).
		Offset((page - 1) * size).
		Find(&history).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.WriteError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"history":    history,
		"pagination": utils.NewPagination(page, size, total),
	})
}
