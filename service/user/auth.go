package user

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/cmd/utils"
	"github.com/mediscan/mediscan-server/service/notify"
	"github.com/mediscan/mediscan-server/service/session"
)

const minPasswordLength = 8

type Handler struct {
	db      *gorm.DB
	tokens  *utils.Tokens
	mailer  notify.Mailer
	codeTTL time.Duration
	log     zerolog.Logger
	now     func() time.Time

	// async sends verification mail in the background.
	async bool
}

func NewHandler(db *gorm.DB, tokens *utils.Tokens, mailer notify.Mailer, codeTTL time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		db:      db,
		tokens:  tokens,
		mailer:  mailer,
		codeTTL: codeTTL,
		log:     log.With().Str("component", "user").Logger(),
		now:     time.Now,
		async:   true,
	}
}

// RegisterRoutes mounts the routes that need no access token.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/register", h.HandleRegister).Methods("POST")
	router.HandleFunc("/user/verify", h.VerifyUser).Methods("POST")
	router.HandleFunc("/user/resend-code", h.ResendCode).Methods("POST")
	router.HandleFunc("/login", h.HandleLogin).Methods("POST")
	router.HandleFunc("/refresh", h.HandleRefreshToken).Methods("POST")
}

// RegisterProtectedRoutes mounts the routes that run behind the session middleware.
func (h *Handler) RegisterProtectedRoutes(router *mux.Router) {
	anyone := session.RequireComplete()
	admin := session.RequireComplete(models.RoleAdmin)

	router.HandleFunc("/logout", h.HandleLogout).Methods("POST")
	router.HandleFunc("/me", h.Me).Methods("GET")
	router.HandleFunc("/profile/complete", h.CompleteProfile).Methods("POST")
	router.HandleFunc("/profile", anyone(h.UpdateProfile)).Methods("PUT")
	router.HandleFunc("/doctors", anyone(h.GetDoctors)).Methods("GET")
	router.HandleFunc("/doctors/{id}", anyone(h.GetDoctor)).Methods("GET")
	router.HandleFunc("/admin/users", admin(h.GetUsers)).Methods("GET")
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.InvalidInput("invalid email address", err)
	}
	return email, nil
}

func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string      `json:"name"`
		Email    string      `json:"email"`
		Password string      `json:"password"`
		Role     models.Role `json:"role"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	switch {
	case req.Name == "":
		err = apperr.InvalidInput("name is required", nil)
	case len(req.Password) < minPasswordLength:
		err = apperr.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength), nil)
	case req.Role != models.RolePatient && req.Role != models.RoleDoctor:
		err = apperr.InvalidInput("role must be patient or doctor", nil)
	}
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	var existing int64
	if err := h.db.WithContext(r.Context()).Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	if existing > 0 {
		h.log.Info().Str("email", email).Msg("registration attempt with an email already in use")
		utils.WriteError(w, apperr.Conflict("email is already in use", nil))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	code, err := verificationCode()
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	user := models.User{
		Name:                  req.Name,
		Email:                 email,
		PasswordHash:          string(hash),
		Role:                  req.Role,
		EmailVerificationCode: code,
		VerificationExpiry:    h.now().Add(h.codeTTL),
	}
	if err := h.db.WithContext(r.Context()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = apperr.Conflict("email is already in use", err)
		}
		utils.WriteError(w, err)
		return
	}

	h.sendVerificationEmail(user.Email, code)

	utils.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Registration successful. Check your email for the verification code.",
		"user":    user,
	})
}

func (h *Handler) sendVerificationEmail(to, code string) {
	if h.mailer == nil {
		return
	}
	send := func() {
		body := fmt.Sprintf("Your Mediscan verification code is %s. It expires in %s.", code, h.codeTTL)
		if err := h.mailer.Send(to, "Verify your email", body); err != nil {
			h.log.Error().Err(err).Str("email", to).Msg("failed to send verification email")
		}
	}
	if h.async {
		go send()
		return
	}
	send()
}

func (h *Handler) VerifyUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	user, err := h.userByEmail(r, req.Email)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if user.EmailVerified {
		utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Email already verified"})
		return
	}
	if user.EmailVerificationCode == "" || user.EmailVerificationCode != strings.TrimSpace(req.Code) || h.now().After(user.VerificationExpiry) {
		utils.WriteError(w, apperr.Unauthorized("invalid or expired verification code", nil))
		return
	}

	user.EmailVerified = true
	user.EmailVerificationCode = ""
	user.VerificationExpiry = time.Time{}
	if err := h.db.WithContext(r.Context()).Save(user).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

func (h *Handler) ResendCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	user, err := h.userByEmail(r, req.Email)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if user.EmailVerified {
		utils.WriteError(w, apperr.Conflict("email already verified", nil))
		return
	}

	code, err := verificationCode()
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	user.EmailVerificationCode = code
	user.VerificationExpiry = h.now().Add(h.codeTTL)
	if err := h.db.WithContext(r.Context()).Save(user).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	h.sendVerificationEmail(user.Email, code)
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Verification code sent"})
}

func (h *Handler) userByEmail(r *http.Request, raw string) (*models.User, error) {
	email, err := normalizeEmail(raw)
	if err != nil {
		return nil, err
	}
	var user models.User
	err = h.db.WithContext(r.Context()).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found", err)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	Session      session.View `json:"session"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	var user models.User
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := h.db.WithContext(r.Context()).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = apperr.Unauthorized("invalid credentials", err)
		}
		utils.WriteError(w, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		utils.WriteError(w, apperr.Unauthorized("invalid credentials", err))
		return
	}
	if !user.EmailVerified {
		utils.WriteError(w, apperr.Forbidden("email not verified", nil))
		return
	}

	resp, err := h.issueTokens(r, h.db.WithContext(r.Context()), &user)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	h.log.Info().Str("user_id", user.ID.String()).Str("role", string(user.Role)).Msg("user signed in")
	utils.WriteJSON(w, http.StatusOK, resp)
}

// issueTokens stores a fresh refresh token for user through tx and returns
// it with an access token and the caller's session.
func (h *Handler) issueTokens(r *http.Request, tx *gorm.DB, user *models.User) (*tokenResponse, error) {
	access, err := h.tokens.GenerateJWT(user.ID)
	if err != nil {
		return nil, err
	}
	refresh, err := h.tokens.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}

	err = tx.Model(user).Updates(map[string]interface{}{
		"refresh_token":            refresh,
		"refresh_token_expired_at": h.now().Add(h.tokens.RefreshTTL()),
	}).Error
	if err != nil {
		return nil, err
	}

	sess, err := session.NewLoader(tx).Load(r.Context(), user.ID)
	if err != nil {
		return nil, err
	}
	return &tokenResponse{AccessToken: access, RefreshToken: refresh, Session: sess.View()}, nil
}

// HandleRefreshToken rotates the refresh token; the old one stops working.
func (h *Handler) HandleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	if req.RefreshToken == "" {
		utils.WriteError(w, apperr.InvalidInput("refresh_token is required", nil))
		return
	}

	var resp *tokenResponse
	err := h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("refresh_token = ?", req.RefreshToken).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.Unauthorized("invalid refresh token", err)
			}
			return err
		}
		if user.RefreshTokenExpiredAt.Before(h.now()) {
			return apperr.Unauthorized("refresh token expired", nil)
		}
		var err error
		resp, err = h.issueTokens(r, tx, &user)
		return err
	})
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	err := h.db.WithContext(r.Context()).Model(&models.User{}).
		Where("id = ?", sess.UserID()).
		Updates(map[string]interface{}{"refresh_token": "", "refresh_token_expired_at": time.Time{}}).Error
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Signed out",
		"session": session.SignOut(sess).View(),
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, session.FromContext(r.Context()).View())
}
