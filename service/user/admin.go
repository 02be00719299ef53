package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
)

// CreateAdmin inserts a verified admin account. Admins cannot sign up
// through the API, so the create-admin command is the only way in.
func CreateAdmin(ctx context.Context, db *gorm.DB, email, password, name string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, apperr.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength), nil)
	}
	if name = strings.TrimSpace(name); name == "" {
		name = "Administrator"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	admin := models.User{
		Name:          name,
		Email:         email,
		PasswordHash:  string(hash),
		Role:          models.RoleAdmin,
		EmailVerified: true,
	}
	if err := db.WithContext(ctx).Create(&admin).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("email already registered", err)
		}
		return nil, err
	}
	return &admin, nil
}
