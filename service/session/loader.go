package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/cmd/utils"
)

type Loader struct {
	db *gorm.DB
}

func NewLoader(db *gorm.DB) *Loader {
	return &Loader{db: db}
}

// Load builds the Context of an authenticated user.
func (l *Loader) Load(ctx context.Context, userID uuid.UUID) (Context, error) {
	var user models.User
	if err := l.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Context{State: Unauthenticated}, apperr.Unauthorized("account no longer exists", err)
		}
		return Context{}, err
	}
	account := AccountOf(user)

	profile, err := l.profile(ctx, user)
	if err != nil {
		return Context{}, err
	}
	return Resolve(&account, profile), nil
}

func (l *Loader) profile(ctx context.Context, user models.User) (Profile, error) {
	switch user.Role {
	case models.RolePatient:
		var p models.Patient
		err := l.db.WithContext(ctx).Where("user_id = ?", user.ID).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return PatientProfileOf(p), nil
	case models.RoleDoctor:
		var d models.Doctor
		err := l.db.WithContext(ctx).Where("user_id = ?", user.ID).First(&d).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return DoctorProfileOf(d), nil
	case models.RoleAdmin:
		return AdminProfile{}, nil
	}
	return nil, nil
}

type ctxKey struct{}

func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func FromContext(ctx context.Context) Context {
	c, ok := ctx.Value(ctxKey{}).(Context)
	if !ok {
		return Context{State: Unauthenticated}
	}
	return c
}

// Middleware runs after utils.AuthMiddleware and attaches the caller's Context.
func (l *Loader) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := utils.GetUserIDFromContext(r)
		if err != nil {
			utils.WriteError(w, apperr.Unauthorized("not signed in", err))
			return
		}
		c, err := l.Load(r.Context(), userID)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), c)))
	})
}

// RequireComplete rejects callers whose profile is not complete, and callers
// whose role is not in roles when roles is non-empty.
func RequireComplete(roles ...models.Role) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			c := FromContext(r.Context())
			if err := c.Require(roles...); err != nil {
				utils.WriteError(w, err)
				return
			}
			next(w, r)
		}
	}
}

func (c Context) Require(roles ...models.Role) error {
	switch c.State {
	case Unauthenticated:
		return apperr.Unauthorized("not signed in", nil)
	case AuthenticatedIncompleteProfile:
		return apperr.Forbidden("complete your profile first", nil)
	}
	if len(roles) == 0 {
		return nil
	}
	for _, role := range roles {
		if c.Role() == role {
			return nil
		}
	}
	return apperr.Forbidden("not allowed for role "+string(c.Role()), nil)
}
