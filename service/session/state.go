// Package session models who is calling and how far through onboarding they
// are. The transition functions are pure; Loader and Middleware build a
// Context per request from the database.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/cmd/models"
)

type State int

const (
	Unauthenticated State = iota
	AuthenticatedIncompleteProfile
	AuthenticatedComplete
)

func (s State) String() string {
	switch s {
	case AuthenticatedIncompleteProfile:
		return "authenticated_incomplete_profile"
	case AuthenticatedComplete:
		return "authenticated_complete"
	default:
		return "unauthenticated"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Step is where a client should send the user next.
type Step string

const (
	StepLogin           Step = "login"
	StepCompleteProfile Step = "complete-profile"
	StepDashboard       Step = "dashboard"
)

func NextStep(s State) Step {
	switch s {
	case AuthenticatedIncompleteProfile:
		return StepCompleteProfile
	case AuthenticatedComplete:
		return StepDashboard
	default:
		return StepLogin
	}
}

// Profile is one of PatientProfile, DoctorProfile or AdminProfile.
type Profile interface {
	Kind() models.Role
	isProfile()
}

type PatientProfile struct {
	PatientID      uuid.UUID  `json:"patient_id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	DateOfBirth    *time.Time `json:"date_of_birth,omitempty"`
	Gender         string     `json:"gender,omitempty"`
	ContactNumber  string     `json:"contact_number,omitempty"`
	Address        string     `json:"address,omitempty"`
	MedicalHistory string     `json:"medical_history,omitempty"`
}

type DoctorProfile struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Specialization  string    `json:"specialization,omitempty"`
	LicenseNumber   string    `json:"license_number,omitempty"`
	ExperienceYears int       `json:"experience_years"`
	ContactNumber   string    `json:"contact_number,omitempty"`
	AvatarURL       string    `json:"avatar_url,omitempty"`
}

// AdminProfile has no details; admins never complete a profile.
type AdminProfile struct{}

func (PatientProfile) Kind() models.Role { return models.RolePatient }
func (DoctorProfile) Kind() models.Role  { return models.RoleDoctor }
func (AdminProfile) Kind() models.Role   { return models.RoleAdmin }

func (PatientProfile) isProfile() {}
func (DoctorProfile) isProfile()  {}
func (AdminProfile) isProfile()   {}

func PatientProfileOf(p models.Patient) PatientProfile {
	return PatientProfile{
		PatientID:      p.ID,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		DateOfBirth:    p.DateOfBirth,
		Gender:         p.Gender,
		ContactNumber:  p.ContactNumber,
		Address:        p.Address,
		MedicalHistory: p.MedicalHistory,
	}
}

func DoctorProfileOf(d models.Doctor) DoctorProfile {
	return DoctorProfile{
		DoctorID:        d.ID,
		FirstName:       d.FirstName,
		LastName:        d.LastName,
		Specialization:  d.Specialization,
		LicenseNumber:   d.LicenseNumber,
		ExperienceYears: d.ExperienceYears,
		ContactNumber:   d.ContactNumber,
		AvatarURL:       d.AvatarURL,
	}
}

type Account struct {
	UserID uuid.UUID   `json:"user_id"`
	Email  string      `json:"email"`
	Name   string      `json:"name"`
	Role   models.Role `json:"role"`
}

func AccountOf(u models.User) Account {
	return Account{UserID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// Context is the per-request view of the caller. Profile is set only in
// AuthenticatedComplete.
type Context struct {
	State   State
	Account *Account
	Profile Profile
}

// Resolve derives the state from what is known about the caller. A profile
// of the wrong kind for the account's role counts as missing.
func Resolve(account *Account, profile Profile) Context {
	if account == nil {
		return Context{State: Unauthenticated}
	}
	if account.Role == models.RoleAdmin {
		return Context{State: AuthenticatedComplete, Account: account, Profile: AdminProfile{}}
	}
	if profile == nil || profile.Kind() != account.Role {
		return Context{State: AuthenticatedIncompleteProfile, Account: account}
	}
	return Context{State: AuthenticatedComplete, Account: account, Profile: profile}
}

// SignIn replaces whatever c held with the signed-in account.
func SignIn(_ Context, account Account, profile Profile) Context {
	return Resolve(&account, profile)
}

// CompleteProfile moves an incomplete session to complete.
func CompleteProfile(c Context, profile Profile) (Context, error) {
	switch c.State {
	case Unauthenticated:
		return c, apperr.Unauthorized("sign in before completing a profile", nil)
	case AuthenticatedComplete:
		return c, apperr.Conflict("profile already completed", nil)
	}
	if profile == nil {
		return c, apperr.InvalidInput("profile is required", nil)
	}
	if profile.Kind() != c.Account.Role {
		return c, apperr.InvalidInput("profile does not match account role "+string(c.Account.Role), nil)
	}
	return Context{State: AuthenticatedComplete, Account: c.Account, Profile: profile}, nil
}

func SignOut(Context) Context {
	return Context{State: Unauthenticated}
}

func (c Context) Role() models.Role {
	if c.Account == nil {
		return ""
	}
	return c.Account.Role
}

func (c Context) UserID() uuid.UUID {
	if c.Account == nil {
		return uuid.Nil
	}
	return c.Account.UserID
}

// PatientID returns the caller's patient row ID when the caller is a patient
// with a completed profile.
func (c Context) PatientID() (uuid.UUID, bool) {
	p, ok := c.Profile.(PatientProfile)
	return p.PatientID, ok
}

func (c Context) DoctorID() (uuid.UUID, bool) {
	d, ok := c.Profile.(DoctorProfile)
	return d.DoctorID, ok
}

// View is the JSON shape of a Context returned by /me and /login.
type View struct {
	State    State    `json:"state"`
	NextStep Step     `json:"next_step"`
	Account  *Account `json:"account,omitempty"`
	Profile  *Tagged  `json:"profile,omitempty"`
}

// Tagged wraps a Profile with its kind so clients can switch on it.
type Tagged struct {
	Kind models.Role `json:"kind"`
	Data Profile     `json:"data"`
}

func (c Context) View() View {
	v := View{State: c.State, NextStep: NextStep(c.State), Account: c.Account}
	if c.Profile != nil {
		v.Profile = &Tagged{Kind: c.Profile.Kind(), Data: c.Profile}
	}
	return v
}
