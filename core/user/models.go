package user

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/rpconcours/concours/core"
)

// Roles
const (
	RoleAdmin       = "admin"
	RoleResponsable = "responsable"
	RoleCandidat    = "candidat"
)

// Academy roles
const (
	AcademyRoleProf     = "prof"
	AcademyRoleEtudiant = "etudiant"
	AcademyRoleStaff    = "staff"
)

var (
	AllRoles        = []string{RoleAdmin, RoleResponsable, RoleCandidat}
	AllAcademyRoles = []string{AcademyRoleProf, AcademyRoleEtudiant, AcademyRoleStaff}

	rolePriorities = map[string]int{
		RoleAdmin:       30,
		RoleResponsable: 20,
		RoleCandidat:    1,
	}

	Roles = []Role{
		{Name: "Candidat", Value: RoleCandidat},
		{Name: "Responsable", Value: RoleResponsable},
		{Name: "Admin", Value: RoleAdmin},
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	FullName        string    `json:"full_name"`
	DiscordUsername string    `json:"discord_username,omitempty"`
	Role            string    `json:"role"`
	AcademyRole     string    `json:"academy_role,omitempty"`
	AcademyID       string    `json:"academy_id,omitempty"`
	IsActive        bool      `json:"is_active"`
	PasswordHash    []byte    `json:"-"`
	CreatedAt       time.Time `json:"created_at"` // UTC
	UpdatedAt       time.Time `json:"updated_at"` // UTC
	LastLogin       time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsStaff reports whether the user may manage contests and correct candidates.
func (u User) IsStaff() bool {
	return u.Role == RoleAdmin || u.Role == RoleResponsable
}

func (u User) HasAcademyRole(roles ...string) bool {
	for _, r := range roles {
		if u.AcademyRole == r {
			return true
		}
	}
	return false
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Username        string `json:"username" validate:"required,min=3,alphanum_"`
	Email           string `json:"email" validate:"required,email"`
	FullName        string `json:"full_name"`
	DiscordUsername string `json:"discord_username"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            string `json:"role" validate:"omitempty,userrole"`
	AcademyRole     string `json:"academy_role" validate:"omitempty,academyrole"`
	AcademyID       string `json:"academy_id" validate:"omitempty,uuid"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.FullName = core.CleanString(nu.FullName)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.DiscordUsername = core.CleanString(nu.DiscordUsername)
	if nu.Role == "" {
		nu.Role = RoleCandidat
	}

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	FullName        string  `json:"full_name"`
	Username        string  `json:"username" validate:"omitempty,min=3,alphanum_"`
	Email           string  `json:"email" validate:"omitempty,email"`
	DiscordUsername *string `json:"discord_username"`
	IsActive        *bool   `json:"is_active"`
	Role            string  `json:"role" validate:"omitempty,userrole"`
	AcademyRole     *string `json:"academy_role" validate:"omitempty,academyrole"`
	AcademyID       *string `json:"academy_id" validate:"omitempty,uuid"`
	Password        string  `json:"password" validate:"omitempty"`
	PasswordConfirm string  `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc *Service) error {
	if name := core.CleanString(uu.FullName); name != "" {
		uu.FullName = name
	} else {
		uu.FullName = origUsr.FullName
	}

	if uname := core.CleanString(uu.Username, true /* lower */); uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}

	if email := core.CleanString(uu.Email, true /* lower */); email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if uu.Role == "" {
		uu.Role = origUsr.Role
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Username, uu.Email, origUsr)
}

type QueryFilter struct {
	Search      string `query:"search"`
	Role        string `query:"role"`
	AcademyRole string `query:"academy_role"`
	AcademyID   string `query:"academy_id"`
	IsActive    *bool  `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Role = core.CleanString(qf.Role)
	qf.AcademyRole = core.CleanString(qf.AcademyRole)
}

// GetFilter selects a single User; the first non-empty field wins.
type GetFilter struct {
	ID              string
	UsernameOrEmail string
}
