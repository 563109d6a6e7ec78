package academy

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/user"
)

// Class member roles
const (
	MemberProf     = user.AcademyRoleProf
	MemberEtudiant = user.AcademyRoleEtudiant
)

// Resource types
const (
	ResourceLink = "link"
	ResourceFile = "file"
)

// Resource visibilities
const (
	VisibilityClass   = "class"
	VisibilityModule  = "module"
	VisibilityAcademy = "academy"
)

type (
	Academy struct {
		ID          string    `json:"id"`
		Name        string    `json:"name"`
		Description string    `json:"description,omitempty"`
		LogoURL     string    `json:"logo_url,omitempty"`
		CreatedAt   time.Time `json:"created_at"`
		UpdatedAt   time.Time `json:"updated_at"`
	}

	Class struct {
		ID          string    `json:"id"`
		AcademyID   string    `json:"academy_id"`
		Name        string    `json:"name"`
		Description string    `json:"description,omitempty"`
		CreatedAt   time.Time `json:"created_at"`
		UpdatedAt   time.Time `json:"updated_at"`
	}

	ClassMember struct {
		ID          string    `json:"id"`
		ClassID     string    `json:"class_id"`
		UserID      string    `json:"user_id"`
		RoleInClass string    `json:"role_in_class"`
		CreatedAt   time.Time `json:"created_at"`
	}

	Module struct {
		ID            string    `json:"id"`
		AcademyID     string    `json:"academy_id"`
		Title         string    `json:"title"`
		ModuleType    string    `json:"module_type"`
		Description   string    `json:"description,omitempty"`
		MaxScore      float64   `json:"max_score"`
		IsRequired    bool      `json:"is_required"`
		OrderPosition int       `json:"order_position"`
		CreatedAt     time.Time `json:"created_at"`
	}

	// Assignment opens an academy module to a class.
	Assignment struct {
		ID          string     `json:"id"`
		ModuleID    string     `json:"module_id"`
		ClassID     string     `json:"class_id"`
		StartAt     *time.Time `json:"start_at,omitempty"`
		EndAt       *time.Time `json:"end_at,omitempty"`
		IsMandatory bool       `json:"is_mandatory"`
	}

	Resource struct {
		ID         string    `json:"id"`
		AcademyID  string    `json:"academy_id"`
		ClassID    string    `json:"class_id,omitempty"`
		ModuleID   string    `json:"module_id,omitempty"`
		Title      string    `json:"title"`
		URL        string    `json:"url"`
		Type       string    `json:"type"`
		Visibility string    `json:"visibility"`
		CreatedBy  string    `json:"created_by,omitempty"`
		CreatedAt  time.Time `json:"created_at"`
	}

	Evaluation struct {
		ID          string     `json:"id"`
		ModuleID    string     `json:"module_id"`
		ClassID     string     `json:"class_id"`
		Title       string     `json:"title"`
		Description string     `json:"description,omitempty"`
		TotalPoints float64    `json:"total_points"`
		EvaluatorID string     `json:"evaluator_id,omitempty"`
		DueAt       *time.Time `json:"due_at,omitempty"`
		CreatedAt   time.Time  `json:"created_at"`
	}

	Grade struct {
		ID           string    `json:"id"`
		EvaluationID string    `json:"evaluation_id"`
		StudentID    string    `json:"student_id"`
		Score        float64   `json:"score"`
		Feedback     string    `json:"feedback,omitempty"`
		GraderID     string    `json:"grader_id,omitempty"`
		GradedAt     time.Time `json:"graded_at"`
	}
)

type NewAcademy struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	LogoURL     string `json:"logo_url" validate:"omitempty,url"`
}

func (na *NewAcademy) Validate(validate *validator.Validate) error {
	na.Name = core.CleanString(na.Name)
	na.Description = core.CleanString(na.Description)
	return validate.Struct(na)
}

type NewClass struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Description = core.CleanString(nc.Description)
	return validate.Struct(nc)
}

type NewMember struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	RoleInClass string `json:"role_in_class" validate:"required,oneof=prof etudiant"`
}

func (nm *NewMember) Validate(validate *validator.Validate) error {
	nm.RoleInClass = core.CleanString(nm.RoleInClass)
	return validate.Struct(nm)
}

type NewModule struct {
	Title       string  `json:"title" validate:"required"`
	ModuleType  string  `json:"module_type" validate:"required,oneof=qcm open_question rp_scenario image_analysis audio_video"`
	Description string  `json:"description"`
	MaxScore    float64 `json:"max_score" validate:"gte=0"`
	IsRequired  *bool   `json:"is_required"`
	// OrderPosition 0 appends the module after the last one.
	OrderPosition int `json:"order_position" validate:"gte=0"`
}

func (nm *NewModule) Validate(validate *validator.Validate) error {
	nm.Title = core.CleanString(nm.Title)
	nm.Description = core.CleanString(nm.Description)
	return validate.Struct(nm)
}

// ToggleAssignment assigns the module to the class, or unassigns it when already assigned.
type ToggleAssignment struct {
	ClassID     string     `json:"class_id" validate:"required,uuid"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at"`
	IsMandatory *bool      `json:"is_mandatory"`
}

func (ta *ToggleAssignment) Validate(validate *validator.Validate) error {
	if err := validate.Struct(ta); err != nil {
		return err
	}
	if ta.StartAt != nil && ta.EndAt != nil && !ta.EndAt.After(*ta.StartAt) {
		return core.NewValidationError(nil, core.FieldError{Field: "end_at", Error: "end_at must be after start_at"})
	}
	return nil
}

type NewResource struct {
	ClassID    string `json:"class_id" validate:"omitempty,uuid"`
	ModuleID   string `json:"module_id" validate:"omitempty,uuid"`
	Title      string `json:"title" validate:"required"`
	URL        string `json:"url" validate:"required,url"`
	Type       string `json:"type" validate:"required,oneof=link file"`
	Visibility string `json:"visibility" validate:"required,oneof=class module academy"`
}

func (nr *NewResource) Validate(validate *validator.Validate) error {
	nr.Title = core.CleanString(nr.Title)
	nr.URL = core.CleanString(nr.URL)
	if err := validate.Struct(nr); err != nil {
		return err
	}
	switch {
	case nr.Visibility == VisibilityClass && nr.ClassID == "":
		return core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "class_id is required for a class resource"})
	case nr.Visibility == VisibilityModule && nr.ModuleID == "":
		return core.NewValidationError(nil, core.FieldError{Field: "module_id", Error: "module_id is required for a module resource"})
	}
	return nil
}

type NewEvaluation struct {
	ModuleID    string     `json:"module_id" validate:"required,uuid"`
	ClassID     string     `json:"class_id" validate:"required,uuid"`
	Title       string     `json:"title" validate:"required"`
	Description string     `json:"description"`
	TotalPoints float64    `json:"total_points" validate:"gt=0"`
	DueAt       *time.Time `json:"due_at"`
}

func (ne *NewEvaluation) Validate(validate *validator.Validate) error {
	ne.Title = core.CleanString(ne.Title)
	ne.Description = core.CleanString(ne.Description)
	return validate.Struct(ne)
}

type NewGrade struct {
	StudentID string   `json:"student_id" validate:"required,uuid"`
	Score     *float64 `json:"score" validate:"required,gte=0"`
	Feedback  string   `json:"feedback"`
}

func (ng *NewGrade) Validate(validate *validator.Validate) error {
	ng.Feedback = core.CleanString(ng.Feedback)
	return validate.Struct(ng)
}

// ClassFilter selects classes of an academy, or those a user is a member of with the given role.
type ClassFilter struct {
	AcademyID   string
	MemberID    string
	RoleInClass string
}

type AssignmentFilter struct {
	ModuleID string
	ClassIDs []string
}

type ResourceFilter struct {
	AcademyID string `query:"academy_id"`
	ClassID   string `query:"class_id"`
	ModuleID  string `query:"module_id"`
}

type EvaluationFilter struct {
	ClassIDs    []string
	ModuleID    string
	EvaluatorID string
}
