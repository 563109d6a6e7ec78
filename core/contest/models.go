package contest

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rpconcours/concours/core"
)

// Contest types
const (
	TypePublic  = "public"
	TypePrivate = "private"
)

// Contest statuses
const (
	StatusDraft    = "draft"
	StatusActive   = "active"
	StatusClosed   = "closed"
	StatusArchived = "archived"
)

// Module types
const (
	ModuleQCM           = "qcm"
	ModuleOpenQuestion  = "open_question"
	ModuleRPScenario    = "rp_scenario"
	ModuleImageAnalysis = "image_analysis"
	ModuleAudioVideo    = "audio_video"
)

// statusTransitions lists, for each status, the statuses a contest may move to.
var statusTransitions = map[string][]string{
	StatusDraft:  {StatusActive, StatusArchived},
	StatusActive: {StatusClosed},
	StatusClosed: {StatusActive, StatusArchived},
}

func CanTransition(from, to string) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type (
	Agency struct {
		ID                 string    `json:"id"`
		Name               string    `json:"name"`
		Description        string    `json:"description,omitempty"`
		LogoURL            string    `json:"logo_url,omitempty"`
		DirectorName       string    `json:"director_name,omitempty"`
		DeputyDirectorName string    `json:"deputy_director_name,omitempty"`
		Specialties        []string  `json:"specialties"`
		CreatedAt          time.Time `json:"created_at"`
		UpdatedAt          time.Time `json:"updated_at"`
	}

	Contest struct {
		ID                string     `json:"id"`
		Name              string     `json:"name"`
		Description       string     `json:"description,omitempty"`
		StartDate         *time.Time `json:"start_date,omitempty"`
		EndDate           *time.Time `json:"end_date,omitempty"`
		Type              string     `json:"type"`
		Status            string     `json:"status"`
		LogoURL           string     `json:"logo_url,omitempty"`
		AccessLink        string     `json:"access_link,omitempty"`
		MaxParticipants   int        `json:"max_participants,omitempty"`
		IsRecurring       bool       `json:"is_recurring"`
		RecurringInterval string     `json:"recurring_interval,omitempty"`
		AgencyID          string     `json:"agency_id,omitempty"`
		AcademyModuleID   string     `json:"academy_module_id,omitempty"`
		CreatedBy         string     `json:"created_by,omitempty"`
		CreatedAt         time.Time  `json:"created_at"`
		UpdatedAt         time.Time  `json:"updated_at"`

		Agency  *Agency  `json:"agency,omitempty"`
		Modules []Module `json:"modules,omitempty"`
	}

	Module struct {
		ID               string    `json:"id"`
		ContestID        string    `json:"contest_id"`
		Title            string    `json:"title"`
		ModuleType       string    `json:"module_type"`
		Description      string    `json:"description,omitempty"`
		MaxScore         float64   `json:"max_score"`
		TimeLimitMinutes int       `json:"time_limit_minutes,omitempty"` // 0: no limit
		OrderPosition    int       `json:"order_position"`
		IsRequired       bool      `json:"is_required"`
		CreatedAt        time.Time `json:"created_at"`

		Questions []Question `json:"questions,omitempty"`
	}

	Question struct {
		ID            string    `json:"id"`
		ModuleID      string    `json:"module_id"`
		Content       string    `json:"content"`
		QuestionType  string    `json:"question_type"`
		Points        float64   `json:"points"`
		OrderIndex    int       `json:"order_index"`
		MediaURL      string    `json:"media_url,omitempty"`
		CorrectAnswer string    `json:"correct_answer,omitempty"`
		Explanation   string    `json:"explanation,omitempty"`
		CreatedAt     time.Time `json:"created_at"`

		Options []Option `json:"qcm_options,omitempty"`
	}

	Option struct {
		ID          string `json:"id"`
		QuestionID  string `json:"question_id"`
		OptionText  string `json:"option_text"`
		IsCorrect   bool   `json:"is_correct"`
		OptionOrder int    `json:"option_order"`
	}

	// PublicOption is an Option as shown to candidates.
	PublicOption struct {
		ID          string `json:"id"`
		OptionText  string `json:"option_text"`
		OptionOrder int    `json:"option_order"`
	}

	// PublicQuestion is a Question as shown to candidates: no correct answer, no explanation.
	PublicQuestion struct {
		ID           string         `json:"id"`
		Content      string         `json:"content"`
		QuestionType string         `json:"question_type"`
		Points       float64        `json:"points"`
		OrderIndex   int            `json:"order_index"`
		MediaURL     string         `json:"media_url,omitempty"`
		Options      []PublicOption `json:"qcm_options,omitempty"`
	}
)

// IsOpen reports whether candidates may currently enter the contest.
func (c Contest) IsOpen(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return false
	}
	return true
}

// MaxPoints is the sum of the points of every question of the contest tree.
func (c Contest) MaxPoints() float64 {
	var total float64
	for _, m := range c.Modules {
		for _, q := range m.Questions {
			total += q.Points
		}
	}
	return total
}

// FindQuestion looks a question up in the contest tree and returns it with the index of its module.
func (c Contest) FindQuestion(id string) (Question, int, bool) {
	for i, m := range c.Modules {
		for _, q := range m.Questions {
			if q.ID == id {
				return q, i, true
			}
		}
	}
	return Question{}, -1, false
}

func (m Module) TimeLimit() time.Duration {
	return time.Duration(m.TimeLimitMinutes) * time.Minute
}

func (q Question) Option(id string) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

func (q Question) Public() PublicQuestion {
	pq := PublicQuestion{
		ID:           q.ID,
		Content:      q.Content,
		QuestionType: q.QuestionType,
		Points:       q.Points,
		OrderIndex:   q.OrderIndex,
		MediaURL:     q.MediaURL,
	}
	for _, o := range q.Options {
		pq.Options = append(pq.Options, PublicOption{ID: o.ID, OptionText: o.OptionText, OptionOrder: o.OptionOrder})
	}
	return pq
}

// NewAgency contains information needed to create or update an Agency.
type NewAgency struct {
	Name               string   `json:"name" validate:"required"`
	Description        string   `json:"description"`
	LogoURL            string   `json:"logo_url" validate:"omitempty,url"`
	DirectorName       string   `json:"director_name"`
	DeputyDirectorName string   `json:"deputy_director_name"`
	Specialties        []string `json:"specialties"`
}

func (na *NewAgency) Validate(validate *validator.Validate) error {
	na.Name = core.CleanString(na.Name)
	na.Description = core.CleanString(na.Description)
	na.DirectorName = core.CleanString(na.DirectorName)
	na.DeputyDirectorName = core.CleanString(na.DeputyDirectorName)
	specs := make([]string, 0, len(na.Specialties))
	for _, s := range na.Specialties {
		if s = core.CleanString(s); s != "" {
			specs = append(specs, s)
		}
	}
	na.Specialties = specs
	return validate.Struct(na)
}

// NewContest contains information needed to create or update a Contest.
type NewContest struct {
	Name              string     `json:"name" validate:"required"`
	Description       string     `json:"description"`
	StartDate         *time.Time `json:"start_date"`
	EndDate           *time.Time `json:"end_date"`
	Type              string     `json:"type" validate:"required,oneof=public private"`
	LogoURL           string     `json:"logo_url" validate:"omitempty,url"`
	MaxParticipants   int        `json:"max_participants" validate:"gte=0"`
	IsRecurring       bool       `json:"is_recurring"`
	RecurringInterval string     `json:"recurring_interval" validate:"required_if=IsRecurring true"`
	AgencyID          string     `json:"agency_id" validate:"omitempty,uuid"`
	AcademyModuleID   string     `json:"academy_module_id" validate:"omitempty,uuid"`
}

func (nc *NewContest) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Description = core.CleanString(nc.Description)
	nc.RecurringInterval = core.CleanString(nc.RecurringInterval)
	if !nc.IsRecurring {
		nc.RecurringInterval = ""
	}
	if err := validate.Struct(nc); err != nil {
		return err
	}
	if nc.StartDate != nil && nc.EndDate != nil && !nc.EndDate.After(*nc.StartDate) {
		return core.NewValidationError(nil, core.FieldError{Field: "end_date", Error: "end_date must be after start_date"})
	}
	if nc.AgencyID != "" {
		if _, err := svc.GetAgency(ctx, nc.AgencyID); err != nil {
			if err == ErrAgencyNotFound {
				return core.NewValidationError(err, core.FieldError{Field: "agency_id", Error: err.Error()})
			}
			return err
		}
	}
	return nil
}

type SetStatus struct {
	Status string `json:"status" validate:"required,oneof=draft active closed archived"`
}

type QueryFilter struct {
	Type      string `query:"type"`
	Status    string `query:"status"`
	AgencyID  string `query:"agency_id"`
	CreatedBy string `query:"created_by"`
	Search    string `query:"search"`
	// AcademyModuleIDs restricts to contests fed by one of these academy modules.
	AcademyModuleIDs []string `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Type = core.CleanString(qf.Type)
	qf.Status = core.CleanString(qf.Status)
	qf.Search = core.CleanString(qf.Search)
}

// NewModule contains information needed to create or update a Module.
type NewModule struct {
	Title            string  `json:"title" validate:"required"`
	ModuleType       string  `json:"module_type" validate:"required,oneof=qcm open_question rp_scenario image_analysis audio_video"`
	Description      string  `json:"description"`
	MaxScore         float64 `json:"max_score" validate:"gte=0"`
	TimeLimitMinutes int     `json:"time_limit_minutes" validate:"gte=0"`
	IsRequired       *bool   `json:"is_required"`
}

func (nm *NewModule) Validate(validate *validator.Validate) error {
	nm.Title = core.CleanString(nm.Title)
	nm.Description = core.CleanString(nm.Description)
	return validate.Struct(nm)
}

type ReorderModules struct {
	ModuleIDs []string `json:"module_ids" validate:"required,min=1,dive,uuid"`
}

// NewOption is a QCM option as provided on question create/update.
type NewOption struct {
	OptionText  string `json:"option_text" validate:"required"`
	IsCorrect   bool   `json:"is_correct"`
	OptionOrder int    `json:"option_order"`
}

// NewQuestion contains information needed to create or update a Question.
// On update, a nil Options keeps the current options while a non-nil one replaces them all.
type NewQuestion struct {
	Content       string      `json:"content" validate:"required"`
	QuestionType  string      `json:"question_type" validate:"required,oneof=qcm open_question rp_scenario image_analysis audio_video"`
	Points        float64     `json:"points" validate:"gte=0"`
	MediaURL      string      `json:"media_url" validate:"omitempty,url"`
	CorrectAnswer string      `json:"correct_answer"`
	Explanation   string      `json:"explanation"`
	Options       []NewOption `json:"qcm_options" validate:"omitempty,dive"`
}

// Validate cleans & validates the question; current is the question being updated, nil on creation.
// QCM options may only be left out when updating a question that already is a QCM.
func (nq *NewQuestion) Validate(validate *validator.Validate, current *Question) error {
	nq.Content = core.CleanString(nq.Content)
	nq.CorrectAnswer = core.CleanString(nq.CorrectAnswer)
	nq.Explanation = core.CleanString(nq.Explanation)
	for i := range nq.Options {
		nq.Options[i].OptionText = core.CleanString(nq.Options[i].OptionText)
	}
	if err := validate.Struct(nq); err != nil {
		return err
	}
	keepOptions := current != nil && current.QuestionType == ModuleQCM && nq.Options == nil
	if nq.QuestionType == ModuleQCM && !keepOptions {
		if len(nq.Options) < 2 {
			return core.NewValidationError(nil, core.FieldError{Field: "qcm_options", Error: "a QCM question needs at least 2 options"})
		}
		var hasCorrect bool
		for _, o := range nq.Options {
			hasCorrect = hasCorrect || o.IsCorrect
		}
		if !hasCorrect {
			return core.NewValidationError(nil, core.FieldError{Field: "qcm_options", Error: "a QCM question needs a correct option"})
		}
	}
	return nil
}
