package candidate

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/contest"
)

// Candidate statuses
const (
	StatusInvited   = "invited"
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusEvaluated = "evaluated"
)

const (
	identifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	passwordAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	credentialLen      = 8
)

// transitions is the only way a candidate status may move; there is no way back.
var transitions = map[string]string{
	StatusInvited:   StatusStarted,
	StatusStarted:   StatusCompleted,
	StatusCompleted: StatusEvaluated,
}

func CanTransition(from, to string) bool {
	next, ok := transitions[from]
	return ok && next == to
}

// HasSubmitted reports whether the candidate has finished the contest.
func HasSubmitted(status string) bool {
	return status == StatusCompleted || status == StatusEvaluated
}

type (
	Candidate struct {
		ID               string     `json:"id"`
		ContestID        string     `json:"contest_id"`
		UserID           string     `json:"user_id,omitempty"`
		Name             string     `json:"name"`
		DiscordUsername  string     `json:"discord_username,omitempty"`
		Email            string     `json:"email,omitempty"`
		Identifier       string     `json:"identifier"`
		PasswordHash     []byte     `json:"-"`
		Status           string     `json:"status"`
		InvitationSentAt *time.Time `json:"invitation_sent_at,omitempty"`
		StartedAt        *time.Time `json:"started_at,omitempty"`
		CompletedAt      *time.Time `json:"completed_at,omitempty"`
		TotalScore       float64    `json:"total_score"`
		FinalGrade       *float64   `json:"final_grade,omitempty"`
		CurrentModule    int        `json:"current_module"`
		ModuleStartedAt  *time.Time `json:"module_started_at,omitempty"`
		CreatedAt        time.Time  `json:"created_at"`
	}

	// Credentials are the clear identifier & password of a candidate; only shown once.
	Credentials struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}

	// WithCredentials is a candidate along with its freshly generated credentials.
	WithCredentials struct {
		Candidate   Candidate   `json:"candidate"`
		Credentials Credentials `json:"credentials"`
	}

	Response struct {
		ID               string    `json:"id"`
		CandidateID      string    `json:"candidate_id"`
		QuestionID       string    `json:"question_id"`
		ResponseText     string    `json:"response_text,omitempty"`
		SelectedOptionID string    `json:"selected_option_id,omitempty"`
		Score            float64   `json:"score"`
		IsCorrect        *bool     `json:"is_correct,omitempty"`
		SubmittedAt      time.Time `json:"submitted_at"`
	}

	Evaluation struct {
		ID          string    `json:"id"`
		ResponseID  string    `json:"response_id"`
		EvaluatorID string    `json:"evaluator_id,omitempty"`
		Score       float64   `json:"score"`
		Feedback    string    `json:"feedback,omitempty"`
		IsFinal     bool      `json:"is_final"`
		EvaluatedAt time.Time `json:"evaluated_at"`
	}

	// ResponseDetail is a response as seen by a grader.
	ResponseDetail struct {
		Response
		Question       contest.Question `json:"question"`
		ModuleTitle    string           `json:"module_title"`
		SelectedOption *contest.Option  `json:"selected_option,omitempty"`
		Evaluation     *Evaluation      `json:"evaluation,omitempty"`
	}

	// Transition moves a candidate from one status to the next, stamping At.
	Transition struct {
		ID   string
		From string
		To   string
		At   time.Time
	}

	// GradeFunc computes the final grade from a total score; a nil GradeFunc leaves the grade unchanged.
	GradeFunc func(total float64) *float64
)

func (c *Candidate) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	c.PasswordHash = hash
	return nil
}

func (c *Candidate) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(c.PasswordHash, []byte(pwd))
}

// GenerateCredentials draws a fresh identifier ([A-Z0-9]{8}) and password ([A-Za-z0-9]{8}).
func GenerateCredentials() (Credentials, error) {
	ident, err := core.RandomString(credentialLen, identifierAlphabet)
	if err != nil {
		return Credentials{}, err
	}
	pwd, err := core.RandomString(credentialLen, passwordAlphabet)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Identifier: ident, Password: pwd}, nil
}

// NewCandidate contains information needed to create or update a Candidate.
type NewCandidate struct {
	Name            string `json:"name" validate:"required"`
	DiscordUsername string `json:"discord_username"`
	Email           string `json:"email" validate:"omitempty,email"`
}

func (nc *NewCandidate) clean() {
	nc.Name = core.CleanString(nc.Name)
	nc.DiscordUsername = core.CleanString(nc.DiscordUsername)
	nc.Email = core.CleanString(nc.Email, true /* lower */)
}

func (nc *NewCandidate) Validate(validate *validator.Validate) error {
	nc.clean()
	return validate.Struct(nc)
}

type NewCandidates struct {
	Candidates []NewCandidate `json:"candidates" validate:"required,min=1,dive"`
}

func (ncs *NewCandidates) Validate(validate *validator.Validate) error {
	for i := range ncs.Candidates {
		ncs.Candidates[i].clean()
	}
	return validate.Struct(ncs)
}

type QueryFilter struct {
	ContestID  string `query:"-"`
	Status     string `query:"status"`
	Search     string `query:"search"`
	Identifier string `query:"-"`
	UserID     string `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Status = core.CleanString(qf.Status)
	qf.Search = core.CleanString(qf.Search)
}

// GetFilter selects a single Candidate: by ID, or within ContestID by Identifier or UserID.
type GetFilter struct {
	ID         string
	ContestID  string
	Identifier string
	UserID     string
}

type NewGrade struct {
	Score    *float64 `json:"score" validate:"required,gte=0"`
	Feedback string   `json:"feedback"`
}

func (ng *NewGrade) Validate(validate *validator.Validate) error {
	ng.Feedback = core.CleanString(ng.Feedback)
	return validate.Struct(ng)
}
