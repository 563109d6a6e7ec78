package contest

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/rpconcours/concours/core"
)

var (
	// errors
	ErrNotFound         = core.NewNotFoundError("contest")
	ErrAgencyNotFound   = core.NewNotFoundError("agency")
	ErrModuleNotFound   = core.NewNotFoundError("module")
	ErrQuestionNotFound = core.NewNotFoundError("question")
	ErrInvalidStatus    = core.NewConflictError("contest status cannot be changed this way")
	ErrReorderMismatch  = core.NewValidationError(nil, core.FieldError{Field: "module_ids", Error: "must list every module of the contest exactly once"})

	NowFunc = time.Now // mockable

	accessLinkPrefix   = "contest-"
	accessLinkAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	accessLinkLen      = 12
	duplicateSuffix    = " (Copie)"
)

type (
	Repository interface {
		CreateAgency(ctx context.Context, agency Agency) (Agency, error)
		// QueryAgencies returns all agencies ordered by name.
		QueryAgencies(ctx context.Context) ([]Agency, error)
		GetAgency(ctx context.Context, id string) (Agency, error)
		UpdateAgency(ctx context.Context, agency Agency) (Agency, error)
		DeleteAgency(ctx context.Context, id string) error

		// CreateContest inserts the contest and its whole Modules tree in one transaction.
		CreateContest(ctx context.Context, c Contest) (Contest, error)
		QueryContests(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Contest, error)
		// GetContest returns the contest without its modules.
		GetContest(ctx context.Context, id string) (Contest, error)
		GetContestByAccessLink(ctx context.Context, link string) (Contest, error)
		UpdateContest(ctx context.Context, c Contest) (Contest, error)
		// UpdateContestStatus moves the contest to status `to` only if it is still in status `from`.
		UpdateContestStatus(ctx context.Context, id, from, to string, updatedAt time.Time) (Contest, error)
		DeleteContest(ctx context.Context, id string) error

		// CreateModule appends the module after the last module of its contest.
		CreateModule(ctx context.Context, m Module) (Module, error)
		// QueryModules returns the modules of a contest by position, each with its questions and options.
		QueryModules(ctx context.Context, contestID string) ([]Module, error)
		GetModule(ctx context.Context, id string) (Module, error)
		UpdateModule(ctx context.Context, m Module) (Module, error)
		DeleteModule(ctx context.Context, id string) error
		// ReorderModules sets order_position 1..n following ids.
		ReorderModules(ctx context.Context, contestID string, ids []string) error

		// CreateQuestion appends the question after the last question of its module, with its options.
		CreateQuestion(ctx context.Context, q Question) (Question, error)
		GetQuestion(ctx context.Context, id string) (Question, error)
		// UpdateQuestion updates the question; when replaceOptions is set, q.Options replace all existing options.
		UpdateQuestion(ctx context.Context, q Question, replaceOptions bool) (Question, error)
		DeleteQuestion(ctx context.Context, id string) error
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Agencies

func (svc *Service) CreateAgency(ctx context.Context, na NewAgency) (Agency, error) {
	now := NowFunc().UTC()
	return svc.repo.CreateAgency(ctx, Agency{
		Name:               na.Name,
		Description:        na.Description,
		LogoURL:            na.LogoURL,
		DirectorName:       na.DirectorName,
		DeputyDirectorName: na.DeputyDirectorName,
		Specialties:        na.Specialties,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
}

func (svc *Service) QueryAgencies(ctx context.Context) ([]Agency, error) {
	return svc.repo.QueryAgencies(ctx)
}

func (svc *Service) GetAgency(ctx context.Context, id string) (Agency, error) {
	return svc.repo.GetAgency(ctx, id)
}

func (svc *Service) UpdateAgency(ctx context.Context, agency Agency, na NewAgency) (Agency, error) {
	agency.Name = na.Name
	agency.Description = na.Description
	agency.LogoURL = na.LogoURL
	agency.DirectorName = na.DirectorName
	agency.DeputyDirectorName = na.DeputyDirectorName
	agency.Specialties = na.Specialties
	agency.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateAgency(ctx, agency)
}

func (svc *Service) DeleteAgency(ctx context.Context, id string) error {
	return svc.repo.DeleteAgency(ctx, id)
}

// Contests

func newAccessLink() (string, error) {
	s, err := core.RandomString(accessLinkLen, accessLinkAlphabet)
	if err != nil {
		return "", errors.Wrap(err, "generating access link")
	}
	return accessLinkPrefix + s, nil
}

// Create creates a draft contest. Private contests get an access link.
func (svc *Service) Create(ctx context.Context, nc NewContest, creatorID string) (Contest, error) {
	now := NowFunc().UTC()
	c := Contest{
		Name:              nc.Name,
		Description:       nc.Description,
		StartDate:         nc.StartDate,
		EndDate:           nc.EndDate,
		Type:              nc.Type,
		Status:            StatusDraft,
		LogoURL:           nc.LogoURL,
		MaxParticipants:   nc.MaxParticipants,
		IsRecurring:       nc.IsRecurring,
		RecurringInterval: nc.RecurringInterval,
		AgencyID:          nc.AgencyID,
		AcademyModuleID:   nc.AcademyModuleID,
		CreatedBy:         creatorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if c.Type == TypePrivate {
		link, err := newAccessLink()
		if err != nil {
			return Contest{}, err
		}
		c.AccessLink = link
	}
	return svc.repo.CreateContest(ctx, c)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Contest, error) {
	return svc.repo.QueryContests(ctx, filter, ordering)
}

// QueryPublic lists the active public contests.
func (svc *Service) QueryPublic(ctx context.Context) ([]Contest, error) {
	return svc.repo.QueryContests(ctx, &QueryFilter{Type: TypePublic, Status: StatusActive}, nil)
}

func (svc *Service) Get(ctx context.Context, id string) (Contest, error) {
	return svc.repo.GetContest(ctx, id)
}

func (svc *Service) GetByAccessLink(ctx context.Context, link string) (Contest, error) {
	return svc.repo.GetContestByAccessLink(ctx, core.CleanString(link))
}

// GetTree returns the contest with its agency, modules, questions and options, all in stored order.
func (svc *Service) GetTree(ctx context.Context, id string) (Contest, error) {
	c, err := svc.repo.GetContest(ctx, id)
	if err != nil {
		return Contest{}, err
	}
	if c.Modules, err = svc.repo.QueryModules(ctx, id); err != nil {
		return Contest{}, errors.Wrap(err, "querying modules")
	}
	if c.AgencyID != "" {
		agency, err := svc.repo.GetAgency(ctx, c.AgencyID)
		if err != nil && err != ErrAgencyNotFound {
			return Contest{}, errors.Wrap(err, "getting agency")
		}
		if err == nil {
			c.Agency = &agency
		}
	}
	return c, nil
}

func (svc *Service) Update(ctx context.Context, c Contest, nc NewContest) (Contest, error) {
	c.Name = nc.Name
	c.Description = nc.Description
	c.StartDate = nc.StartDate
	c.EndDate = nc.EndDate
	c.LogoURL = nc.LogoURL
	c.MaxParticipants = nc.MaxParticipants
	c.IsRecurring = nc.IsRecurring
	c.RecurringInterval = nc.RecurringInterval
	c.AgencyID = nc.AgencyID
	c.AcademyModuleID = nc.AcademyModuleID
	if nc.Type != c.Type {
		c.Type = nc.Type
		if c.Type == TypePrivate && c.AccessLink == "" {
			link, err := newAccessLink()
			if err != nil {
				return Contest{}, err
			}
			c.AccessLink = link
		}
	}
	c.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateContest(ctx, c)
}

// SetStatus moves the contest along draft -> active -> closed -> archived (closed contests may be reopened).
func (svc *Service) SetStatus(ctx context.Context, c Contest, status string) (Contest, error) {
	if c.Status == status {
		return c, nil
	}
	if !CanTransition(c.Status, status) {
		return Contest{}, ErrInvalidStatus
	}
	return svc.repo.UpdateContestStatus(ctx, c.ID, c.Status, status, NowFunc().UTC())
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteContest(ctx, id)
}

// Duplicate copies the contest with all its modules, questions and options into a new draft contest.
// The source contest is left untouched.
func (svc *Service) Duplicate(ctx context.Context, id, creatorID string) (Contest, error) {
	src, err := svc.GetTree(ctx, id)
	if err != nil {
		return Contest{}, err
	}

	now := NowFunc().UTC()
	dup := src
	dup.ID = ""
	dup.Name = src.Name + duplicateSuffix
	dup.Status = StatusDraft
	dup.AccessLink = ""
	dup.CreatedBy = creatorID
	dup.CreatedAt = now
	dup.UpdatedAt = now
	dup.Agency = nil
	if dup.Type == TypePrivate {
		if dup.AccessLink, err = newAccessLink(); err != nil {
			return Contest{}, err
		}
	}

	dup.Modules = make([]Module, len(src.Modules))
	for i, m := range src.Modules {
		m.ID = ""
		m.ContestID = ""
		m.CreatedAt = now
		qs := make([]Question, len(m.Questions))
		for j, q := range m.Questions {
			q.ID = ""
			q.ModuleID = ""
			q.CreatedAt = now
			opts := make([]Option, len(q.Options))
			for k, o := range q.Options {
				o.ID = ""
				o.QuestionID = ""
				opts[k] = o
			}
			q.Options = opts
			qs[j] = q
		}
		m.Questions = qs
		dup.Modules[i] = m
	}

	created, err := svc.repo.CreateContest(ctx, dup)
	if err != nil {
		return Contest{}, errors.Wrap(err, "creating duplicate")
	}
	return svc.GetTree(ctx, created.ID)
}

// Modules

func (svc *Service) CreateModule(ctx context.Context, contestID string, nm NewModule) (Module, error) {
	if _, err := svc.repo.GetContest(ctx, contestID); err != nil {
		return Module{}, err
	}
	isRequired := true
	if nm.IsRequired != nil {
		isRequired = *nm.IsRequired
	}
	return svc.repo.CreateModule(ctx, Module{
		ContestID:        contestID,
		Title:            nm.Title,
		ModuleType:       nm.ModuleType,
		Description:      nm.Description,
		MaxScore:         nm.MaxScore,
		TimeLimitMinutes: nm.TimeLimitMinutes,
		IsRequired:       isRequired,
		CreatedAt:        NowFunc().UTC(),
	})
}

func (svc *Service) QueryModules(ctx context.Context, contestID string) ([]Module, error) {
	if _, err := svc.repo.GetContest(ctx, contestID); err != nil {
		return nil, err
	}
	return svc.repo.QueryModules(ctx, contestID)
}

func (svc *Service) GetModule(ctx context.Context, id string) (Module, error) {
	return svc.repo.GetModule(ctx, id)
}

func (svc *Service) UpdateModule(ctx context.Context, m Module, nm NewModule) (Module, error) {
	m.Title = nm.Title
	m.ModuleType = nm.ModuleType
	m.Description = nm.Description
	m.MaxScore = nm.MaxScore
	m.TimeLimitMinutes = nm.TimeLimitMinutes
	if nm.IsRequired != nil {
		m.IsRequired = *nm.IsRequired
	}
	return svc.repo.UpdateModule(ctx, m)
}

func (svc *Service) DeleteModule(ctx context.Context, id string) error {
	return svc.repo.DeleteModule(ctx, id)
}

// ReorderModules renumbers the contest modules 1..n in the given order.
// ids must be a permutation of the contest module ids.
func (svc *Service) ReorderModules(ctx context.Context, contestID string, ids []string) ([]Module, error) {
	modules, err := svc.QueryModules(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if len(ids) != len(modules) {
		return nil, ErrReorderMismatch
	}
	known := make(map[string]bool, len(modules))
	for _, m := range modules {
		known[m.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return nil, ErrReorderMismatch
		}
		delete(known, id) // no duplicates
	}

	if err = svc.repo.ReorderModules(ctx, contestID, ids); err != nil {
		return nil, errors.Wrap(err, "reordering modules")
	}
	return svc.repo.QueryModules(ctx, contestID)
}

// Questions

func newOptions(nos []NewOption) []Option {
	opts := make([]Option, 0, len(nos))
	for i, no := range nos {
		order := no.OptionOrder
		if order == 0 {
			order = i + 1
		}
		opts = append(opts, Option{OptionText: no.OptionText, IsCorrect: no.IsCorrect, OptionOrder: order})
	}
	return opts
}

func (svc *Service) CreateQuestion(ctx context.Context, moduleID string, nq NewQuestion) (Question, error) {
	if _, err := svc.repo.GetModule(ctx, moduleID); err != nil {
		return Question{}, err
	}
	return svc.repo.CreateQuestion(ctx, Question{
		ModuleID:      moduleID,
		Content:       nq.Content,
		QuestionType:  nq.QuestionType,
		Points:        nq.Points,
		MediaURL:      nq.MediaURL,
		CorrectAnswer: nq.CorrectAnswer,
		Explanation:   nq.Explanation,
		CreatedAt:     NowFunc().UTC(),
		Options:       newOptions(nq.Options),
	})
}

func (svc *Service) QueryQuestions(ctx context.Context, moduleID string) ([]Question, error) {
	m, err := svc.repo.GetModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	return m.Questions, nil
}

func (svc *Service) GetQuestion(ctx context.Context, id string) (Question, error) {
	return svc.repo.GetQuestion(ctx, id)
}

// UpdateQuestion updates the question. When nq.Options is set, it replaces all current options.
func (svc *Service) UpdateQuestion(ctx context.Context, q Question, nq NewQuestion) (Question, error) {
	q.Content = nq.Content
	q.QuestionType = nq.QuestionType
	q.Points = nq.Points
	q.MediaURL = nq.MediaURL
	q.CorrectAnswer = nq.CorrectAnswer
	q.Explanation = nq.Explanation
	replace := nq.Options != nil
	if replace {
		q.Options = newOptions(nq.Options)
	}
	return svc.repo.UpdateQuestion(ctx, q, replace)
}

func (svc *Service) DeleteQuestion(ctx context.Context, id string) error {
	return svc.repo.DeleteQuestion(ctx, id)
}
