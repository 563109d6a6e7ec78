package candidate

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/contest"
	"github.com/rpconcours/concours/core/user"
)

type (
	LoginRequest struct {
		Identifier string `json:"identifier" validate:"required"`
		Password   string `json:"password" validate:"required"`
	}

	JoinRequest struct {
		FirstName string `json:"first_name" validate:"required"`
		LastName  string `json:"last_name" validate:"required"`
	}

	AnswerRequest struct {
		Value string `json:"value"`
	}

	// ModuleView is the current module as shown to a candidate.
	ModuleView struct {
		ID               string                   `json:"id"`
		Title            string                   `json:"title"`
		ModuleType       string                   `json:"module_type"`
		Description      string                   `json:"description,omitempty"`
		MaxScore         float64                  `json:"max_score"`
		TimeLimitMinutes int                      `json:"time_limit_minutes,omitempty"`
		Questions        []contest.PublicQuestion `json:"questions"`
	}

	// State is where a candidate stands in the contest.
	State struct {
		Candidate        Candidate         `json:"candidate"`
		ContestName      string            `json:"contest_name"`
		ModuleIndex      int               `json:"module_index"`
		ModuleCount      int               `json:"module_count"`
		Module           *ModuleView       `json:"module,omitempty"`
		Deadline         *time.Time        `json:"deadline,omitempty"`
		RemainingSeconds *int              `json:"remaining_seconds,omitempty"`
		Answers          map[string]string `json:"answers"`
		// AwaitingSubmit is set once every module is behind the candidate; submission must be confirmed.
		AwaitingSubmit bool `json:"awaiting_submit"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Identifier = core.CleanString(lr.Identifier)
	return validate.Struct(lr)
}

func (jr *JoinRequest) Validate(validate *validator.Validate) error {
	jr.FirstName = core.CleanString(jr.FirstName)
	jr.LastName = core.CleanString(jr.LastName)
	return validate.Struct(jr)
}

// publicIdentifier is the identifier of a public contest participant: "first-last", lowered.
func publicIdentifier(first, last string) string {
	ident := strings.ToLower(first + "-" + last)
	return strings.Join(strings.Fields(ident), "-")
}

func (svc *Service) openContest(ctx context.Context, contestID string) (contest.Contest, error) {
	c, err := svc.contests.Get(ctx, contestID)
	if err != nil {
		return contest.Contest{}, err
	}
	if !c.IsOpen(NowFunc()) {
		return contest.Contest{}, ErrContestClosed
	}
	return c, nil
}

// start moves an invited candidate to started; started candidates are returned as is.
func (svc *Service) start(ctx context.Context, cand Candidate) (Candidate, error) {
	switch {
	case cand.Status == StatusStarted:
		return cand, nil
	case HasSubmitted(cand.Status):
		return Candidate{}, ErrAlreadySubmitted
	}
	started, err := svc.repo.TransitionCandidate(ctx, Transition{
		ID:   cand.ID,
		From: StatusInvited,
		To:   StatusStarted,
		At:   NowFunc().UTC(),
	})
	if err == ErrInvalidTransition {
		// raced with another login
		return svc.repo.GetCandidate(ctx, GetFilter{ID: cand.ID})
	}
	return started, err
}

// Login authenticates a candidate of a private contest and starts their participation.
func (svc *Service) Login(ctx context.Context, contestID string, lr LoginRequest) (Candidate, error) {
	if _, err := svc.openContest(ctx, contestID); err != nil {
		return Candidate{}, err
	}
	cand, err := svc.repo.GetCandidate(ctx, GetFilter{ContestID: contestID, Identifier: lr.Identifier})
	if err != nil {
		if err == ErrNotFound {
			return Candidate{}, ErrInvalidCredentials
		}
		return Candidate{}, errors.Wrap(err, "getting candidate")
	}
	if err = cand.CheckPassword(lr.Password); err != nil {
		return Candidate{}, ErrInvalidCredentials
	}
	return svc.start(ctx, cand)
}

// JoinPublic lets anyone take part in an open public contest under their name.
// The participant is durable: joining again with the same name resumes the same participation.
// Credentials are only returned when the participant is created.
func (svc *Service) JoinPublic(ctx context.Context, contestID string, jr JoinRequest) (Candidate, *Credentials, error) {
	c, err := svc.openContest(ctx, contestID)
	if err != nil {
		return Candidate{}, nil, err
	}
	if c.Type != contest.TypePublic {
		return Candidate{}, nil, ErrNotEligible
	}

	ident := publicIdentifier(jr.FirstName, jr.LastName)
	cand, err := svc.repo.GetCandidate(ctx, GetFilter{ContestID: contestID, Identifier: ident})
	switch {
	case err == nil:
		cand, err = svc.start(ctx, cand)
		return cand, nil, err
	case err != ErrNotFound:
		return Candidate{}, nil, errors.Wrap(err, "getting candidate")
	}

	if err = svc.checkCapacity(ctx, c, 1); err != nil {
		return Candidate{}, nil, err
	}
	cred, err := GenerateCredentials()
	if err != nil {
		return Candidate{}, nil, errors.Wrap(err, "generating credentials")
	}
	cred.Identifier = ident

	now := NowFunc().UTC()
	cand = Candidate{
		ContestID:       contestID,
		Name:            jr.FirstName + " " + jr.LastName,
		Identifier:      ident,
		Status:          StatusStarted,
		StartedAt:       &now,
		ModuleStartedAt: &now,
		CreatedAt:       now,
	}
	if err = cand.SetPassword(cred.Password); err != nil {
		return Candidate{}, nil, errors.Wrap(err, "setting password")
	}
	created, err := svc.repo.CreateCandidates(ctx, cand)
	if err == ErrIdentifierExists {
		// joined concurrently under the same name
		cand, err = svc.repo.GetCandidate(ctx, GetFilter{ContestID: contestID, Identifier: ident})
		if err != nil {
			return Candidate{}, nil, err
		}
		cand, err = svc.start(ctx, cand)
		return cand, nil, err
	}
	if err != nil {
		return Candidate{}, nil, err
	}
	return created[0], &cred, nil
}

// JoinAsUser lets an authenticated user enter a contest: through the candidate already linked to them,
// or, for academy students, through a candidate provisioned when the contest academy module is assigned to one of their classes.
func (svc *Service) JoinAsUser(ctx context.Context, contestID string, usr user.User) (Candidate, error) {
	c, err := svc.openContest(ctx, contestID)
	if err != nil {
		return Candidate{}, err
	}

	cand, err := svc.repo.GetCandidate(ctx, GetFilter{ContestID: contestID, UserID: usr.ID})
	switch {
	case err == nil:
		return svc.start(ctx, cand)
	case err != ErrNotFound:
		return Candidate{}, errors.Wrap(err, "getting candidate")
	}

	if c.AcademyModuleID == "" || svc.eligibility == nil || !usr.HasAcademyRole(user.AcademyRoleEtudiant) {
		return Candidate{}, ErrNotEligible
	}
	ok, err := svc.eligibility.IsStudentAssigned(ctx, usr.ID, c.AcademyModuleID)
	if err != nil {
		return Candidate{}, errors.Wrap(err, "checking eligibility")
	}
	if !ok {
		return Candidate{}, ErrNotEligible
	}
	if err = svc.checkCapacity(ctx, c, 1); err != nil {
		return Candidate{}, err
	}

	name := usr.FullName
	if name == "" {
		name = usr.Username
	}
	now := NowFunc().UTC()
	res, err := svc.insertWithCredentials(ctx, []Candidate{{
		ContestID:       contestID,
		UserID:          usr.ID,
		Name:            name,
		DiscordUsername: usr.DiscordUsername,
		Email:           usr.Email,
		Status:          StatusStarted,
		StartedAt:       &now,
		ModuleStartedAt: &now,
		CreatedAt:       now,
	}})
	if err != nil {
		return Candidate{}, err
	}
	return res[0].Candidate, nil
}

// syncModule advances the candidate past every module whose countdown has run out.
// Each module is left exactly once: concurrent callers race on a compare-and-set of the module index.
func (svc *Service) syncModule(ctx context.Context, cand Candidate, modules []contest.Module, now time.Time) (Candidate, error) {
	for cand.Status == StatusStarted && cand.CurrentModule < len(modules) && cand.ModuleStartedAt != nil {
		cd := Countdown{StartedAt: *cand.ModuleStartedAt, Limit: modules[cand.CurrentModule].TimeLimit()}
		if !cd.Expired(now) {
			break
		}
		// the next module clock starts when the previous one ran out
		next, _, err := svc.repo.AdvanceModule(ctx, cand.ID, cand.CurrentModule, cd.Deadline())
		if err != nil {
			return Candidate{}, errors.Wrap(err, "advancing module")
		}
		if next.CurrentModule == cand.CurrentModule && next.Status == cand.Status {
			break
		}
		cand = next
	}
	return cand, nil
}

func (svc *Service) load(ctx context.Context, candidateID string) (Candidate, contest.Contest, error) {
	cand, err := svc.repo.GetCandidate(ctx, GetFilter{ID: candidateID})
	if err != nil {
		return Candidate{}, contest.Contest{}, err
	}
	tree, err := svc.contests.GetTree(ctx, cand.ContestID)
	if err != nil {
		return Candidate{}, contest.Contest{}, errors.Wrap(err, "getting contest")
	}
	cand, err = svc.syncModule(ctx, cand, tree.Modules, NowFunc())
	if err != nil {
		return Candidate{}, contest.Contest{}, err
	}
	return cand, tree, nil
}

func (svc *Service) state(ctx context.Context, cand Candidate, tree contest.Contest) (State, error) {
	st := State{
		Candidate:   cand,
		ContestName: tree.Name,
		ModuleIndex: cand.CurrentModule,
		ModuleCount: len(tree.Modules),
		Answers:     make(map[string]string),
	}
	if cand.Status != StatusStarted {
		return st, nil
	}
	if cand.CurrentModule >= len(tree.Modules) {
		st.AwaitingSubmit = true
		return st, nil
	}

	m := tree.Modules[cand.CurrentModule]
	mv := &ModuleView{
		ID:               m.ID,
		Title:            m.Title,
		ModuleType:       m.ModuleType,
		Description:      m.Description,
		MaxScore:         m.MaxScore,
		TimeLimitMinutes: m.TimeLimitMinutes,
		Questions:        make([]contest.PublicQuestion, 0, len(m.Questions)),
	}
	for _, q := range m.Questions {
		mv.Questions = append(mv.Questions, q.Public())
	}
	st.Module = mv

	if m.TimeLimitMinutes > 0 && cand.ModuleStartedAt != nil {
		cd := Countdown{StartedAt: *cand.ModuleStartedAt, Limit: m.TimeLimit()}
		deadline := cd.Deadline()
		remaining := int(cd.Remaining(NowFunc()).Seconds())
		st.Deadline = &deadline
		st.RemainingSeconds = &remaining
	}

	resps, err := svc.repo.QueryResponses(ctx, cand.ID)
	if err != nil {
		return State{}, errors.Wrap(err, "querying responses")
	}
	for _, r := range resps {
		if r.SelectedOptionID != "" {
			st.Answers[r.QuestionID] = r.SelectedOptionID
		} else {
			st.Answers[r.QuestionID] = r.ResponseText
		}
	}
	return st, nil
}

// State returns the current participation state, applying any expired module countdown first.
func (svc *Service) State(ctx context.Context, candidateID string) (State, error) {
	cand, tree, err := svc.load(ctx, candidateID)
	if err != nil {
		return State{}, err
	}
	return svc.state(ctx, cand, tree)
}

// SaveAnswer stores the candidate answer to a question of their current module.
// For QCM questions value is the selected option id; otherwise the raw answer text.
func (svc *Service) SaveAnswer(ctx context.Context, candidateID, questionID, value string) (Response, error) {
	cand, tree, err := svc.load(ctx, candidateID)
	if err != nil {
		return Response{}, err
	}
	if cand.Status != StatusStarted {
		if HasSubmitted(cand.Status) {
			return Response{}, ErrAlreadySubmitted
		}
		return Response{}, ErrNotInProgress
	}

	q, modIdx, ok := tree.FindQuestion(questionID)
	if !ok {
		return Response{}, contest.ErrQuestionNotFound
	}
	if modIdx != cand.CurrentModule {
		return Response{}, ErrModuleNotCurrent
	}

	resp := Response{
		CandidateID: cand.ID,
		QuestionID:  q.ID,
		SubmittedAt: NowFunc().UTC(),
	}
	if q.QuestionType == contest.ModuleQCM {
		opt, ok := q.Option(value)
		if !ok {
			return Response{}, core.NewValidationError(nil, core.FieldError{Field: "value", Error: "unknown option"})
		}
		isCorrect := opt.IsCorrect
		resp.SelectedOptionID = opt.ID
		resp.IsCorrect = &isCorrect
	} else {
		resp.ResponseText = value
	}
	return svc.repo.UpsertResponse(ctx, resp)
}

// NextModule moves the candidate to the next module before its countdown runs out.
func (svc *Service) NextModule(ctx context.Context, candidateID string) (State, error) {
	cand, tree, err := svc.load(ctx, candidateID)
	if err != nil {
		return State{}, err
	}
	if cand.Status != StatusStarted {
		return State{}, ErrNotInProgress
	}
	if cand.CurrentModule < len(tree.Modules) {
		if cand, _, err = svc.repo.AdvanceModule(ctx, cand.ID, cand.CurrentModule, NowFunc().UTC()); err != nil {
			return State{}, errors.Wrap(err, "advancing module")
		}
	}
	return svc.state(ctx, cand, tree)
}

// Submit ends the participation once every module is behind the candidate.
func (svc *Service) Submit(ctx context.Context, candidateID string) (Candidate, error) {
	cand, tree, err := svc.load(ctx, candidateID)
	if err != nil {
		return Candidate{}, err
	}
	if cand.Status != StatusStarted {
		if HasSubmitted(cand.Status) {
			return Candidate{}, ErrAlreadySubmitted
		}
		return Candidate{}, ErrNotInProgress
	}
	if cand.CurrentModule < len(tree.Modules) {
		return Candidate{}, ErrModulesRemaining
	}

	if _, err = svc.repo.TransitionCandidate(ctx, Transition{
		ID:   cand.ID,
		From: StatusStarted,
		To:   StatusCompleted,
		At:   NowFunc().UTC(),
	}); err != nil {
		if err == ErrInvalidTransition {
			return Candidate{}, ErrAlreadySubmitted
		}
		return Candidate{}, err
	}
	return svc.repo.RecomputeScore(ctx, cand.ID, nil)
}
