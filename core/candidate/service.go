package candidate

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/contest"
)

var (
	// errors
	ErrNotFound           = core.NewNotFoundError("candidate")
	ErrResponseNotFound   = core.NewNotFoundError("response")
	ErrIdentifierExists   = errors.New("a candidate with this identifier already exists in the contest")
	ErrInvalidTransition  = core.NewConflictError("candidate status cannot move this way")
	ErrContestFull        = core.NewConflictError("the contest has reached its maximum number of participants")
	ErrContestClosed      = core.NewConflictError("the contest is not open")
	ErrAlreadySubmitted   = core.NewConflictError("participation already submitted")
	ErrNotInProgress      = core.NewConflictError("participation is not in progress")
	ErrModuleNotCurrent   = core.NewConflictError("question does not belong to the current module")
	ErrModulesRemaining   = core.NewConflictError("all modules must be completed before submitting")
	ErrNotGradable        = core.NewConflictError("candidate has not submitted yet")
	ErrResultsUnavailable = core.NewConflictError("results are not available yet")
	ErrNotEligible        = core.NewPermissionError("not allowed to take part in this contest")
	ErrInvalidCredentials = core.NewValidationError(errors.New("invalid credentials"))

	NowFunc = time.Now // mockable

	maxCredentialAttempts = 5
	invitationTemplate    = "candidate_invitation"
)

type (
	Repository interface {
		// CreateCandidates inserts all candidates in one transaction.
		// ErrIdentifierExists is returned when an identifier is already taken within a contest.
		CreateCandidates(ctx context.Context, cands ...Candidate) ([]Candidate, error)
		QueryCandidates(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Candidate, error)
		CountCandidates(ctx context.Context, contestID string) (int, error)
		GetCandidate(ctx context.Context, filter GetFilter) (Candidate, error)
		// UpdateCandidate saves profile fields, credentials & invitation stamp; never status or scores.
		UpdateCandidate(ctx context.Context, cand Candidate) (Candidate, error)
		// TransitionCandidate moves the candidate status only if it still is t.From.
		// ErrInvalidTransition is returned otherwise.
		TransitionCandidate(ctx context.Context, t Transition) (Candidate, error)
		// AdvanceModule moves a started candidate from module index `from` to the next one, its clock starting at startedAt.
		// The returned bool is false when the candidate was not at `from` anymore (someone else advanced it).
		AdvanceModule(ctx context.Context, id string, from int, startedAt time.Time) (Candidate, bool, error)
		// RecomputeScore sets the candidate total to the sum of its response scores.
		RecomputeScore(ctx context.Context, id string, grade GradeFunc) (Candidate, error)
		DeleteCandidate(ctx context.Context, id string) error

		// UpsertResponse saves the single response of a candidate to a question.
		UpsertResponse(ctx context.Context, resp Response) (Response, error)
		GetResponse(ctx context.Context, id string) (Response, error)
		QueryResponses(ctx context.Context, candidateIDs ...string) ([]Response, error)
		// SaveEvaluation upserts the evaluation of a response, sets the response score to it
		// and recomputes the candidate total, atomically.
		SaveEvaluation(ctx context.Context, eval Evaluation, grade GradeFunc) (Evaluation, Candidate, error)
		QueryEvaluations(ctx context.Context, responseIDs ...string) ([]Evaluation, error)
	}

	// ContestProvider gives access to contest trees.
	ContestProvider interface {
		Get(ctx context.Context, id string) (contest.Contest, error)
		GetTree(ctx context.Context, id string) (contest.Contest, error)
	}

	// EligibilityChecker tells whether a user is a student of a class the academy module is assigned to.
	EligibilityChecker interface {
		IsStudentAssigned(ctx context.Context, userID, academyModuleID string) (bool, error)
	}

	Service struct {
		repo        Repository
		contests    ContestProvider
		eligibility EligibilityChecker
		mailSvc     core.EmailService
	}
)

func NewService(repo Repository, contests ContestProvider, eligibility EligibilityChecker, mailSvc core.EmailService) *Service {
	return &Service{
		repo:        repo,
		contests:    contests,
		eligibility: eligibility,
		mailSvc:     mailSvc,
	}
}

func (svc *Service) checkCapacity(ctx context.Context, c contest.Contest, adding int) error {
	if c.MaxParticipants <= 0 {
		return nil
	}
	count, err := svc.repo.CountCandidates(ctx, c.ID)
	if err != nil {
		return errors.Wrap(err, "counting candidates")
	}
	if count+adding > c.MaxParticipants {
		return ErrContestFull
	}
	return nil
}

// insertWithCredentials gives every candidate fresh credentials and inserts them all,
// drawing new identifiers when one collides.
func (svc *Service) insertWithCredentials(ctx context.Context, cands []Candidate) ([]WithCredentials, error) {
	for attempt := 1; ; attempt++ {
		creds := make([]Credentials, len(cands))
		for i := range cands {
			cred, err := GenerateCredentials()
			if err != nil {
				return nil, errors.Wrap(err, "generating credentials")
			}
			if err = cands[i].SetPassword(cred.Password); err != nil {
				return nil, errors.Wrap(err, "setting password")
			}
			cands[i].Identifier = cred.Identifier
			creds[i] = cred
		}

		created, err := svc.repo.CreateCandidates(ctx, cands...)
		if err == ErrIdentifierExists && attempt < maxCredentialAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}

		res := make([]WithCredentials, len(created))
		for i := range created {
			res[i] = WithCredentials{Candidate: created[i], Credentials: creds[i]}
		}
		return res, nil
	}
}

// Create invites a single candidate into the contest.
func (svc *Service) Create(ctx context.Context, contestID string, nc NewCandidate) (WithCredentials, error) {
	res, err := svc.CreateMultiple(ctx, contestID, []NewCandidate{nc})
	if err != nil {
		return WithCredentials{}, err
	}
	return res[0], nil
}

// CreateMultiple invites several candidates at once; either all or none are created.
func (svc *Service) CreateMultiple(ctx context.Context, contestID string, ncs []NewCandidate) ([]WithCredentials, error) {
	c, err := svc.contests.Get(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if err = svc.checkCapacity(ctx, c, len(ncs)); err != nil {
		return nil, err
	}

	now := NowFunc().UTC()
	cands := make([]Candidate, len(ncs))
	for i, nc := range ncs {
		cands[i] = Candidate{
			ContestID:       contestID,
			Name:            nc.Name,
			DiscordUsername: nc.DiscordUsername,
			Email:           nc.Email,
			Status:          StatusInvited,
			CreatedAt:       now,
		}
	}
	return svc.insertWithCredentials(ctx, cands)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Candidate, error) {
	return svc.repo.QueryCandidates(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Candidate, error) {
	return svc.repo.GetCandidate(ctx, GetFilter{ID: id})
}

func (svc *Service) Update(ctx context.Context, cand Candidate, nc NewCandidate) (Candidate, error) {
	cand.Name = nc.Name
	cand.DiscordUsername = nc.DiscordUsername
	cand.Email = nc.Email
	return svc.repo.UpdateCandidate(ctx, cand)
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteCandidate(ctx, id)
}

// RegenerateCredentials replaces both the identifier and the password of the candidate.
func (svc *Service) RegenerateCredentials(ctx context.Context, cand Candidate) (WithCredentials, error) {
	for attempt := 1; ; attempt++ {
		cred, err := GenerateCredentials()
		if err != nil {
			return WithCredentials{}, errors.Wrap(err, "generating credentials")
		}
		cand.Identifier = cred.Identifier
		if err = cand.SetPassword(cred.Password); err != nil {
			return WithCredentials{}, errors.Wrap(err, "setting password")
		}

		updated, err := svc.repo.UpdateCandidate(ctx, cand)
		if err == ErrIdentifierExists && attempt < maxCredentialAttempts {
			continue
		}
		if err != nil {
			return WithCredentials{}, err
		}
		return WithCredentials{Candidate: updated, Credentials: cred}, nil
	}
}

type invitationData struct {
	Name        string
	ContestID   string
	ContestName string
	Identifier  string
	Password    string
}

// SendInvitations mails fresh credentials to the invited candidates of the contest listed in ids.
// Candidates without email or past the invited status are skipped.
func (svc *Service) SendInvitations(ctx context.Context, contestID string, ids []string) ([]Candidate, error) {
	c, err := svc.contests.Get(ctx, contestID)
	if err != nil {
		return nil, err
	}

	invited := make([]Candidate, 0, len(ids))
	msgs := make([]*core.EmailMessage, 0, len(ids))
	for _, id := range ids {
		cand, err := svc.repo.GetCandidate(ctx, GetFilter{ID: id})
		if err != nil {
			return nil, err
		}
		if cand.ContestID != contestID || cand.Email == "" || cand.Status != StatusInvited {
			continue
		}

		now := NowFunc().UTC()
		cand.InvitationSentAt = &now
		wc, err := svc.RegenerateCredentials(ctx, cand)
		if err != nil {
			return nil, errors.Wrap(err, "regenerating credentials")
		}

		invited = append(invited, wc.Candidate)
		msgs = append(msgs, &core.EmailMessage{
			To:           []mail.Address{{Name: cand.Name, Address: cand.Email}},
			Subject:      "Invitation : " + c.Name,
			TemplateName: invitationTemplate,
			TemplateData: invitationData{
				Name:        cand.Name,
				ContestID:   c.ID,
				ContestName: c.Name,
				Identifier:  wc.Credentials.Identifier,
				Password:    wc.Credentials.Password,
			},
		})
	}

	if len(msgs) > 0 {
		svc.mailSvc.SendMessages(msgs...)
	}
	return invited, nil
}
