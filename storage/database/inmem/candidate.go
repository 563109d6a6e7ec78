package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/candidate"
)

type candidateRepository struct {
	db *DB
}

var _ candidate.Repository = (*candidateRepository)(nil) // interface compliance check

func NewCandidateRepository(db *DB) *candidateRepository {
	return &candidateRepository{db: db}
}

// identifierTaken reports whether ident is used in the contest by a candidate other than excludedID. Callers hold the lock.
func (repo *candidateRepository) identifierTaken(contestID, ident, excludedID string) bool {
	for _, c := range repo.db.candidates {
		if c.ContestID == contestID && c.Identifier == ident && c.ID != excludedID {
			return true
		}
	}
	return false
}

func (repo *candidateRepository) CreateCandidates(_ context.Context, cands ...candidate.Candidate) ([]candidate.Candidate, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	batch := make(map[string]bool, len(cands))
	for _, c := range cands {
		key := c.ContestID + "/" + c.Identifier
		if batch[key] || repo.identifierTaken(c.ContestID, c.Identifier, "") {
			return nil, candidate.ErrIdentifierExists
		}
		batch[key] = true
	}

	created := make([]candidate.Candidate, 0, len(cands))
	for _, c := range cands {
		c.ID = newID()
		stored := c
		repo.db.candidates[c.ID] = &stored
		created = append(created, c)
	}
	return created, nil
}

func (repo *candidateRepository) QueryCandidates(_ context.Context, filter *candidate.QueryFilter, ordering []core.DBOrdering) ([]candidate.Candidate, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	cands := make([]candidate.Candidate, 0)
	for _, c := range repo.db.candidates {
		if filter != nil {
			if filter.ContestID != "" && c.ContestID != filter.ContestID {
				continue
			}
			if filter.Status != "" && c.Status != filter.Status {
				continue
			}
			if filter.Identifier != "" && c.Identifier != filter.Identifier {
				continue
			}
			if filter.UserID != "" && c.UserID != filter.UserID {
				continue
			}
			if filter.Search != "" {
				s := strings.ToLower(filter.Search)
				if !strings.Contains(strings.ToLower(c.Name), s) &&
					!strings.Contains(strings.ToLower(c.Identifier), s) &&
					!strings.Contains(strings.ToLower(c.DiscordUsername), s) &&
					!strings.Contains(c.Email, s) {
					continue
				}
			}
		}
		cands = append(cands, *c)
	}

	sort.Slice(cands, func(i, j int) bool {
		for _, ord := range ordering {
			switch ord.Field {
			case "name":
				if cands[i].Name != cands[j].Name {
					return (cands[i].Name < cands[j].Name) == ord.Ascending
				}
			case "total_score":
				if cands[i].TotalScore != cands[j].TotalScore {
					return (cands[i].TotalScore < cands[j].TotalScore) == ord.Ascending
				}
			case "created_at":
				if !cands[i].CreatedAt.Equal(cands[j].CreatedAt) {
					return cands[i].CreatedAt.Before(cands[j].CreatedAt) == ord.Ascending
				}
			}
		}
		if cands[i].CreatedAt.Equal(cands[j].CreatedAt) {
			return cands[i].Name < cands[j].Name
		}
		return cands[i].CreatedAt.After(cands[j].CreatedAt)
	})
	return cands, nil
}

func (repo *candidateRepository) CountCandidates(_ context.Context, contestID string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, c := range repo.db.candidates {
		if c.ContestID == contestID {
			n++
		}
	}
	return n, nil
}

func (repo *candidateRepository) GetCandidate(_ context.Context, filter candidate.GetFilter) (candidate.Candidate, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter.ID != "" {
		if c, ok := repo.db.candidates[filter.ID]; ok {
			return *c, nil
		}
		return candidate.Candidate{}, candidate.ErrNotFound
	}
	if filter.ContestID == "" || (filter.Identifier == "" && filter.UserID == "") {
		return candidate.Candidate{}, candidate.ErrNotFound
	}
	for _, c := range repo.db.candidates {
		if c.ContestID != filter.ContestID {
			continue
		}
		if (filter.Identifier != "" && c.Identifier == filter.Identifier) ||
			(filter.UserID != "" && c.UserID == filter.UserID) {
			return *c, nil
		}
	}
	return candidate.Candidate{}, candidate.ErrNotFound
}

func (repo *candidateRepository) UpdateCandidate(_ context.Context, cand candidate.Candidate) (candidate.Candidate, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.candidates[cand.ID]
	if !ok {
		return candidate.Candidate{}, candidate.ErrNotFound
	}
	if repo.identifierTaken(orig.ContestID, cand.Identifier, orig.ID) {
		return candidate.Candidate{}, candidate.ErrIdentifierExists
	}
	orig.Name = cand.Name
	orig.DiscordUsername = cand.DiscordUsername
	orig.Email = cand.Email
	orig.Identifier = cand.Identifier
	orig.PasswordHash = cand.PasswordHash
	orig.InvitationSentAt = cand.InvitationSentAt
	return *orig, nil
}

func (repo *candidateRepository) TransitionCandidate(_ context.Context, t candidate.Transition) (candidate.Candidate, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c, ok := repo.db.candidates[t.ID]
	if !ok {
		return candidate.Candidate{}, candidate.ErrNotFound
	}
	if c.Status != t.From || !candidate.CanTransition(t.From, t.To) {
		return candidate.Candidate{}, candidate.ErrInvalidTransition
	}

	at := t.At
	c.Status = t.To
	switch t.To {
	case candidate.StatusStarted:
		c.StartedAt = &at
		c.CurrentModule = 0
		c.ModuleStartedAt = &at
	case candidate.StatusCompleted:
		c.CompletedAt = &at
	}
	return *c, nil
}

func (repo *candidateRepository) AdvanceModule(_ context.Context, id string, from int, startedAt time.Time) (candidate.Candidate, bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c, ok := repo.db.candidates[id]
	if !ok {
		return candidate.Candidate{}, false, candidate.ErrNotFound
	}
	if c.Status != candidate.StatusStarted || c.CurrentModule != from {
		return *c, false, nil
	}
	c.CurrentModule = from + 1
	c.ModuleStartedAt = &startedAt
	return *c, true, nil
}

// recomputeScore sets the candidate total to the sum of its response scores. Callers hold the lock.
func (repo *candidateRepository) recomputeScore(c *candidate.Candidate, grade candidate.GradeFunc) {
	total := decimal.Zero
	for _, r := range repo.db.responses {
		if r.CandidateID == c.ID {
			total = total.Add(decimal.NewFromFloat(r.Score))
		}
	}
	c.TotalScore, _ = total.Float64()
	if grade != nil {
		c.FinalGrade = grade(c.TotalScore)
	}
}

func (repo *candidateRepository) RecomputeScore(_ context.Context, id string, grade candidate.GradeFunc) (candidate.Candidate, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c, ok := repo.db.candidates[id]
	if !ok {
		return candidate.Candidate{}, candidate.ErrNotFound
	}
	repo.recomputeScore(c, grade)
	return *c, nil
}

func deleteCandidate(db *DB, id string) {
	delete(db.candidates, id)
	for rID, r := range db.responses {
		if r.CandidateID == id {
			deleteResponse(db, rID)
		}
	}
}

func deleteResponse(db *DB, id string) {
	delete(db.responses, id)
	for eID, e := range db.evaluations {
		if e.ResponseID == id {
			delete(db.evaluations, eID)
		}
	}
}

func (repo *candidateRepository) DeleteCandidate(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.candidates[id]; !ok {
		return candidate.ErrNotFound
	}
	deleteCandidate(repo.db, id)
	return nil
}

func (repo *candidateRepository) UpsertResponse(_ context.Context, resp candidate.Response) (candidate.Response, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.candidates[resp.CandidateID]; !ok {
		return candidate.Response{}, candidate.ErrNotFound
	}
	for _, r := range repo.db.responses {
		if r.CandidateID == resp.CandidateID && r.QuestionID == resp.QuestionID {
			r.ResponseText = resp.ResponseText
			r.SelectedOptionID = resp.SelectedOptionID
			r.IsCorrect = resp.IsCorrect
			r.SubmittedAt = resp.SubmittedAt
			return *r, nil
		}
	}
	resp.ID = newID()
	stored := resp
	repo.db.responses[resp.ID] = &stored
	return resp, nil
}

func (repo *candidateRepository) GetResponse(_ context.Context, id string) (candidate.Response, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if r, ok := repo.db.responses[id]; ok {
		return *r, nil
	}
	return candidate.Response{}, candidate.ErrResponseNotFound
}

func (repo *candidateRepository) QueryResponses(_ context.Context, candidateIDs ...string) ([]candidate.Response, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	resps := make([]candidate.Response, 0)
	for _, r := range repo.db.responses {
		if contains(candidateIDs, r.CandidateID) {
			resps = append(resps, *r)
		}
	}
	sort.Slice(resps, func(i, j int) bool { return resps[i].SubmittedAt.Before(resps[j].SubmittedAt) })
	return resps, nil
}

func (repo *candidateRepository) SaveEvaluation(_ context.Context, eval candidate.Evaluation, grade candidate.GradeFunc) (candidate.Evaluation, candidate.Candidate, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	resp, ok := repo.db.responses[eval.ResponseID]
	if !ok {
		return candidate.Evaluation{}, candidate.Candidate{}, candidate.ErrResponseNotFound
	}
	cand, ok := repo.db.candidates[resp.CandidateID]
	if !ok {
		return candidate.Evaluation{}, candidate.Candidate{}, candidate.ErrNotFound
	}

	var saved *candidate.Evaluation
	for _, e := range repo.db.evaluations {
		if e.ResponseID == eval.ResponseID {
			eval.ID = e.ID
			*e = eval
			saved = e
			break
		}
	}
	if saved == nil {
		eval.ID = newID()
		saved = &eval
		repo.db.evaluations[eval.ID] = saved
	}

	resp.Score = eval.Score
	repo.recomputeScore(cand, grade)
	return *saved, *cand, nil
}

func (repo *candidateRepository) QueryEvaluations(_ context.Context, responseIDs ...string) ([]candidate.Evaluation, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	evals := make([]candidate.Evaluation, 0)
	for _, e := range repo.db.evaluations {
		if contains(responseIDs, e.ResponseID) {
			evals = append(evals, *e)
		}
	}
	return evals, nil
}
