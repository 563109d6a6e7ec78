package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/contest"
)

type contestRepository struct {
	db *DB
}

var _ contest.Repository = (*contestRepository)(nil) // interface compliance check

func NewContestRepository(db *DB) *contestRepository {
	return &contestRepository{db: db}
}

// Agencies

func (repo *contestRepository) CreateAgency(_ context.Context, agency contest.Agency) (contest.Agency, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	agency.ID = newID()
	repo.db.agencies[agency.ID] = &agency
	return agency, nil
}

func (repo *contestRepository) QueryAgencies(_ context.Context) ([]contest.Agency, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	agencies := make([]contest.Agency, 0, len(repo.db.agencies))
	for _, a := range repo.db.agencies {
		agencies = append(agencies, *a)
	}
	sort.Slice(agencies, func(i, j int) bool { return agencies[i].Name < agencies[j].Name })
	return agencies, nil
}

func (repo *contestRepository) GetAgency(_ context.Context, id string) (contest.Agency, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if a, ok := repo.db.agencies[id]; ok {
		return *a, nil
	}
	return contest.Agency{}, contest.ErrAgencyNotFound
}

func (repo *contestRepository) UpdateAgency(_ context.Context, agency contest.Agency) (contest.Agency, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.agencies[agency.ID]; !ok {
		return contest.Agency{}, contest.ErrAgencyNotFound
	}
	repo.db.agencies[agency.ID] = &agency
	return agency, nil
}

func (repo *contestRepository) DeleteAgency(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	delete(repo.db.agencies, id)
	for _, c := range repo.db.contests {
		if c.AgencyID == id {
			c.AgencyID = ""
		}
	}
	return nil
}

// Contests

func (repo *contestRepository) CreateContest(_ context.Context, c contest.Contest) (contest.Contest, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c.ID = newID()
	modules := c.Modules
	c.Modules = nil
	c.Agency = nil
	stored := c
	repo.db.contests[c.ID] = &stored

	for i, m := range modules {
		m.ContestID = c.ID
		if m.OrderPosition == 0 {
			m.OrderPosition = i + 1
		}
		for j, q := range m.Questions {
			if q.OrderIndex == 0 {
				q.OrderIndex = j + 1
			}
			m.Questions[j] = q
		}
		repo.insertModule(m)
	}
	return stored, nil
}

// insertModule stores m along with its questions and options. Callers hold the lock.
func (repo *contestRepository) insertModule(m contest.Module) contest.Module {
	m.ID = newID()
	questions := m.Questions
	m.Questions = nil
	stored := m
	repo.db.modules[m.ID] = &stored

	for _, q := range questions {
		q.ModuleID = m.ID
		repo.insertQuestion(q)
	}
	return stored
}

// insertQuestion stores q with its options and returns it with them. Callers hold the lock.
func (repo *contestRepository) insertQuestion(q contest.Question) contest.Question {
	q.ID = newID()
	opts := q.Options
	q.Options = nil
	stored := q
	repo.db.questions[q.ID] = &stored

	q.Options = repo.insertOptions(q.ID, opts)
	return q
}

func (repo *contestRepository) insertOptions(questionID string, opts []contest.Option) []contest.Option {
	res := make([]contest.Option, 0, len(opts))
	for _, o := range opts {
		o.ID = newID()
		o.QuestionID = questionID
		stored := o
		repo.db.options[o.ID] = &stored
		res = append(res, o)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].OptionOrder < res[j].OptionOrder })
	return res
}

func (repo *contestRepository) QueryContests(_ context.Context, filter *contest.QueryFilter, ordering []core.DBOrdering) ([]contest.Contest, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	contests := make([]contest.Contest, 0)
	for _, c := range repo.db.contests {
		if filter != nil {
			if filter.Type != "" && c.Type != filter.Type {
				continue
			}
			if filter.Status != "" && c.Status != filter.Status {
				continue
			}
			if filter.AgencyID != "" && c.AgencyID != filter.AgencyID {
				continue
			}
			if filter.CreatedBy != "" && c.CreatedBy != filter.CreatedBy {
				continue
			}
			if filter.Search != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(filter.Search)) {
				continue
			}
			if filter.AcademyModuleIDs != nil && !contains(filter.AcademyModuleIDs, c.AcademyModuleID) {
				continue
			}
		}
		contests = append(contests, *c)
	}

	sort.Slice(contests, func(i, j int) bool {
		for _, ord := range ordering {
			switch ord.Field {
			case "name":
				if contests[i].Name != contests[j].Name {
					return (contests[i].Name < contests[j].Name) == ord.Ascending
				}
			case "created_at":
				if !contests[i].CreatedAt.Equal(contests[j].CreatedAt) {
					return contests[i].CreatedAt.Before(contests[j].CreatedAt) == ord.Ascending
				}
			}
		}
		return contests[i].CreatedAt.After(contests[j].CreatedAt)
	})
	return contests, nil
}

func (repo *contestRepository) GetContest(_ context.Context, id string) (contest.Contest, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if c, ok := repo.db.contests[id]; ok {
		return *c, nil
	}
	return contest.Contest{}, contest.ErrNotFound
}

func (repo *contestRepository) GetContestByAccessLink(_ context.Context, link string) (contest.Contest, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, c := range repo.db.contests {
		if link != "" && c.AccessLink == link {
			return *c, nil
		}
	}
	return contest.Contest{}, contest.ErrNotFound
}

func (repo *contestRepository) UpdateContest(_ context.Context, c contest.Contest) (contest.Contest, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.contests[c.ID]
	if !ok {
		return contest.Contest{}, contest.ErrNotFound
	}
	// status only moves through UpdateContestStatus
	c.Status = orig.Status
	c.Modules = nil
	c.Agency = nil
	repo.db.contests[c.ID] = &c
	return c, nil
}

func (repo *contestRepository) UpdateContestStatus(_ context.Context, id, from, to string, updatedAt time.Time) (contest.Contest, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c, ok := repo.db.contests[id]
	if !ok {
		return contest.Contest{}, contest.ErrNotFound
	}
	if c.Status != from {
		return contest.Contest{}, contest.ErrInvalidStatus
	}
	c.Status = to
	c.UpdatedAt = updatedAt
	return *c, nil
}

func (repo *contestRepository) DeleteContest(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.contests[id]; !ok {
		return contest.ErrNotFound
	}
	delete(repo.db.contests, id)
	for mID, m := range repo.db.modules {
		if m.ContestID == id {
			repo.deleteModule(mID)
		}
	}
	for cID, c := range repo.db.candidates {
		if c.ContestID == id {
			deleteCandidate(repo.db, cID)
		}
	}
	return nil
}

// Modules

func (repo *contestRepository) CreateModule(_ context.Context, m contest.Module) (contest.Module, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.contests[m.ContestID]; !ok {
		return contest.Module{}, contest.ErrNotFound
	}
	var maxPos int
	for _, other := range repo.db.modules {
		if other.ContestID == m.ContestID && other.OrderPosition > maxPos {
			maxPos = other.OrderPosition
		}
	}
	m.OrderPosition = maxPos + 1
	m.Questions = nil
	return repo.insertModule(m), nil
}

// moduleTree returns the module with its questions & options, in order. Callers hold the lock.
func (repo *contestRepository) moduleTree(m contest.Module) contest.Module {
	m.Questions = make([]contest.Question, 0)
	for _, q := range repo.db.questions {
		if q.ModuleID == m.ID {
			m.Questions = append(m.Questions, repo.questionWithOptions(*q))
		}
	}
	sort.Slice(m.Questions, func(i, j int) bool { return m.Questions[i].OrderIndex < m.Questions[j].OrderIndex })
	return m
}

func (repo *contestRepository) questionWithOptions(q contest.Question) contest.Question {
	q.Options = make([]contest.Option, 0)
	for _, o := range repo.db.options {
		if o.QuestionID == q.ID {
			q.Options = append(q.Options, *o)
		}
	}
	sort.Slice(q.Options, func(i, j int) bool { return q.Options[i].OptionOrder < q.Options[j].OptionOrder })
	return q
}

func (repo *contestRepository) QueryModules(_ context.Context, contestID string) ([]contest.Module, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	modules := make([]contest.Module, 0)
	for _, m := range repo.db.modules {
		if m.ContestID == contestID {
			modules = append(modules, repo.moduleTree(*m))
		}
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].OrderPosition < modules[j].OrderPosition })
	return modules, nil
}

func (repo *contestRepository) GetModule(_ context.Context, id string) (contest.Module, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if m, ok := repo.db.modules[id]; ok {
		return repo.moduleTree(*m), nil
	}
	return contest.Module{}, contest.ErrModuleNotFound
}

func (repo *contestRepository) UpdateModule(_ context.Context, m contest.Module) (contest.Module, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.modules[m.ID]
	if !ok {
		return contest.Module{}, contest.ErrModuleNotFound
	}
	m.ContestID = orig.ContestID
	m.OrderPosition = orig.OrderPosition
	m.Questions = nil
	repo.db.modules[m.ID] = &m
	return repo.moduleTree(m), nil
}

// deleteModule removes the module, its questions & options, and the responses to them. Callers hold the lock.
func (repo *contestRepository) deleteModule(id string) {
	delete(repo.db.modules, id)
	for qID, q := range repo.db.questions {
		if q.ModuleID == id {
			repo.deleteQuestion(qID)
		}
	}
}

func (repo *contestRepository) deleteQuestion(id string) {
	delete(repo.db.questions, id)
	for oID, o := range repo.db.options {
		if o.QuestionID == id {
			delete(repo.db.options, oID)
		}
	}
	for rID, r := range repo.db.responses {
		if r.QuestionID == id {
			deleteResponse(repo.db, rID)
		}
	}
}

func (repo *contestRepository) DeleteModule(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.modules[id]; !ok {
		return contest.ErrModuleNotFound
	}
	repo.deleteModule(id)
	return nil
}

func (repo *contestRepository) ReorderModules(_ context.Context, contestID string, ids []string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for i, id := range ids {
		m, ok := repo.db.modules[id]
		if !ok || m.ContestID != contestID {
			return contest.ErrModuleNotFound
		}
		m.OrderPosition = i + 1
	}
	return nil
}

// Questions

func (repo *contestRepository) CreateQuestion(_ context.Context, q contest.Question) (contest.Question, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.modules[q.ModuleID]; !ok {
		return contest.Question{}, contest.ErrModuleNotFound
	}
	var maxIdx int
	for _, other := range repo.db.questions {
		if other.ModuleID == q.ModuleID && other.OrderIndex > maxIdx {
			maxIdx = other.OrderIndex
		}
	}
	q.OrderIndex = maxIdx + 1
	return repo.insertQuestion(q), nil
}

func (repo *contestRepository) GetQuestion(_ context.Context, id string) (contest.Question, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if q, ok := repo.db.questions[id]; ok {
		return repo.questionWithOptions(*q), nil
	}
	return contest.Question{}, contest.ErrQuestionNotFound
}

func (repo *contestRepository) UpdateQuestion(_ context.Context, q contest.Question, replaceOptions bool) (contest.Question, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.questions[q.ID]
	if !ok {
		return contest.Question{}, contest.ErrQuestionNotFound
	}
	q.ModuleID = orig.ModuleID
	q.OrderIndex = orig.OrderIndex
	opts := q.Options
	q.Options = nil
	stored := q
	repo.db.questions[q.ID] = &stored

	if replaceOptions {
		for oID, o := range repo.db.options {
			if o.QuestionID == q.ID {
				delete(repo.db.options, oID)
			}
		}
		repo.insertOptions(q.ID, opts)
	}
	return repo.questionWithOptions(stored), nil
}

func (repo *contestRepository) DeleteQuestion(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.questions[id]; !ok {
		return contest.ErrQuestionNotFound
	}
	repo.deleteQuestion(id)
	return nil
}
