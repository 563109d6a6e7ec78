package inmemdb

import (
	"context"
	"sort"

	"github.com/rpconcours/concours/core/academy"
)

type academyRepository struct {
	db *DB
}

var _ academy.Repository = (*academyRepository)(nil) // interface compliance check

func NewAcademyRepository(db *DB) *academyRepository {
	return &academyRepository{db: db}
}

// Academies

func (repo *academyRepository) CreateAcademy(_ context.Context, a academy.Academy) (academy.Academy, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a.ID = newID()
	repo.db.academies[a.ID] = &a
	return a, nil
}

func (repo *academyRepository) QueryAcademies(_ context.Context) ([]academy.Academy, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]academy.Academy, 0, len(repo.db.academies))
	for _, a := range repo.db.academies {
		res = append(res, *a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (repo *academyRepository) GetAcademy(_ context.Context, id string) (academy.Academy, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if a, ok := repo.db.academies[id]; ok {
		return *a, nil
	}
	return academy.Academy{}, academy.ErrNotFound
}

func (repo *academyRepository) UpdateAcademy(_ context.Context, a academy.Academy) (academy.Academy, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.academies[a.ID]; !ok {
		return academy.Academy{}, academy.ErrNotFound
	}
	repo.db.academies[a.ID] = &a
	return a, nil
}

func (repo *academyRepository) DeleteAcademy(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.academies[id]; !ok {
		return academy.ErrNotFound
	}
	delete(repo.db.academies, id)
	for cID, c := range repo.db.classes {
		if c.AcademyID == id {
			repo.deleteClass(cID)
		}
	}
	for mID, m := range repo.db.acModules {
		if m.AcademyID == id {
			repo.deleteModule(mID)
		}
	}
	for rID, r := range repo.db.resources {
		if r.AcademyID == id {
			delete(repo.db.resources, rID)
		}
	}
	for _, u := range repo.db.users {
		if u.AcademyID == id {
			u.AcademyID = ""
		}
	}
	return nil
}

// Classes

func (repo *academyRepository) CreateClass(_ context.Context, c academy.Class) (academy.Class, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c.ID = newID()
	repo.db.classes[c.ID] = &c
	return c, nil
}

func (repo *academyRepository) QueryClasses(_ context.Context, filter academy.ClassFilter) ([]academy.Class, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var memberOf map[string]bool
	if filter.MemberID != "" {
		memberOf = make(map[string]bool)
		for _, m := range repo.db.members {
			if m.UserID == filter.MemberID && (filter.RoleInClass == "" || m.RoleInClass == filter.RoleInClass) {
				memberOf[m.ClassID] = true
			}
		}
	}

	res := make([]academy.Class, 0)
	for _, c := range repo.db.classes {
		if filter.AcademyID != "" && c.AcademyID != filter.AcademyID {
			continue
		}
		if memberOf != nil && !memberOf[c.ID] {
			continue
		}
		res = append(res, *c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (repo *academyRepository) GetClass(_ context.Context, id string) (academy.Class, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if c, ok := repo.db.classes[id]; ok {
		return *c, nil
	}
	return academy.Class{}, academy.ErrClassNotFound
}

func (repo *academyRepository) UpdateClass(_ context.Context, c academy.Class) (academy.Class, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.classes[c.ID]
	if !ok {
		return academy.Class{}, academy.ErrClassNotFound
	}
	c.AcademyID = orig.AcademyID
	repo.db.classes[c.ID] = &c
	return c, nil
}

// deleteClass removes the class with its members, assignments, resources & evaluations. Callers hold the lock.
func (repo *academyRepository) deleteClass(id string) {
	delete(repo.db.classes, id)
	for mID, m := range repo.db.members {
		if m.ClassID == id {
			delete(repo.db.members, mID)
		}
	}
	for aID, a := range repo.db.assignments {
		if a.ClassID == id {
			delete(repo.db.assignments, aID)
		}
	}
	for rID, r := range repo.db.resources {
		if r.ClassID == id {
			delete(repo.db.resources, rID)
		}
	}
	for eID, e := range repo.db.acEvals {
		if e.ClassID == id {
			repo.deleteEvaluation(eID)
		}
	}
}

func (repo *academyRepository) DeleteClass(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.classes[id]; !ok {
		return academy.ErrClassNotFound
	}
	repo.deleteClass(id)
	return nil
}

// Members

func (repo *academyRepository) AddMember(_ context.Context, m academy.ClassMember) (academy.ClassMember, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, other := range repo.db.members {
		if other.ClassID == m.ClassID && other.UserID == m.UserID {
			return academy.ClassMember{}, academy.ErrMemberExists
		}
	}
	m.ID = newID()
	repo.db.members[m.ID] = &m
	return m, nil
}

func (repo *academyRepository) QueryMembers(_ context.Context, classID string) ([]academy.ClassMember, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]academy.ClassMember, 0)
	for _, m := range repo.db.members {
		if m.ClassID == classID {
			res = append(res, *m)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (repo *academyRepository) GetMember(_ context.Context, classID, userID string) (academy.ClassMember, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, m := range repo.db.members {
		if m.ClassID == classID && m.UserID == userID {
			return *m, nil
		}
	}
	return academy.ClassMember{}, academy.ErrMemberNotFound
}

func (repo *academyRepository) RemoveMember(_ context.Context, classID, userID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for mID, m := range repo.db.members {
		if m.ClassID == classID && m.UserID == userID {
			delete(repo.db.members, mID)
			return nil
		}
	}
	return academy.ErrMemberNotFound
}

// Modules

func (repo *academyRepository) CreateModule(_ context.Context, m academy.Module) (academy.Module, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if m.OrderPosition == 0 {
		var maxPos int
		for _, other := range repo.db.acModules {
			if other.AcademyID == m.AcademyID && other.OrderPosition > maxPos {
				maxPos = other.OrderPosition
			}
		}
		m.OrderPosition = maxPos + 1
	}
	m.ID = newID()
	repo.db.acModules[m.ID] = &m
	return m, nil
}

func (repo *academyRepository) QueryModules(_ context.Context, academyID string, ids ...string) ([]academy.Module, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]academy.Module, 0)
	for _, m := range repo.db.acModules {
		if academyID != "" && m.AcademyID != academyID {
			continue
		}
		if len(ids) > 0 && !contains(ids, m.ID) {
			continue
		}
		res = append(res, *m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].OrderPosition < res[j].OrderPosition })
	return res, nil
}

func (repo *academyRepository) GetModule(_ context.Context, id string) (academy.Module, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if m, ok := repo.db.acModules[id]; ok {
		return *m, nil
	}
	return academy.Module{}, academy.ErrModuleNotFound
}

func (repo *academyRepository) UpdateModule(_ context.Context, m academy.Module) (academy.Module, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.acModules[m.ID]
	if !ok {
		return academy.Module{}, academy.ErrModuleNotFound
	}
	m.AcademyID = orig.AcademyID
	repo.db.acModules[m.ID] = &m
	return m, nil
}

func (repo *academyRepository) deleteModule(id string) {
	delete(repo.db.acModules, id)
	for aID, a := range repo.db.assignments {
		if a.ModuleID == id {
			delete(repo.db.assignments, aID)
		}
	}
	for rID, r := range repo.db.resources {
		if r.ModuleID == id {
			delete(repo.db.resources, rID)
		}
	}
	for eID, e := range repo.db.acEvals {
		if e.ModuleID == id {
			repo.deleteEvaluation(eID)
		}
	}
	for _, c := range repo.db.contests {
		if c.AcademyModuleID == id {
			c.AcademyModuleID = ""
		}
	}
}

func (repo *academyRepository) DeleteModule(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.acModules[id]; !ok {
		return academy.ErrModuleNotFound
	}
	repo.deleteModule(id)
	return nil
}

// Assignments

func (repo *academyRepository) CreateAssignment(_ context.Context, a academy.Assignment) (academy.Assignment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, other := range repo.db.assignments {
		if other.ModuleID == a.ModuleID && other.ClassID == a.ClassID {
			return *other, nil
		}
	}
	a.ID = newID()
	repo.db.assignments[a.ID] = &a
	return a, nil
}

func (repo *academyRepository) QueryAssignments(_ context.Context, filter academy.AssignmentFilter) ([]academy.Assignment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]academy.Assignment, 0)
	for _, a := range repo.db.assignments {
		if filter.ModuleID != "" && a.ModuleID != filter.ModuleID {
			continue
		}
		if filter.ClassIDs != nil && !contains(filter.ClassIDs, a.ClassID) {
			continue
		}
		res = append(res, *a)
	}
	return res, nil
}

func (repo *academyRepository) DeleteAssignment(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	delete(repo.db.assignments, id)
	return nil
}

// Resources

func (repo *academyRepository) CreateResource(_ context.Context, r academy.Resource) (academy.Resource, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	r.ID = newID()
	repo.db.resources[r.ID] = &r
	return r, nil
}

func (repo *academyRepository) QueryResources(_ context.Context, filter academy.ResourceFilter) ([]academy.Resource, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]academy.Resource, 0)
	for _, r := range repo.db.resources {
		if filter.AcademyID != "" && r.AcademyID != filter.AcademyID {
			continue
		}
		if filter.ClassID != "" && r.ClassID != filter.ClassID {
			continue
		}
		if filter.ModuleID != "" && r.ModuleID != filter.ModuleID {
			continue
		}
		res = append(res, *r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (repo *academyRepository) GetResource(_ context.Context, id string) (academy.Resource, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if r, ok := repo.db.resources[id]; ok {
		return *r, nil
	}
	return academy.Resource{}, academy.ErrResourceNotFound
}

func (repo *academyRepository) UpdateResource(_ context.Context, r academy.Resource) (academy.Resource, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.resources[r.ID]
	if !ok {
		return academy.Resource{}, academy.ErrResourceNotFound
	}
	r.AcademyID = orig.AcademyID
	r.CreatedBy = orig.CreatedBy
	r.CreatedAt = orig.CreatedAt
	repo.db.resources[r.ID] = &r
	return r, nil
}

func (repo *academyRepository) DeleteResource(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.resources[id]; !ok {
		return academy.ErrResourceNotFound
	}
	delete(repo.db.resources, id)
	return nil
}

// Evaluations

func (repo *academyRepository) CreateEvaluation(_ context.Context, e academy.Evaluation) (academy.Evaluation, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	e.ID = newID()
	repo.db.acEvals[e.ID] = &e
	return e, nil
}

func (repo *academyRepository) QueryEvaluations(_ context.Context, filter academy.EvaluationFilter) ([]academy.Evaluation, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]academy.Evaluation, 0)
	for _, e := range repo.db.acEvals {
		if filter.ModuleID != "" && e.ModuleID != filter.ModuleID {
			continue
		}
		// evaluator OR class
		if filter.EvaluatorID != "" || filter.ClassIDs != nil {
			byEvaluator := filter.EvaluatorID != "" && e.EvaluatorID == filter.EvaluatorID
			if !byEvaluator && !contains(filter.ClassIDs, e.ClassID) {
				continue
			}
		}
		res = append(res, *e)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (repo *academyRepository) GetEvaluation(_ context.Context, id string) (academy.Evaluation, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if e, ok := repo.db.acEvals[id]; ok {
		return *e, nil
	}
	return academy.Evaluation{}, academy.ErrEvaluationNotFound
}

func (repo *academyRepository) UpdateEvaluation(_ context.Context, e academy.Evaluation) (academy.Evaluation, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.acEvals[e.ID]
	if !ok {
		return academy.Evaluation{}, academy.ErrEvaluationNotFound
	}
	e.CreatedAt = orig.CreatedAt
	repo.db.acEvals[e.ID] = &e
	return e, nil
}

func (repo *academyRepository) deleteEvaluation(id string) {
	delete(repo.db.acEvals, id)
	for gID, g := range repo.db.grades {
		if g.EvaluationID == id {
			delete(repo.db.grades, gID)
		}
	}
}

func (repo *academyRepository) DeleteEvaluation(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.acEvals[id]; !ok {
		return academy.ErrEvaluationNotFound
	}
	repo.deleteEvaluation(id)
	return nil
}

// Grades

func (repo *academyRepository) UpsertGrade(_ context.Context, g academy.Grade) (academy.Grade, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.acEvals[g.EvaluationID]; !ok {
		return academy.Grade{}, academy.ErrEvaluationNotFound
	}
	for _, other := range repo.db.grades {
		if other.EvaluationID == g.EvaluationID && other.StudentID == g.StudentID {
			g.ID = other.ID
			*other = g
			return g, nil
		}
	}
	g.ID = newID()
	repo.db.grades[g.ID] = &g
	return g, nil
}

func (repo *academyRepository) QueryGrades(_ context.Context, evaluationID string) ([]academy.Grade, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]academy.Grade, 0)
	for _, g := range repo.db.grades {
		if g.EvaluationID == evaluationID {
			res = append(res, *g)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].GradedAt.Before(res[j].GradedAt) })
	return res, nil
}
