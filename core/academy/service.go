package academy

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/candidate"
	"github.com/rpconcours/concours/core/contest"
	"github.com/rpconcours/concours/core/user"
)

var (
	// errors
	ErrNotFound           = core.NewNotFoundError("academy")
	ErrClassNotFound      = core.NewNotFoundError("class")
	ErrMemberNotFound     = core.NewNotFoundError("class member")
	ErrModuleNotFound     = core.NewNotFoundError("academy module")
	ErrResourceNotFound   = core.NewNotFoundError("resource")
	ErrEvaluationNotFound = core.NewNotFoundError("evaluation")
	ErrMemberExists       = core.NewConflictError("user is already a member of this class")
	ErrNotStudent         = core.NewValidationError(nil, core.FieldError{Field: "student_id", Error: "not a student of the evaluated class"})
	ErrNotTeacher         = core.NewPermissionError("not a teacher of this class")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		CreateAcademy(ctx context.Context, a Academy) (Academy, error)
		QueryAcademies(ctx context.Context) ([]Academy, error)
		GetAcademy(ctx context.Context, id string) (Academy, error)
		UpdateAcademy(ctx context.Context, a Academy) (Academy, error)
		DeleteAcademy(ctx context.Context, id string) error

		CreateClass(ctx context.Context, c Class) (Class, error)
		// QueryClasses returns matching classes, newest first.
		QueryClasses(ctx context.Context, filter ClassFilter) ([]Class, error)
		GetClass(ctx context.Context, id string) (Class, error)
		UpdateClass(ctx context.Context, c Class) (Class, error)
		DeleteClass(ctx context.Context, id string) error

		// AddMember returns ErrMemberExists when the user already belongs to the class.
		AddMember(ctx context.Context, m ClassMember) (ClassMember, error)
		QueryMembers(ctx context.Context, classID string) ([]ClassMember, error)
		GetMember(ctx context.Context, classID, userID string) (ClassMember, error)
		RemoveMember(ctx context.Context, classID, userID string) error

		// CreateModule appends the module after the last one of its academy when OrderPosition is 0.
		CreateModule(ctx context.Context, m Module) (Module, error)
		// QueryModules returns the modules of an academy, or those listed in ids, by position.
		QueryModules(ctx context.Context, academyID string, ids ...string) ([]Module, error)
		GetModule(ctx context.Context, id string) (Module, error)
		UpdateModule(ctx context.Context, m Module) (Module, error)
		DeleteModule(ctx context.Context, id string) error

		CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
		QueryAssignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error)
		DeleteAssignment(ctx context.Context, id string) error

		CreateResource(ctx context.Context, r Resource) (Resource, error)
		// QueryResources returns matching resources, newest first.
		QueryResources(ctx context.Context, filter ResourceFilter) ([]Resource, error)
		GetResource(ctx context.Context, id string) (Resource, error)
		UpdateResource(ctx context.Context, r Resource) (Resource, error)
		DeleteResource(ctx context.Context, id string) error

		CreateEvaluation(ctx context.Context, e Evaluation) (Evaluation, error)
		// QueryEvaluations returns matching evaluations, newest first.
		QueryEvaluations(ctx context.Context, filter EvaluationFilter) ([]Evaluation, error)
		GetEvaluation(ctx context.Context, id string) (Evaluation, error)
		UpdateEvaluation(ctx context.Context, e Evaluation) (Evaluation, error)
		DeleteEvaluation(ctx context.Context, id string) error

		// UpsertGrade saves the single grade of a student for an evaluation.
		UpsertGrade(ctx context.Context, g Grade) (Grade, error)
		QueryGrades(ctx context.Context, evaluationID string) ([]Grade, error)
	}

	ContestQuerier interface {
		Query(ctx context.Context, filter *contest.QueryFilter, ordering []core.DBOrdering) ([]contest.Contest, error)
	}

	// CandidateQuerier is satisfied by the candidate repository.
	CandidateQuerier interface {
		QueryCandidates(ctx context.Context, filter *candidate.QueryFilter, ordering []core.DBOrdering) ([]candidate.Candidate, error)
	}

	// StudentContest is a contest opened to a student through their classes.
	StudentContest struct {
		contest.Contest
		CandidateID     string `json:"candidate_id,omitempty"`
		CandidateStatus string `json:"candidate_status,omitempty"`
	}

	// StudentEvaluation is an evaluation as seen by one student: only their grade is attached.
	StudentEvaluation struct {
		Evaluation
		Grade *Grade `json:"grade,omitempty"`
	}

	Service struct {
		repo       Repository
		contests   ContestQuerier
		candidates CandidateQuerier
	}
)

func NewService(repo Repository, contests ContestQuerier, candidates CandidateQuerier) *Service {
	return &Service{
		repo:       repo,
		contests:   contests,
		candidates: candidates,
	}
}

// Academies

func (svc *Service) CreateAcademy(ctx context.Context, na NewAcademy) (Academy, error) {
	now := NowFunc().UTC()
	return svc.repo.CreateAcademy(ctx, Academy{
		Name:        na.Name,
		Description: na.Description,
		LogoURL:     na.LogoURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) QueryAcademies(ctx context.Context) ([]Academy, error) {
	return svc.repo.QueryAcademies(ctx)
}

func (svc *Service) GetAcademy(ctx context.Context, id string) (Academy, error) {
	return svc.repo.GetAcademy(ctx, id)
}

func (svc *Service) UpdateAcademy(ctx context.Context, a Academy, na NewAcademy) (Academy, error) {
	a.Name = na.Name
	a.Description = na.Description
	a.LogoURL = na.LogoURL
	a.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateAcademy(ctx, a)
}

func (svc *Service) DeleteAcademy(ctx context.Context, id string) error {
	return svc.repo.DeleteAcademy(ctx, id)
}

// Classes

func (svc *Service) CreateClass(ctx context.Context, academyID string, nc NewClass) (Class, error) {
	if _, err := svc.repo.GetAcademy(ctx, academyID); err != nil {
		return Class{}, err
	}
	now := NowFunc().UTC()
	return svc.repo.CreateClass(ctx, Class{
		AcademyID:   academyID,
		Name:        nc.Name,
		Description: nc.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) QueryClasses(ctx context.Context, academyID string) ([]Class, error) {
	return svc.repo.QueryClasses(ctx, ClassFilter{AcademyID: academyID})
}

func (svc *Service) GetClass(ctx context.Context, id string) (Class, error) {
	return svc.repo.GetClass(ctx, id)
}

func (svc *Service) UpdateClass(ctx context.Context, c Class, nc NewClass) (Class, error) {
	c.Name = nc.Name
	c.Description = nc.Description
	c.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateClass(ctx, c)
}

func (svc *Service) DeleteClass(ctx context.Context, id string) error {
	return svc.repo.DeleteClass(ctx, id)
}

// TeacherClasses returns the classes the user teaches.
func (svc *Service) TeacherClasses(ctx context.Context, userID string) ([]Class, error) {
	return svc.repo.QueryClasses(ctx, ClassFilter{MemberID: userID, RoleInClass: MemberProf})
}

// StudentClasses returns the classes the user studies in.
func (svc *Service) StudentClasses(ctx context.Context, userID string) ([]Class, error) {
	return svc.repo.QueryClasses(ctx, ClassFilter{MemberID: userID, RoleInClass: MemberEtudiant})
}

// CanTeach reports whether usr may manage the evaluations of the class:
// admins & academy staff always may, profs only in their own classes.
func (svc *Service) CanTeach(ctx context.Context, usr user.User, classID string) (bool, error) {
	if usr.IsAdmin() || usr.HasAcademyRole(user.AcademyRoleStaff) {
		return true, nil
	}
	m, err := svc.repo.GetMember(ctx, classID, usr.ID)
	if err != nil {
		if err == ErrMemberNotFound {
			return false, nil
		}
		return false, errors.Wrap(err, "getting class member")
	}
	return m.RoleInClass == MemberProf, nil
}

// Members

func (svc *Service) AddMember(ctx context.Context, classID string, nm NewMember) (ClassMember, error) {
	if _, err := svc.repo.GetClass(ctx, classID); err != nil {
		return ClassMember{}, err
	}
	return svc.repo.AddMember(ctx, ClassMember{
		ClassID:     classID,
		UserID:      nm.UserID,
		RoleInClass: nm.RoleInClass,
		CreatedAt:   NowFunc().UTC(),
	})
}

func (svc *Service) QueryMembers(ctx context.Context, classID string) ([]ClassMember, error) {
	return svc.repo.QueryMembers(ctx, classID)
}

func (svc *Service) RemoveMember(ctx context.Context, classID, userID string) error {
	return svc.repo.RemoveMember(ctx, classID, userID)
}

// Modules

func (svc *Service) CreateModule(ctx context.Context, academyID string, nm NewModule) (Module, error) {
	if _, err := svc.repo.GetAcademy(ctx, academyID); err != nil {
		return Module{}, err
	}
	isRequired := true
	if nm.IsRequired != nil {
		isRequired = *nm.IsRequired
	}
	return svc.repo.CreateModule(ctx, Module{
		AcademyID:     academyID,
		Title:         nm.Title,
		ModuleType:    nm.ModuleType,
		Description:   nm.Description,
		MaxScore:      nm.MaxScore,
		IsRequired:    isRequired,
		OrderPosition: nm.OrderPosition,
		CreatedAt:     NowFunc().UTC(),
	})
}

func (svc *Service) QueryModules(ctx context.Context, academyID string) ([]Module, error) {
	return svc.repo.QueryModules(ctx, academyID)
}

func (svc *Service) GetModule(ctx context.Context, id string) (Module, error) {
	return svc.repo.GetModule(ctx, id)
}

func (svc *Service) UpdateModule(ctx context.Context, m Module, nm NewModule) (Module, error) {
	m.Title = nm.Title
	m.ModuleType = nm.ModuleType
	m.Description = nm.Description
	m.MaxScore = nm.MaxScore
	if nm.IsRequired != nil {
		m.IsRequired = *nm.IsRequired
	}
	if nm.OrderPosition > 0 {
		m.OrderPosition = nm.OrderPosition
	}
	return svc.repo.UpdateModule(ctx, m)
}

func (svc *Service) DeleteModule(ctx context.Context, id string) error {
	return svc.repo.DeleteModule(ctx, id)
}

// Assignments

// ToggleAssignment assigns the module to the class when it is not yet, and removes the assignment otherwise.
// The returned Assignment is nil when the module got unassigned.
func (svc *Service) ToggleAssignment(ctx context.Context, m Module, ta ToggleAssignment) (*Assignment, error) {
	class, err := svc.repo.GetClass(ctx, ta.ClassID)
	if err != nil {
		return nil, err
	}
	if class.AcademyID != m.AcademyID {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "class belongs to another academy"})
	}

	existing, err := svc.repo.QueryAssignments(ctx, AssignmentFilter{ModuleID: m.ID, ClassIDs: []string{class.ID}})
	if err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	if len(existing) > 0 {
		return nil, svc.repo.DeleteAssignment(ctx, existing[0].ID)
	}

	isMandatory := true
	if ta.IsMandatory != nil {
		isMandatory = *ta.IsMandatory
	}
	a, err := svc.repo.CreateAssignment(ctx, Assignment{
		ModuleID:    m.ID,
		ClassID:     class.ID,
		StartAt:     ta.StartAt,
		EndAt:       ta.EndAt,
		IsMandatory: isMandatory,
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (svc *Service) QueryAssignments(ctx context.Context, moduleID string) ([]Assignment, error) {
	return svc.repo.QueryAssignments(ctx, AssignmentFilter{ModuleID: moduleID})
}

func classIDs(classes []Class) []string {
	ids := make([]string, len(classes))
	for i, c := range classes {
		ids[i] = c.ID
	}
	return ids
}

// assignedModuleIDs returns the distinct ids of the modules assigned to the classes.
func (svc *Service) assignedModuleIDs(ctx context.Context, classes []Class) ([]string, error) {
	if len(classes) == 0 {
		return nil, nil
	}
	assigns, err := svc.repo.QueryAssignments(ctx, AssignmentFilter{ClassIDs: classIDs(classes)})
	if err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	seen := make(map[string]bool, len(assigns))
	ids := make([]string, 0, len(assigns))
	for _, a := range assigns {
		if !seen[a.ModuleID] {
			seen[a.ModuleID] = true
			ids = append(ids, a.ModuleID)
		}
	}
	return ids, nil
}

// IsStudentAssigned reports whether the user is a student of a class the academy module is assigned to.
func (svc *Service) IsStudentAssigned(ctx context.Context, userID, moduleID string) (bool, error) {
	classes, err := svc.StudentClasses(ctx, userID)
	if err != nil {
		return false, errors.Wrap(err, "querying classes")
	}
	if len(classes) == 0 {
		return false, nil
	}
	assigns, err := svc.repo.QueryAssignments(ctx, AssignmentFilter{ModuleID: moduleID, ClassIDs: classIDs(classes)})
	if err != nil {
		return false, errors.Wrap(err, "querying assignments")
	}
	return len(assigns) > 0, nil
}

// StudentModules returns the modules assigned to the classes of the student.
func (svc *Service) StudentModules(ctx context.Context, userID string) ([]Module, error) {
	classes, err := svc.StudentClasses(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	ids, err := svc.assignedModuleIDs(ctx, classes)
	if err != nil || len(ids) == 0 {
		return []Module{}, err
	}
	return svc.repo.QueryModules(ctx, "", ids...)
}

// StudentContests returns the contests fed by modules assigned to the classes of the student,
// with the status of the student participation, if any.
func (svc *Service) StudentContests(ctx context.Context, userID string) ([]StudentContest, error) {
	classes, err := svc.StudentClasses(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	moduleIDs, err := svc.assignedModuleIDs(ctx, classes)
	if err != nil {
		return nil, err
	}
	res := make([]StudentContest, 0)
	if len(moduleIDs) == 0 {
		return res, nil
	}

	contests, err := svc.contests.Query(ctx, &contest.QueryFilter{AcademyModuleIDs: moduleIDs}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying contests")
	}
	cands, err := svc.candidates.QueryCandidates(ctx, &candidate.QueryFilter{UserID: userID}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying candidates")
	}
	byContest := make(map[string]candidate.Candidate, len(cands))
	for _, c := range cands {
		byContest[c.ContestID] = c
	}

	for _, c := range contests {
		sc := StudentContest{Contest: c}
		if cand, ok := byContest[c.ID]; ok {
			sc.CandidateID = cand.ID
			sc.CandidateStatus = cand.Status
		}
		res = append(res, sc)
	}
	return res, nil
}

// TeacherContests returns the contests fed by modules assigned to the classes the user teaches.
func (svc *Service) TeacherContests(ctx context.Context, userID string) ([]contest.Contest, error) {
	classes, err := svc.TeacherClasses(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	moduleIDs, err := svc.assignedModuleIDs(ctx, classes)
	if err != nil {
		return nil, err
	}
	if len(moduleIDs) == 0 {
		return []contest.Contest{}, nil
	}
	return svc.contests.Query(ctx, &contest.QueryFilter{AcademyModuleIDs: moduleIDs}, nil)
}

// Resources

func (svc *Service) CreateResource(ctx context.Context, academyID, creatorID string, nr NewResource) (Resource, error) {
	if _, err := svc.repo.GetAcademy(ctx, academyID); err != nil {
		return Resource{}, err
	}
	return svc.repo.CreateResource(ctx, Resource{
		AcademyID:  academyID,
		ClassID:    nr.ClassID,
		ModuleID:   nr.ModuleID,
		Title:      nr.Title,
		URL:        nr.URL,
		Type:       nr.Type,
		Visibility: nr.Visibility,
		CreatedBy:  creatorID,
		CreatedAt:  NowFunc().UTC(),
	})
}

// VisibleResources returns the resources matching filter that usr may see.
// Admins & academy staff see them all; class members see the class resources of their classes,
// the module resources of the modules assigned to their classes and the academy resources of their academies.
func (svc *Service) VisibleResources(ctx context.Context, usr user.User, filter ResourceFilter) ([]Resource, error) {
	resources, err := svc.repo.QueryResources(ctx, filter)
	if err != nil || usr.IsAdmin() || usr.HasAcademyRole(user.AcademyRoleStaff) {
		return resources, err
	}

	classes, err := svc.repo.QueryClasses(ctx, ClassFilter{MemberID: usr.ID})
	if err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	moduleIDs, err := svc.assignedModuleIDs(ctx, classes)
	if err != nil {
		return nil, err
	}
	inClass := make(map[string]bool, len(classes))
	inAcademy := make(map[string]bool)
	for _, c := range classes {
		inClass[c.ID] = true
		inAcademy[c.AcademyID] = true
	}
	inModule := make(map[string]bool, len(moduleIDs))
	for _, id := range moduleIDs {
		inModule[id] = true
	}

	visible := make([]Resource, 0, len(resources))
	for _, r := range resources {
		var ok bool
		switch r.Visibility {
		case VisibilityClass:
			ok = inClass[r.ClassID]
		case VisibilityModule:
			ok = inModule[r.ModuleID]
		case VisibilityAcademy:
			ok = inAcademy[r.AcademyID]
		}
		if ok {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

func (svc *Service) GetResource(ctx context.Context, id string) (Resource, error) {
	return svc.repo.GetResource(ctx, id)
}

func (svc *Service) UpdateResource(ctx context.Context, r Resource, nr NewResource) (Resource, error) {
	r.ClassID = nr.ClassID
	r.ModuleID = nr.ModuleID
	r.Title = nr.Title
	r.URL = nr.URL
	r.Type = nr.Type
	r.Visibility = nr.Visibility
	return svc.repo.UpdateResource(ctx, r)
}

func (svc *Service) DeleteResource(ctx context.Context, id string) error {
	return svc.repo.DeleteResource(ctx, id)
}

// Evaluations

func (svc *Service) CreateEvaluation(ctx context.Context, evaluatorID string, ne NewEvaluation) (Evaluation, error) {
	if _, err := svc.repo.GetModule(ctx, ne.ModuleID); err != nil {
		return Evaluation{}, err
	}
	if _, err := svc.repo.GetClass(ctx, ne.ClassID); err != nil {
		return Evaluation{}, err
	}
	return svc.repo.CreateEvaluation(ctx, Evaluation{
		ModuleID:    ne.ModuleID,
		ClassID:     ne.ClassID,
		Title:       ne.Title,
		Description: ne.Description,
		TotalPoints: ne.TotalPoints,
		EvaluatorID: evaluatorID,
		DueAt:       ne.DueAt,
		CreatedAt:   NowFunc().UTC(),
	})
}

// QueryEvaluations returns every evaluation for admins & academy staff,
// and for profs those they evaluate or that belong to the classes they teach.
func (svc *Service) QueryEvaluations(ctx context.Context, usr user.User) ([]Evaluation, error) {
	if usr.IsAdmin() || usr.HasAcademyRole(user.AcademyRoleStaff) {
		return svc.repo.QueryEvaluations(ctx, EvaluationFilter{})
	}
	classes, err := svc.TeacherClasses(ctx, usr.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	return svc.repo.QueryEvaluations(ctx, EvaluationFilter{EvaluatorID: usr.ID, ClassIDs: classIDs(classes)})
}

func (svc *Service) GetEvaluation(ctx context.Context, id string) (Evaluation, error) {
	return svc.repo.GetEvaluation(ctx, id)
}

func (svc *Service) UpdateEvaluation(ctx context.Context, e Evaluation, evaluatorID string, ne NewEvaluation) (Evaluation, error) {
	e.ModuleID = ne.ModuleID
	e.ClassID = ne.ClassID
	e.Title = ne.Title
	e.Description = ne.Description
	e.TotalPoints = ne.TotalPoints
	e.DueAt = ne.DueAt
	e.EvaluatorID = evaluatorID
	return svc.repo.UpdateEvaluation(ctx, e)
}

func (svc *Service) DeleteEvaluation(ctx context.Context, id string) error {
	return svc.repo.DeleteEvaluation(ctx, id)
}

// Grades

// SaveGrade upserts the grade of a student of the evaluated class; the score may not exceed the evaluation total points.
func (svc *Service) SaveGrade(ctx context.Context, e Evaluation, graderID string, ng NewGrade) (Grade, error) {
	if *ng.Score > e.TotalPoints {
		return Grade{}, core.NewValidationError(nil, core.FieldError{
			Field: "score",
			Error: fmt.Sprintf("score must be between 0 and %v", e.TotalPoints),
		})
	}
	m, err := svc.repo.GetMember(ctx, e.ClassID, ng.StudentID)
	if err != nil {
		if err == ErrMemberNotFound {
			return Grade{}, ErrNotStudent
		}
		return Grade{}, errors.Wrap(err, "getting class member")
	}
	if m.RoleInClass != MemberEtudiant {
		return Grade{}, ErrNotStudent
	}

	return svc.repo.UpsertGrade(ctx, Grade{
		EvaluationID: e.ID,
		StudentID:    ng.StudentID,
		Score:        *ng.Score,
		Feedback:     ng.Feedback,
		GraderID:     graderID,
		GradedAt:     NowFunc().UTC(),
	})
}

func (svc *Service) QueryGrades(ctx context.Context, evaluationID string) ([]Grade, error) {
	return svc.repo.QueryGrades(ctx, evaluationID)
}

// StudentEvaluations returns the evaluations of the classes the user studies in, each with the user's own grade, if any.
func (svc *Service) StudentEvaluations(ctx context.Context, userID string) ([]StudentEvaluation, error) {
	res := make([]StudentEvaluation, 0)
	classes, err := svc.StudentClasses(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	if len(classes) == 0 {
		return res, nil
	}
	evals, err := svc.repo.QueryEvaluations(ctx, EvaluationFilter{ClassIDs: classIDs(classes)})
	if err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}

	for _, e := range evals {
		se := StudentEvaluation{Evaluation: e}
		grades, err := svc.repo.QueryGrades(ctx, e.ID)
		if err != nil {
			return nil, errors.Wrap(err, "querying grades")
		}
		for _, g := range grades {
			if g.StudentID == userID {
				g := g
				se.Grade = &g
				break
			}
		}
		res = append(res, se)
	}
	return res, nil
}
