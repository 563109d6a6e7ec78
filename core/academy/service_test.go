package academy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/academy"
	"github.com/rpconcours/concours/core/candidate"
	"github.com/rpconcours/concours/core/contest"
	"github.com/rpconcours/concours/core/user"
	inmemdb "github.com/rpconcours/concours/storage/database/inmem"
	testutil "github.com/rpconcours/concours/tests"
)

var ctx = context.Background()

type fixture struct {
	svc      *academy.Service
	contests *contest.Service
	cands    candidate.Repository

	admin, staff, prof, student, outsider user.User

	academy academy.Academy
	class   academy.Class
	module  academy.Module
}

func setup(t *testing.T) fixture {
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	f := fixture{
		contests: contest.NewService(inmemdb.NewContestRepository(db)),
		cands:    inmemdb.NewCandidateRepository(db),
	}
	f.svc = academy.NewService(inmemdb.NewAcademyRepository(db), f.contests, f.cands)

	f.admin = testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@rp.test", "", user.RoleAdmin, "", true)
	f.staff = testutil.CreateUser(t, usrRepo, "Staff", "staff", "staff@rp.test", "", user.RoleCandidat, user.AcademyRoleStaff, true)
	f.prof = testutil.CreateUser(t, usrRepo, "Prof", "prof", "prof@rp.test", "", user.RoleCandidat, user.AcademyRoleProf, true)
	f.student = testutil.CreateUser(t, usrRepo, "Élève", "eleve", "eleve@rp.test", "", user.RoleCandidat, user.AcademyRoleEtudiant, true)
	f.outsider = testutil.CreateUser(t, usrRepo, "Autre", "autre", "autre@rp.test", "", user.RoleCandidat, user.AcademyRoleProf, true)

	var err error
	f.academy, err = f.svc.CreateAcademy(ctx, academy.NewAcademy{Name: "Académie de police"})
	require.NoError(t, err)
	f.class, err = f.svc.CreateClass(ctx, f.academy.ID, academy.NewClass{Name: "Promotion 2024"})
	require.NoError(t, err)
	f.module, err = f.svc.CreateModule(ctx, f.academy.ID, academy.NewModule{Title: "Procédure pénale", ModuleType: contest.ModuleQCM, MaxScore: 20})
	require.NoError(t, err)

	_, err = f.svc.AddMember(ctx, f.class.ID, academy.NewMember{UserID: f.prof.ID, RoleInClass: academy.MemberProf})
	require.NoError(t, err)
	_, err = f.svc.AddMember(ctx, f.class.ID, academy.NewMember{UserID: f.student.ID, RoleInClass: academy.MemberEtudiant})
	require.NoError(t, err)
	return f
}

func TestService_AddMember(t *testing.T) {
	f := setup(t)

	_, err := f.svc.AddMember(ctx, f.class.ID, academy.NewMember{UserID: f.student.ID, RoleInClass: academy.MemberProf})
	assert.Equal(t, academy.ErrMemberExists, err)

	_, err = f.svc.AddMember(ctx, "5b0e3f4c-2a8e-4d0c-8f5f-0c6d7d0a1e22", academy.NewMember{UserID: f.outsider.ID, RoleInClass: academy.MemberProf})
	assert.Equal(t, academy.ErrClassNotFound, err)

	members, err := f.svc.QueryMembers(ctx, f.class.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, f.svc.RemoveMember(ctx, f.class.ID, f.student.ID))
	classes, err := f.svc.StudentClasses(ctx, f.student.ID)
	require.NoError(t, err)
	assert.Empty(t, classes)
}

func TestService_CanTeach(t *testing.T) {
	f := setup(t)
	tests := []struct {
		name string
		usr  user.User
		want bool
	}{
		{"admin", f.admin, true},
		{"academy staff", f.staff, true},
		{"prof of the class", f.prof, true},
		{"student of the class", f.student, false},
		{"prof of another class", f.outsider, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.CanTeach(ctx, tt.usr, f.class.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_ToggleAssignment(t *testing.T) {
	f := setup(t)

	ok, err := f.svc.IsStudentAssigned(ctx, f.student.ID, f.module.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := f.svc.ToggleAssignment(ctx, f.module, academy.ToggleAssignment{ClassID: f.class.ID})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.True(t, a.IsMandatory)
	assert.Equal(t, f.class.ID, a.ClassID)

	ok, err = f.svc.IsStudentAssigned(ctx, f.student.ID, f.module.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	// profs are not students of the class
	ok, err = f.svc.IsStudentAssigned(ctx, f.prof.ID, f.module.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	modules, err := f.svc.StudentModules(ctx, f.student.ID)
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, f.module.ID, modules[0].ID)

	// toggling again unassigns
	a, err = f.svc.ToggleAssignment(ctx, f.module, academy.ToggleAssignment{ClassID: f.class.ID})
	require.NoError(t, err)
	assert.Nil(t, a)
	assigns, err := f.svc.QueryAssignments(ctx, f.module.ID)
	require.NoError(t, err)
	assert.Empty(t, assigns)
	ok, err = f.svc.IsStudentAssigned(ctx, f.student.ID, f.module.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	optional := false
	a, err = f.svc.ToggleAssignment(ctx, f.module, academy.ToggleAssignment{ClassID: f.class.ID, IsMandatory: &optional})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.False(t, a.IsMandatory)

	other, err := f.svc.CreateAcademy(ctx, academy.NewAcademy{Name: "Académie des pompiers"})
	require.NoError(t, err)
	otherClass, err := f.svc.CreateClass(ctx, other.ID, academy.NewClass{Name: "Caserne 1"})
	require.NoError(t, err)
	_, err = f.svc.ToggleAssignment(ctx, f.module, academy.ToggleAssignment{ClassID: otherClass.ID})
	assert.IsType(t, &core.ValidationError{}, err)
}

func TestService_contests(t *testing.T) {
	f := setup(t)

	c, err := f.contests.Create(ctx, contest.NewContest{Name: "Examen procédure", Type: contest.TypePrivate, AcademyModuleID: f.module.ID}, f.admin.ID)
	require.NoError(t, err)
	_, err = f.contests.Create(ctx, contest.NewContest{Name: "Hors académie", Type: contest.TypePublic}, f.admin.ID)
	require.NoError(t, err)

	scs, err := f.svc.StudentContests(ctx, f.student.ID)
	require.NoError(t, err)
	assert.Empty(t, scs)

	_, err = f.svc.ToggleAssignment(ctx, f.module, academy.ToggleAssignment{ClassID: f.class.ID})
	require.NoError(t, err)

	scs, err = f.svc.StudentContests(ctx, f.student.ID)
	require.NoError(t, err)
	require.Len(t, scs, 1)
	assert.Equal(t, c.ID, scs[0].ID)
	assert.Empty(t, scs[0].CandidateID)

	taught, err := f.svc.TeacherContests(ctx, f.prof.ID)
	require.NoError(t, err)
	require.Len(t, taught, 1)
	assert.Equal(t, c.ID, taught[0].ID)
	taught, err = f.svc.TeacherContests(ctx, f.outsider.ID)
	require.NoError(t, err)
	assert.Empty(t, taught)

	created, err := f.cands.CreateCandidates(ctx, candidate.Candidate{
		ContestID:  c.ID,
		UserID:     f.student.ID,
		Name:       f.student.FullName,
		Identifier: "ELEVE001",
		Status:     candidate.StatusStarted,
	})
	require.NoError(t, err)

	scs, err = f.svc.StudentContests(ctx, f.student.ID)
	require.NoError(t, err)
	require.Len(t, scs, 1)
	assert.Equal(t, created[0].ID, scs[0].CandidateID)
	assert.Equal(t, candidate.StatusStarted, scs[0].CandidateStatus)
}

func TestService_evaluations(t *testing.T) {
	f := setup(t)
	score := func(v float64) *float64 { return &v }

	e, err := f.svc.CreateEvaluation(ctx, f.prof.ID, academy.NewEvaluation{
		ModuleID: f.module.ID, ClassID: f.class.ID, Title: "Partiel", TotalPoints: 20,
	})
	require.NoError(t, err)

	// a second class the prof does not teach, evaluated by the admin
	otherClass, err := f.svc.CreateClass(ctx, f.academy.ID, academy.NewClass{Name: "Promotion 2025"})
	require.NoError(t, err)
	_, err = f.svc.CreateEvaluation(ctx, f.admin.ID, academy.NewEvaluation{
		ModuleID: f.module.ID, ClassID: otherClass.ID, Title: "Rattrapage", TotalPoints: 10,
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		usr  user.User
		want int
	}{
		{"admin sees all", f.admin, 2},
		{"staff sees all", f.staff, 2},
		{"prof sees own classes", f.prof, 1},
		{"prof without classes", f.outsider, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evals, err := f.svc.QueryEvaluations(ctx, tt.usr)
			require.NoError(t, err)
			assert.Len(t, evals, tt.want)
		})
	}

	_, err = f.svc.SaveGrade(ctx, e, f.prof.ID, academy.NewGrade{StudentID: f.student.ID, Score: score(20.5)})
	assert.IsType(t, &core.ValidationError{}, err)
	_, err = f.svc.SaveGrade(ctx, e, f.prof.ID, academy.NewGrade{StudentID: f.prof.ID, Score: score(10)})
	assert.Equal(t, academy.ErrNotStudent, err)
	_, err = f.svc.SaveGrade(ctx, e, f.prof.ID, academy.NewGrade{StudentID: f.outsider.ID, Score: score(10)})
	assert.Equal(t, academy.ErrNotStudent, err)

	g, err := f.svc.SaveGrade(ctx, e, f.prof.ID, academy.NewGrade{StudentID: f.student.ID, Score: score(12), Feedback: "Correct"})
	require.NoError(t, err)
	regraded, err := f.svc.SaveGrade(ctx, e, f.admin.ID, academy.NewGrade{StudentID: f.student.ID, Score: score(15)})
	require.NoError(t, err)
	assert.Equal(t, g.ID, regraded.ID)

	grades, err := f.svc.QueryGrades(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.Equal(t, float64(15), grades[0].Score)
	assert.Equal(t, f.admin.ID, grades[0].GraderID)
	assert.Empty(t, grades[0].Feedback)
}

func TestService_VisibleResources(t *testing.T) {
	f := setup(t)

	otherClass, err := f.svc.CreateClass(ctx, f.academy.ID, academy.NewClass{Name: "Promotion 2025"})
	require.NoError(t, err)
	unassigned, err := f.svc.CreateModule(ctx, f.academy.ID, academy.NewModule{Title: "Balistique", ModuleType: contest.ModuleQCM, MaxScore: 20})
	require.NoError(t, err)
	otherAcademy, err := f.svc.CreateAcademy(ctx, academy.NewAcademy{Name: "Académie des pompiers"})
	require.NoError(t, err)
	_, err = f.svc.ToggleAssignment(ctx, f.module, academy.ToggleAssignment{ClassID: f.class.ID})
	require.NoError(t, err)

	create := func(academyID string, nr academy.NewResource) academy.Resource {
		nr.URL = "https://docs.rp.test/" + nr.Title
		nr.Type = academy.ResourceLink
		r, err := f.svc.CreateResource(ctx, academyID, f.admin.ID, nr)
		require.NoError(t, err)
		return r
	}
	own := []academy.Resource{
		create(f.academy.ID, academy.NewResource{Title: "planning", ClassID: f.class.ID, Visibility: academy.VisibilityClass}),
		create(f.academy.ID, academy.NewResource{Title: "cours", ModuleID: f.module.ID, Visibility: academy.VisibilityModule}),
		create(f.academy.ID, academy.NewResource{Title: "reglement", Visibility: academy.VisibilityAcademy}),
	}
	create(f.academy.ID, academy.NewResource{Title: "corrige", ClassID: otherClass.ID, Visibility: academy.VisibilityClass})
	create(f.academy.ID, academy.NewResource{Title: "balistique", ModuleID: unassigned.ID, Visibility: academy.VisibilityModule})
	create(otherAcademy.ID, academy.NewResource{Title: "caserne", Visibility: academy.VisibilityAcademy})

	ids := func(resources []academy.Resource) []string {
		res := make([]string, 0, len(resources))
		for _, r := range resources {
			res = append(res, r.ID)
		}
		return res
	}

	tests := []struct {
		name string
		usr  user.User
		want int
	}{
		{"admin sees all", f.admin, 6},
		{"staff sees all", f.staff, 6},
		{"student sees own class, modules & academy", f.student, 3},
		{"prof sees own class, modules & academy", f.prof, 3},
		{"no class, nothing", f.outsider, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resources, err := f.svc.VisibleResources(ctx, tt.usr, academy.ResourceFilter{})
			require.NoError(t, err)
			assert.Len(t, resources, tt.want)
			if tt.want == len(own) {
				assert.ElementsMatch(t, ids(own), ids(resources))
			}
		})
	}

	resources, err := f.svc.VisibleResources(ctx, f.student, academy.ResourceFilter{ClassID: otherClass.ID})
	require.NoError(t, err)
	assert.Empty(t, resources)
	resources, err = f.svc.VisibleResources(ctx, f.student, academy.ResourceFilter{ClassID: f.class.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{own[0].ID}, ids(resources))
}

func TestService_StudentEvaluations(t *testing.T) {
	f := setup(t)
	score := func(v float64) *float64 { return &v }

	_, err := f.svc.AddMember(ctx, f.class.ID, academy.NewMember{UserID: f.outsider.ID, RoleInClass: academy.MemberEtudiant})
	require.NoError(t, err)
	otherClass, err := f.svc.CreateClass(ctx, f.academy.ID, academy.NewClass{Name: "Promotion 2025"})
	require.NoError(t, err)

	e, err := f.svc.CreateEvaluation(ctx, f.prof.ID, academy.NewEvaluation{
		ModuleID: f.module.ID, ClassID: f.class.ID, Title: "Partiel", TotalPoints: 20,
	})
	require.NoError(t, err)
	_, err = f.svc.CreateEvaluation(ctx, f.admin.ID, academy.NewEvaluation{
		ModuleID: f.module.ID, ClassID: otherClass.ID, Title: "Rattrapage", TotalPoints: 10,
	})
	require.NoError(t, err)

	evals, err := f.svc.StudentEvaluations(ctx, f.student.ID)
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, e.ID, evals[0].ID)
	assert.Nil(t, evals[0].Grade, "not graded yet")

	_, err = f.svc.SaveGrade(ctx, e, f.prof.ID, academy.NewGrade{StudentID: f.outsider.ID, Score: score(8)})
	require.NoError(t, err)
	_, err = f.svc.SaveGrade(ctx, e, f.prof.ID, academy.NewGrade{StudentID: f.student.ID, Score: score(14), Feedback: "Bien"})
	require.NoError(t, err)

	evals, err = f.svc.StudentEvaluations(ctx, f.student.ID)
	require.NoError(t, err)
	require.Len(t, evals, 1)
	require.NotNil(t, evals[0].Grade)
	assert.Equal(t, f.student.ID, evals[0].Grade.StudentID)
	assert.Equal(t, float64(14), evals[0].Grade.Score)

	evals, err = f.svc.StudentEvaluations(ctx, f.outsider.ID)
	require.NoError(t, err)
	require.Len(t, evals, 1)
	require.NotNil(t, evals[0].Grade)
	assert.Equal(t, float64(8), evals[0].Grade.Score)

	evals, err = f.svc.StudentEvaluations(ctx, f.prof.ID)
	require.NoError(t, err)
	assert.Empty(t, evals, "profs are not students of their class")
}
