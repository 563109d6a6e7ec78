package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/rpconcours/concours/apps/api/echo"
	"github.com/rpconcours/concours/core/academy"
	"github.com/rpconcours/concours/core/candidate"
	"github.com/rpconcours/concours/core/contest"
	"github.com/rpconcours/concours/core/user"
	testutil "github.com/rpconcours/concours/tests"
)

type academyFixture struct {
	app Server

	admin, prof, otherProf, student     user.User
	adminToken, profToken, studentToken string

	academy academy.Academy
	class   academy.Class
	module  academy.Module
}

func newAcademyFixture(t *testing.T) academyFixture {
	t.Helper()
	f := academyFixture{app: setup(t)}
	f.admin = testutil.CreateUser(t, usrRepo, "Ella Stone", "estone", "estone@lspd.rp", "Passw0rd!", user.RoleAdmin, "", true)
	f.prof = testutil.CreateUser(t, usrRepo, "Sergent Hall", "shall", "shall@lspd.rp", "Passw0rd!", user.RoleCandidat, user.AcademyRoleProf, true)
	f.otherProf = testutil.CreateUser(t, usrRepo, "Sergent Cole", "scole", "scole@lspd.rp", "Passw0rd!", user.RoleCandidat, user.AcademyRoleProf, true)
	f.student = testutil.CreateUser(t, usrRepo, "Cadet Ray", "cray", "cray@lspd.rp", "Passw0rd!", user.RoleCandidat, user.AcademyRoleEtudiant, true)
	f.adminToken = getToken(t, f.admin)
	f.profToken = getToken(t, f.prof)
	f.studentToken = getToken(t, f.student)

	rec := do(t, f.app, http.MethodPost, "/api/academy/academies", f.adminToken, academy.NewAcademy{Name: "Académie LSPD"}, http.StatusCreated)
	unmarshal(t, rec, &f.academy)
	rec = do(t, f.app, http.MethodPost, "/api/academy/academies/"+f.academy.ID+"/classes", f.adminToken, academy.NewClass{Name: "Promotion 12"}, http.StatusCreated)
	unmarshal(t, rec, &f.class)
	rec = do(t, f.app, http.MethodPost, "/api/academy/academies/"+f.academy.ID+"/modules", f.adminToken, academy.NewModule{
		Title: "Procédures", ModuleType: contest.ModuleQCM, MaxScore: 20,
	}, http.StatusCreated)
	unmarshal(t, rec, &f.module)

	membersPath := "/api/academy/classes/" + f.class.ID + "/members"
	do(t, f.app, http.MethodPost, membersPath, f.adminToken, academy.NewMember{UserID: f.prof.ID, RoleInClass: academy.MemberProf}, http.StatusCreated)
	do(t, f.app, http.MethodPost, membersPath, f.adminToken, academy.NewMember{UserID: f.student.ID, RoleInClass: academy.MemberEtudiant}, http.StatusCreated)
	return f
}

func Test_academyApi_access(t *testing.T) {
	f := newAcademyFixture(t)
	outsider := testutil.CreateUser(t, usrRepo, "Tommy Vercetti", "tommy", "tommy@vc.rp", "Passw0rd!", user.RoleCandidat, "", true)

	tests := []httpTest{
		{"no token", http.MethodGet, "/api/academy/academies", nil, "", http.StatusUnauthorized, marchallObj(t, errMissingToken), nil},
		{"outsider", http.MethodGet, "/api/academy/academies", nil, getToken(t, outsider), http.StatusForbidden, marchallObj(t, errForbidden), nil},
		{"student lists academies", http.MethodGet, "/api/academy/academies", nil, f.studentToken, http.StatusOK, marchallList(t, f.academy), nil},
		{"student cannot manage", http.MethodPost, "/api/academy/academies", marchallObj(t, academy.NewAcademy{Name: "x"}), f.studentToken,
			http.StatusForbidden, marchallObj(t, errForbidden), nil},
		{"prof cannot manage classes", http.MethodGet, "/api/academy/classes/" + f.class.ID, nil, f.profToken, http.StatusForbidden, nil, nil},
		{"student cannot list evaluations", http.MethodGet, "/api/academy/evaluations", nil, f.studentToken, http.StatusForbidden, nil, nil},
		{"prof has no student view", http.MethodGet, "/api/academy/student/classes", nil, f.profToken, http.StatusForbidden, nil, nil},
		{"duplicate member", http.MethodPost, "/api/academy/classes/" + f.class.ID + "/members",
			marchallObj(t, academy.NewMember{UserID: f.student.ID, RoleInClass: academy.MemberEtudiant}), f.adminToken, http.StatusConflict, nil, nil},
		{"invalid member role", http.MethodPost, "/api/academy/classes/" + f.class.ID + "/members",
			marchallObj(t, academy.NewMember{UserID: outsider.ID, RoleInClass: "staff"}), f.adminToken, http.StatusBadRequest, nil, nil},
		{"student classes", http.MethodGet, "/api/academy/student/classes", nil, f.studentToken, http.StatusOK, marchallList(t, f.class), nil},
		{"teacher classes", http.MethodGet, "/api/academy/teacher/classes", nil, f.profToken, http.StatusOK, marchallList(t, f.class), nil},
		{"other teacher classes", http.MethodGet, "/api/academy/teacher/classes", nil, getToken(t, f.otherProf), http.StatusOK, marchallList(t), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			f.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_academyApi_assignmentsAndContests(t *testing.T) {
	f := newAcademyFixture(t)
	assignPath := "/api/academy/modules/" + f.module.ID + "/assignments"

	var c contest.Contest
	rec := do(t, f.app, http.MethodPost, "/api/contests", f.adminToken, contest.NewContest{
		Name: "Examen procédures", Type: contest.TypePrivate, AcademyModuleID: f.module.ID,
	}, http.StatusCreated)
	unmarshal(t, rec, &c)
	do(t, f.app, http.MethodPost, "/api/contests/"+c.ID+"/modules", f.adminToken, contest.NewModule{
		Title: "Questions", ModuleType: contest.ModuleOpenQuestion, MaxScore: 5,
	}, http.StatusCreated)
	do(t, f.app, http.MethodPut, "/api/contests/"+c.ID+"/status", f.adminToken, contest.SetStatus{Status: contest.StatusActive}, http.StatusOK)

	var scs []academy.StudentContest
	rec = do(t, f.app, http.MethodGet, "/api/academy/student/contests", f.studentToken, nil, http.StatusOK)
	unmarshal(t, rec, &scs)
	assert.Empty(t, scs)
	do(t, f.app, http.MethodPost, "/api/contests/"+c.ID+"/join-as-user", f.studentToken, nil, http.StatusForbidden)

	// assign
	var a academy.Assignment
	rec = do(t, f.app, http.MethodPost, assignPath, f.adminToken, academy.ToggleAssignment{ClassID: f.class.ID}, http.StatusCreated)
	unmarshal(t, rec, &a)
	assert.Equal(t, f.module.ID, a.ModuleID)
	assert.True(t, a.IsMandatory)

	var modules []academy.Module
	rec = do(t, f.app, http.MethodGet, "/api/academy/student/modules", f.studentToken, nil, http.StatusOK)
	unmarshal(t, rec, &modules)
	require.Len(t, modules, 1)
	assert.Equal(t, f.module.ID, modules[0].ID)

	rec = do(t, f.app, http.MethodGet, "/api/academy/student/contests", f.studentToken, nil, http.StatusOK)
	unmarshal(t, rec, &scs)
	require.Len(t, scs, 1)
	assert.Equal(t, c.ID, scs[0].ID)
	assert.Empty(t, scs[0].CandidateID)

	var teacherContests []contest.Contest
	rec = do(t, f.app, http.MethodGet, "/api/academy/teacher/contests", f.profToken, nil, http.StatusOK)
	unmarshal(t, rec, &teacherContests)
	require.Len(t, teacherContests, 1)
	assert.Equal(t, c.ID, teacherContests[0].ID)

	// students of the class may enter; others may not
	do(t, f.app, http.MethodPost, "/api/contests/"+c.ID+"/join-as-user", f.profToken, nil, http.StatusForbidden)
	var pr ParticipationResponse
	rec = do(t, f.app, http.MethodPost, "/api/contests/"+c.ID+"/join-as-user", f.studentToken, nil, http.StatusOK)
	unmarshal(t, rec, &pr)
	assert.Equal(t, f.student.ID, pr.State.Candidate.UserID)
	assert.Equal(t, candidate.StatusStarted, pr.State.Candidate.Status)
	do(t, f.app, http.MethodGet, "/api/participation", pr.Token, nil, http.StatusOK)

	rec = do(t, f.app, http.MethodGet, "/api/academy/student/contests", f.studentToken, nil, http.StatusOK)
	unmarshal(t, rec, &scs)
	require.Len(t, scs, 1)
	assert.Equal(t, pr.State.Candidate.ID, scs[0].CandidateID)
	assert.Equal(t, candidate.StatusStarted, scs[0].CandidateStatus)

	// unassign
	do(t, f.app, http.MethodPost, assignPath, f.adminToken, academy.ToggleAssignment{ClassID: f.class.ID}, http.StatusNoContent)
	var assigns []academy.Assignment
	rec = do(t, f.app, http.MethodGet, assignPath, f.adminToken, nil, http.StatusOK)
	unmarshal(t, rec, &assigns)
	assert.Empty(t, assigns)
	rec = do(t, f.app, http.MethodGet, "/api/academy/student/contests", f.studentToken, nil, http.StatusOK)
	unmarshal(t, rec, &scs)
	assert.Empty(t, scs)
	// the participation already started is kept
	do(t, f.app, http.MethodPost, "/api/contests/"+c.ID+"/join-as-user", f.studentToken, nil, http.StatusOK)

	t.Run("class of another academy", func(t *testing.T) {
		var other academy.Academy
		var otherClass academy.Class
		rec := do(t, f.app, http.MethodPost, "/api/academy/academies", f.adminToken, academy.NewAcademy{Name: "Académie BCSO"}, http.StatusCreated)
		unmarshal(t, rec, &other)
		rec = do(t, f.app, http.MethodPost, "/api/academy/academies/"+other.ID+"/classes", f.adminToken, academy.NewClass{Name: "Promotion 1"}, http.StatusCreated)
		unmarshal(t, rec, &otherClass)
		do(t, f.app, http.MethodPost, assignPath, f.adminToken, academy.ToggleAssignment{ClassID: otherClass.ID}, http.StatusBadRequest)
	})
}

func Test_academyApi_evaluations(t *testing.T) {
	f := newAcademyFixture(t)
	otherToken := getToken(t, f.otherProf)

	ne := academy.NewEvaluation{ModuleID: f.module.ID, ClassID: f.class.ID, Title: "Contrôle 1", TotalPoints: 20}
	do(t, f.app, http.MethodPost, "/api/academy/evaluations", otherToken, ne, http.StatusForbidden)
	do(t, f.app, http.MethodPost, "/api/academy/evaluations", f.profToken, academy.NewEvaluation{
		ModuleID: f.module.ID, ClassID: f.class.ID, Title: "Contrôle 1",
	}, http.StatusBadRequest)

	var e academy.Evaluation
	rec := do(t, f.app, http.MethodPost, "/api/academy/evaluations", f.profToken, ne, http.StatusCreated)
	unmarshal(t, rec, &e)
	assert.Equal(t, f.prof.ID, e.EvaluatorID)

	var evals []academy.Evaluation
	rec = do(t, f.app, http.MethodGet, "/api/academy/evaluations", f.profToken, nil, http.StatusOK)
	unmarshal(t, rec, &evals)
	require.Len(t, evals, 1)
	rec = do(t, f.app, http.MethodGet, "/api/academy/evaluations", otherToken, nil, http.StatusOK)
	unmarshal(t, rec, &evals)
	assert.Empty(t, evals)
	rec = do(t, f.app, http.MethodGet, "/api/academy/evaluations", f.adminToken, nil, http.StatusOK)
	unmarshal(t, rec, &evals)
	assert.Len(t, evals, 1)

	path := "/api/academy/evaluations/" + e.ID
	do(t, f.app, http.MethodGet, path, otherToken, nil, http.StatusForbidden)
	do(t, f.app, http.MethodGet, path, f.profToken, nil, http.StatusOK)

	score := func(v float64) *float64 { return &v }
	do(t, f.app, http.MethodPut, path+"/grades", f.profToken, academy.NewGrade{StudentID: f.student.ID, Score: score(21)}, http.StatusBadRequest)
	do(t, f.app, http.MethodPut, path+"/grades", f.profToken, academy.NewGrade{StudentID: f.otherProf.ID, Score: score(10)}, http.StatusBadRequest)
	do(t, f.app, http.MethodPut, path+"/grades", otherToken, academy.NewGrade{StudentID: f.student.ID, Score: score(10)}, http.StatusForbidden)

	var g academy.Grade
	rec = do(t, f.app, http.MethodPut, path+"/grades", f.profToken, academy.NewGrade{StudentID: f.student.ID, Score: score(12), Feedback: "Bien"}, http.StatusOK)
	unmarshal(t, rec, &g)
	assert.Equal(t, float64(12), g.Score)
	assert.Equal(t, f.prof.ID, g.GraderID)

	// regrading replaces the grade
	do(t, f.app, http.MethodPut, path+"/grades", f.adminToken, academy.NewGrade{StudentID: f.student.ID, Score: score(15)}, http.StatusOK)
	var grades []academy.Grade
	rec = do(t, f.app, http.MethodGet, path+"/grades", f.profToken, nil, http.StatusOK)
	unmarshal(t, rec, &grades)
	require.Len(t, grades, 1)
	assert.Equal(t, float64(15), grades[0].Score)
	assert.Equal(t, f.admin.ID, grades[0].GraderID)

	do(t, f.app, http.MethodDelete, path, f.profToken, nil, http.StatusNoContent)
	do(t, f.app, http.MethodGet, path, f.profToken, nil, http.StatusNotFound)
}

func Test_academyApi_studentViews(t *testing.T) {
	f := newAcademyFixture(t)

	var otherClass academy.Class
	rec := do(t, f.app, http.MethodPost, "/api/academy/academies/"+f.academy.ID+"/classes", f.adminToken, academy.NewClass{Name: "Promotion 13"}, http.StatusCreated)
	unmarshal(t, rec, &otherClass)

	resourcesPath := "/api/academy/academies/" + f.academy.ID + "/resources"
	var own, other academy.Resource
	rec = do(t, f.app, http.MethodPost, resourcesPath, f.adminToken, academy.NewResource{
		ClassID: f.class.ID, Title: "Planning P12", URL: "https://docs.lspd.rp/p12", Type: academy.ResourceLink, Visibility: academy.VisibilityClass,
	}, http.StatusCreated)
	unmarshal(t, rec, &own)
	rec = do(t, f.app, http.MethodPost, resourcesPath, f.adminToken, academy.NewResource{
		ClassID: otherClass.ID, Title: "Corrigé examen P13", URL: "https://docs.lspd.rp/p13", Type: academy.ResourceFile, Visibility: academy.VisibilityClass,
	}, http.StatusCreated)
	unmarshal(t, rec, &other)

	var resources []academy.Resource
	rec = do(t, f.app, http.MethodGet, "/api/academy/resources", f.studentToken, nil, http.StatusOK)
	unmarshal(t, rec, &resources)
	require.Len(t, resources, 1)
	assert.Equal(t, own.ID, resources[0].ID)

	rec = do(t, f.app, http.MethodGet, "/api/academy/resources?class_id="+otherClass.ID, f.studentToken, nil, http.StatusOK)
	unmarshal(t, rec, &resources)
	assert.Empty(t, resources)

	rec = do(t, f.app, http.MethodGet, "/api/academy/resources", f.adminToken, nil, http.StatusOK)
	unmarshal(t, rec, &resources)
	assert.Len(t, resources, 2)

	// a malformed filter is a bad request
	req, badRec := newAuthRequest(http.MethodGet, "/api/academy/resources", f.studentToken, []byte("{"))
	f.app.ServeHTTP(badRec, req)
	assert.Equal(t, http.StatusBadRequest, badRec.Code)

	// evaluations of the student's class, with their own grade only
	var e academy.Evaluation
	rec = do(t, f.app, http.MethodPost, "/api/academy/evaluations", f.profToken, academy.NewEvaluation{
		ModuleID: f.module.ID, ClassID: f.class.ID, Title: "Partiel", TotalPoints: 20,
	}, http.StatusCreated)
	unmarshal(t, rec, &e)
	do(t, f.app, http.MethodPost, "/api/academy/evaluations", f.adminToken, academy.NewEvaluation{
		ModuleID: f.module.ID, ClassID: otherClass.ID, Title: "Rattrapage", TotalPoints: 10,
	}, http.StatusCreated)

	classmate := testutil.CreateUser(t, usrRepo, "Cadet Lee", "clee", "clee@lspd.rp", "Passw0rd!", user.RoleCandidat, user.AcademyRoleEtudiant, true)
	do(t, f.app, http.MethodPost, "/api/academy/classes/"+f.class.ID+"/members", f.adminToken,
		academy.NewMember{UserID: classmate.ID, RoleInClass: academy.MemberEtudiant}, http.StatusCreated)

	studentScore, classmateScore := 16.0, 9.0
	gradesPath := "/api/academy/evaluations/" + e.ID + "/grades"
	do(t, f.app, http.MethodPut, gradesPath, f.profToken, academy.NewGrade{StudentID: classmate.ID, Score: &classmateScore}, http.StatusOK)
	do(t, f.app, http.MethodPut, gradesPath, f.profToken, academy.NewGrade{StudentID: f.student.ID, Score: &studentScore}, http.StatusOK)

	do(t, f.app, http.MethodGet, gradesPath, f.studentToken, nil, http.StatusForbidden)
	do(t, f.app, http.MethodGet, "/api/academy/student/evaluations", f.profToken, nil, http.StatusForbidden)

	var evals []academy.StudentEvaluation
	rec = do(t, f.app, http.MethodGet, "/api/academy/student/evaluations", f.studentToken, nil, http.StatusOK)
	unmarshal(t, rec, &evals)
	require.Len(t, evals, 1)
	assert.Equal(t, e.ID, evals[0].ID)
	require.NotNil(t, evals[0].Grade)
	assert.Equal(t, f.student.ID, evals[0].Grade.StudentID)
	assert.Equal(t, studentScore, evals[0].Grade.Score)
}
