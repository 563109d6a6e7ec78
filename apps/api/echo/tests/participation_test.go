package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/rpconcours/concours/apps/api/echo"
	"github.com/rpconcours/concours/core/candidate"
	"github.com/rpconcours/concours/core/contest"
	"github.com/rpconcours/concours/core/user"
	testutil "github.com/rpconcours/concours/tests"
)

func Test_participationApi_fullRun(t *testing.T) {
	app := setup(t)
	staff := testutil.CreateUser(t, usrRepo, "Jean Martin", "jmartin", "jmartin@lspd.rp", "Passw0rd!", user.RoleResponsable, "", true)
	staffToken := getToken(t, staff)

	c, qcm, open := createQCMContest(t, app, staffToken)

	var wc candidate.WithCredentials
	rec := do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/candidates", staffToken, candidate.NewCandidate{Name: "Tony Vercetti"}, http.StatusCreated)
	unmarshal(t, rec, &wc)
	require.Len(t, wc.Credentials.Identifier, 8)
	require.Len(t, wc.Credentials.Password, 8)

	login := candidate.LoginRequest{Identifier: wc.Credentials.Identifier, Password: wc.Credentials.Password}

	// the contest is still a draft
	do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/login", "", login, http.StatusConflict)
	do(t, app, http.MethodPut, "/api/contests/"+c.ID+"/status", staffToken, contest.SetStatus{Status: contest.StatusActive}, http.StatusOK)

	do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/login", "", candidate.LoginRequest{
		Identifier: login.Identifier, Password: "wrong-pwd",
	}, http.StatusBadRequest)

	var pr ParticipationResponse
	rec = do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/login", "", login, http.StatusOK)
	unmarshal(t, rec, &pr)
	require.NotEmpty(t, pr.Token)
	assert.Equal(t, candidate.StatusStarted, pr.State.Candidate.Status)
	assert.Equal(t, 0, pr.State.ModuleIndex)
	assert.Equal(t, 2, pr.State.ModuleCount)
	require.NotNil(t, pr.State.Module)
	require.Len(t, pr.State.Module.Questions, 1)
	assert.Equal(t, qcm.ID, pr.State.Module.Questions[0].ID)
	assert.NotNil(t, pr.State.Deadline)
	candToken := pr.Token

	t.Run("tokens", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/api/participation")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)

		do(t, app, http.MethodGet, "/api/participation", staffToken, nil, http.StatusUnauthorized)
		// a candidate token does not open staff routes
		do(t, app, http.MethodGet, "/api/contests/"+c.ID, candToken, nil, http.StatusUnauthorized)
	})

	var right, wrong contest.Option
	for _, o := range qcm.Options {
		if o.IsCorrect {
			right = o
		} else {
			wrong = o
		}
	}

	// answers are only taken for the current module; the last one wins
	do(t, app, http.MethodPut, "/api/participation/answers/"+open.ID, candToken, candidate.AnswerRequest{Value: "..."}, http.StatusConflict)
	do(t, app, http.MethodPut, "/api/participation/answers/"+qcm.ID, candToken, candidate.AnswerRequest{Value: "unknown"}, http.StatusBadRequest)
	do(t, app, http.MethodPut, "/api/participation/answers/"+qcm.ID, candToken, candidate.AnswerRequest{Value: wrong.ID}, http.StatusOK)
	var resp candidate.Response
	rec = do(t, app, http.MethodPut, "/api/participation/answers/"+qcm.ID, candToken, candidate.AnswerRequest{Value: right.ID}, http.StatusOK)
	unmarshal(t, rec, &resp)
	assert.Equal(t, right.ID, resp.SelectedOptionID)
	assert.Nil(t, resp.IsCorrect)

	// modules left: submitting is refused
	do(t, app, http.MethodPost, "/api/participation/submit", candToken, nil, http.StatusConflict)

	var st candidate.State
	rec = do(t, app, http.MethodPost, "/api/participation/next-module", candToken, nil, http.StatusOK)
	unmarshal(t, rec, &st)
	assert.Equal(t, 1, st.ModuleIndex)
	assert.Nil(t, st.Deadline)
	assert.Equal(t, right.ID, st.Answers[qcm.ID])

	do(t, app, http.MethodPut, "/api/participation/answers/"+qcm.ID, candToken, candidate.AnswerRequest{Value: wrong.ID}, http.StatusConflict)
	do(t, app, http.MethodPut, "/api/participation/answers/"+open.ID, candToken, candidate.AnswerRequest{Value: "Je sécurise le périmètre."}, http.StatusOK)

	var last candidate.State
	rec = do(t, app, http.MethodPost, "/api/participation/next-module", candToken, nil, http.StatusOK)
	unmarshal(t, rec, &last)
	assert.True(t, last.AwaitingSubmit)
	assert.Nil(t, last.Module)

	// results are not available before submission
	do(t, app, http.MethodPost, "/api/results", "", login, http.StatusConflict)

	var cand candidate.Candidate
	rec = do(t, app, http.MethodPost, "/api/participation/submit", candToken, nil, http.StatusOK)
	unmarshal(t, rec, &cand)
	assert.Equal(t, candidate.StatusCompleted, cand.Status)
	assert.NotNil(t, cand.CompletedAt)
	assert.Equal(t, float64(0), cand.TotalScore)

	do(t, app, http.MethodPost, "/api/participation/submit", candToken, nil, http.StatusConflict)
	do(t, app, http.MethodPut, "/api/participation/answers/"+open.ID, candToken, candidate.AnswerRequest{Value: "trop tard"}, http.StatusConflict)
	// logging back in does not reopen the participation
	do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/login", "", login, http.StatusConflict)

	var details []candidate.ResponseDetail
	rec = do(t, app, http.MethodGet, "/api/candidates/"+cand.ID+"/responses", staffToken, nil, http.StatusOK)
	unmarshal(t, rec, &details)
	require.Len(t, details, 2)
	assert.Equal(t, qcm.ID, details[0].QuestionID)
	require.NotNil(t, details[0].IsCorrect)
	assert.True(t, *details[0].IsCorrect)
	assert.Equal(t, open.ID, details[1].QuestionID)
	assert.Equal(t, "Je sécurise le périmètre.", details[1].ResponseText)

	score := func(v float64) *float64 { return &v }
	var gr candidate.GradeResult

	do(t, app, http.MethodPut, "/api/responses/"+details[0].ID+"/evaluation", staffToken, candidate.NewGrade{Score: score(5)}, http.StatusBadRequest)
	do(t, app, http.MethodPut, "/api/responses/"+details[0].ID+"/evaluation", staffToken, candidate.NewGrade{}, http.StatusBadRequest)

	rec = do(t, app, http.MethodPut, "/api/responses/"+details[0].ID+"/evaluation", staffToken, candidate.NewGrade{Score: score(4)}, http.StatusOK)
	unmarshal(t, rec, &gr)
	assert.Equal(t, float64(4), gr.Candidate.TotalScore)
	assert.Equal(t, candidate.StatusCompleted, gr.Candidate.Status)
	assert.Equal(t, staff.ID, gr.Evaluation.EvaluatorID)
	assert.True(t, gr.Evaluation.IsFinal)

	rec = do(t, app, http.MethodPut, "/api/responses/"+details[1].ID+"/evaluation", staffToken, candidate.NewGrade{Score: score(3), Feedback: "Manque de précision"}, http.StatusOK)
	unmarshal(t, rec, &gr)
	assert.Equal(t, float64(7), gr.Candidate.TotalScore)
	assert.Equal(t, candidate.StatusEvaluated, gr.Candidate.Status)
	require.NotNil(t, gr.Candidate.FinalGrade)
	assert.Equal(t, float64(14), *gr.Candidate.FinalGrade)

	// regrading replaces the previous evaluation
	rec = do(t, app, http.MethodPut, "/api/responses/"+details[1].ID+"/evaluation", staffToken, candidate.NewGrade{Score: score(6)}, http.StatusOK)
	unmarshal(t, rec, &gr)
	assert.Equal(t, float64(10), gr.Candidate.TotalScore)
	assert.Equal(t, candidate.StatusEvaluated, gr.Candidate.Status)

	var res candidate.Result
	rec = do(t, app, http.MethodPost, "/api/results", "", login, http.StatusOK)
	unmarshal(t, rec, &res)
	assert.Equal(t, float64(20), res.Grade)
	assert.Equal(t, float64(10), res.MaxPoints)
	assert.Equal(t, c.ID, res.ContestID)
	require.Len(t, res.Responses, 2)
	assert.Empty(t, res.Responses[1].Feedback)

	do(t, app, http.MethodPost, "/api/results", "", candidate.LoginRequest{Identifier: login.Identifier, Password: "nope"}, http.StatusBadRequest)

	var stats candidate.Statistics
	rec = do(t, app, http.MethodGet, "/api/contests/"+c.ID+"/statistics", staffToken, nil, http.StatusOK)
	unmarshal(t, rec, &stats)
	assert.Equal(t, 1, stats.TotalCandidates)
}

func Test_participationApi_joinPublic(t *testing.T) {
	app := setup(t)
	staff := testutil.CreateUser(t, usrRepo, "Jean Martin", "jmartin", "jmartin@lspd.rp", "Passw0rd!", user.RoleResponsable, "", true)
	staffToken := getToken(t, staff)

	var c contest.Contest
	rec := do(t, app, http.MethodPost, "/api/contests", staffToken, contest.NewContest{Name: "Portes ouvertes", Type: contest.TypePublic}, http.StatusCreated)
	unmarshal(t, rec, &c)
	do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/modules", staffToken, contest.NewModule{
		Title: "Culture générale", ModuleType: contest.ModuleOpenQuestion, MaxScore: 5,
	}, http.StatusCreated)

	join := candidate.JoinRequest{FirstName: "Carl", LastName: "Johnson"}
	do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/join", "", join, http.StatusConflict)
	do(t, app, http.MethodPut, "/api/contests/"+c.ID+"/status", staffToken, contest.SetStatus{Status: contest.StatusActive}, http.StatusOK)

	do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/join", "", candidate.JoinRequest{FirstName: "Carl"}, http.StatusBadRequest)

	var first, second ParticipationResponse
	rec = do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/join", "", join, http.StatusCreated)
	unmarshal(t, rec, &first)
	require.NotNil(t, first.Credentials)
	assert.Equal(t, "carl-johnson", first.Credentials.Identifier)
	assert.Equal(t, candidate.StatusStarted, first.State.Candidate.Status)

	// joining again resumes the same participation
	rec = do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/join", "", join, http.StatusOK)
	unmarshal(t, rec, &second)
	assert.Nil(t, second.Credentials)
	assert.Equal(t, first.State.Candidate.ID, second.State.Candidate.ID)

	// the durable credentials work for the results lookup once submitted
	do(t, app, http.MethodPost, "/api/participation/next-module", second.Token, nil, http.StatusOK)
	do(t, app, http.MethodPost, "/api/participation/submit", second.Token, nil, http.StatusOK)
	var res candidate.Result
	rec = do(t, app, http.MethodPost, "/api/results", "", candidate.LoginRequest{
		Identifier: first.Credentials.Identifier, Password: first.Credentials.Password,
	}, http.StatusOK)
	unmarshal(t, rec, &res)
	assert.Equal(t, first.State.Candidate.ID, res.Candidate.ID)
}
