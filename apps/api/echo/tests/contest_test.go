package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/rpconcours/concours/apps/api/echo"
	"github.com/rpconcours/concours/core/contest"
	"github.com/rpconcours/concours/core/user"
	testutil "github.com/rpconcours/concours/tests"
)

func Test_contestApi_agencies(t *testing.T) {
	app := setup(t)
	staff := testutil.CreateUser(t, usrRepo, "Jean Martin", "jmartin", "jmartin@lspd.rp", "Passw0rd!", user.RoleResponsable, "", true)
	cand := testutil.CreateUser(t, usrRepo, "Tommy Vercetti", "tommy", "tommy@vc.rp", "Passw0rd!", user.RoleCandidat, "", true)
	token := getToken(t, staff)

	tests := []httpTest{
		{"no token", http.MethodGet, "/api/agencies", nil, "", http.StatusUnauthorized, marchallObj(t, errMissingToken), nil},
		{"not staff", http.MethodGet, "/api/agencies", nil, getToken(t, cand), http.StatusForbidden, marchallObj(t, errForbidden), nil},
		{"empty", http.MethodGet, "/api/agencies", nil, token, http.StatusOK, marchallList(t), nil},
		{"name required", http.MethodPost, "/api/agencies", marchallObj(t, contest.NewAgency{Description: "..."}), token, http.StatusBadRequest,
			marchallObj(t, map[string]string{"name": "this field is required"}), nil},
		{"unknown", http.MethodGet, "/api/agencies/f4b2c3a1-0000-4000-8000-000000000000", nil, token, http.StatusNotFound, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	var a contest.Agency
	rec := do(t, app, http.MethodPost, "/api/agencies", token, contest.NewAgency{
		Name: "  LSPD ", DirectorName: "Chef Parker", Specialties: []string{"patrouille", " ", "SWAT"},
	}, http.StatusCreated)
	unmarshal(t, rec, &a)
	assert.Equal(t, "LSPD", a.Name)
	assert.Equal(t, []string{"patrouille", "SWAT"}, a.Specialties)

	rec = do(t, app, http.MethodPut, "/api/agencies/"+a.ID, token, contest.NewAgency{Name: "LSPD", DirectorName: "Chef Grant"}, http.StatusOK)
	unmarshal(t, rec, &a)
	assert.Equal(t, "Chef Grant", a.DirectorName)

	var c contest.Contest
	rec = do(t, app, http.MethodPost, "/api/contests", token, contest.NewContest{Name: "Recrutement", Type: contest.TypePublic, AgencyID: a.ID}, http.StatusCreated)
	unmarshal(t, rec, &c)
	rec = do(t, app, http.MethodGet, "/api/contests/"+c.ID, token, nil, http.StatusOK)
	unmarshal(t, rec, &c)
	require.NotNil(t, c.Agency)
	assert.Equal(t, a.ID, c.Agency.ID)

	do(t, app, http.MethodDelete, "/api/agencies/"+a.ID, token, nil, http.StatusNoContent)
	do(t, app, http.MethodGet, "/api/agencies/"+a.ID, token, nil, http.StatusNotFound)
	// contests outlive their agency
	var orphan contest.Contest
	rec = do(t, app, http.MethodGet, "/api/contests/"+c.ID, token, nil, http.StatusOK)
	unmarshal(t, rec, &orphan)
	assert.Nil(t, orphan.Agency)
}

func Test_contestApi_create(t *testing.T) {
	app := setup(t)
	staff := testutil.CreateUser(t, usrRepo, "Jean Martin", "jmartin", "jmartin@lspd.rp", "Passw0rd!", user.RoleResponsable, "", true)
	token := getToken(t, staff)

	tests := []httpTest{
		{"required fields", http.MethodPost, "/api/contests", marchallObj(t, contest.NewContest{}), token, http.StatusBadRequest,
			marchallObj(t, map[string]string{"name": "this field is required", "type": "this field is required"}), nil},
		{"unknown agency", http.MethodPost, "/api/contests",
			marchallObj(t, contest.NewContest{Name: "x", Type: contest.TypePrivate, AgencyID: "f4b2c3a1-0000-4000-8000-000000000000"}),
			token, http.StatusBadRequest, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	var priv, pub contest.Contest
	rec := do(t, app, http.MethodPost, "/api/contests", token, contest.NewContest{Name: "Privé", Type: contest.TypePrivate}, http.StatusCreated)
	unmarshal(t, rec, &priv)
	assert.Equal(t, contest.StatusDraft, priv.Status)
	assert.Equal(t, staff.ID, priv.CreatedBy)
	assert.NotEmpty(t, priv.AccessLink)

	rec = do(t, app, http.MethodPost, "/api/contests", token, contest.NewContest{Name: "Public", Type: contest.TypePublic}, http.StatusCreated)
	unmarshal(t, rec, &pub)
	assert.Empty(t, pub.AccessLink)

	var list []contest.Contest
	rec = do(t, app, http.MethodGet, "/api/contests?type=private", token, nil, http.StatusOK)
	unmarshal(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, priv.ID, list[0].ID)

	do(t, app, http.MethodDelete, "/api/contests/"+priv.ID, token, nil, http.StatusNoContent)
	do(t, app, http.MethodGet, "/api/contests/"+priv.ID, token, nil, http.StatusNotFound)
}

func Test_contestApi_status(t *testing.T) {
	app := setup(t)
	staff := testutil.CreateUser(t, usrRepo, "Jean Martin", "jmartin", "jmartin@lspd.rp", "Passw0rd!", user.RoleResponsable, "", true)
	token := getToken(t, staff)

	var c contest.Contest
	rec := do(t, app, http.MethodPost, "/api/contests", token, contest.NewContest{Name: "Recrutement", Type: contest.TypePrivate}, http.StatusCreated)
	unmarshal(t, rec, &c)
	path := "/api/contests/" + c.ID + "/status"

	do(t, app, http.MethodPut, path, token, contest.SetStatus{Status: "paused"}, http.StatusBadRequest)
	do(t, app, http.MethodPut, path, token, contest.SetStatus{Status: contest.StatusClosed}, http.StatusConflict)

	steps := []struct {
		status   string
		wantCode int
	}{
		{contest.StatusActive, http.StatusOK},
		{contest.StatusActive, http.StatusOK}, // no-op
		{contest.StatusDraft, http.StatusConflict},
		{contest.StatusClosed, http.StatusOK},
		{contest.StatusActive, http.StatusOK},
		{contest.StatusClosed, http.StatusOK},
		{contest.StatusArchived, http.StatusOK},
		{contest.StatusActive, http.StatusConflict},
	}
	for _, s := range steps {
		rec = do(t, app, http.MethodPut, path, token, contest.SetStatus{Status: s.status}, s.wantCode)
		if s.wantCode == http.StatusOK {
			unmarshal(t, rec, &c)
			assert.Equal(t, s.status, c.Status)
		}
	}
}

func Test_contestApi_modules(t *testing.T) {
	app := setup(t)
	staff := testutil.CreateUser(t, usrRepo, "Jean Martin", "jmartin", "jmartin@lspd.rp", "Passw0rd!", user.RoleResponsable, "", true)
	token := getToken(t, staff)

	c, qcm, open := createQCMContest(t, app, token)

	var modules []contest.Module
	rec := do(t, app, http.MethodGet, "/api/contests/"+c.ID+"/modules", token, nil, http.StatusOK)
	unmarshal(t, rec, &modules)
	require.Len(t, modules, 2)
	assert.Equal(t, 1, modules[0].OrderPosition)
	assert.Equal(t, 2, modules[1].OrderPosition)
	assert.Equal(t, qcm.ModuleID, modules[0].ID)

	do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/modules", token, contest.NewModule{Title: "x", ModuleType: "dance"}, http.StatusBadRequest)
	do(t, app, http.MethodPost, "/api/modules/"+modules[0].ID+"/questions", token, contest.NewQuestion{
		Content: "QCM sans options", QuestionType: contest.ModuleQCM, Points: 1,
	}, http.StatusBadRequest)

	t.Run("reorder", func(t *testing.T) {
		path := "/api/contests/" + c.ID + "/modules/order"
		do(t, app, http.MethodPut, path, token, contest.ReorderModules{ModuleIDs: []string{modules[0].ID}}, http.StatusBadRequest)
		do(t, app, http.MethodPut, path, token, contest.ReorderModules{ModuleIDs: []string{modules[0].ID, modules[0].ID}}, http.StatusBadRequest)

		var reordered []contest.Module
		rec := do(t, app, http.MethodPut, path, token, contest.ReorderModules{ModuleIDs: []string{modules[1].ID, modules[0].ID}}, http.StatusOK)
		unmarshal(t, rec, &reordered)
		require.Len(t, reordered, 2)
		assert.Equal(t, modules[1].ID, reordered[0].ID)
		assert.Equal(t, 1, reordered[0].OrderPosition)
		assert.Equal(t, modules[0].ID, reordered[1].ID)
		assert.Equal(t, 2, reordered[1].OrderPosition)
	})

	t.Run("update question options", func(t *testing.T) {
		var q contest.Question
		// options are kept when not provided
		rec := do(t, app, http.MethodPut, "/api/questions/"+qcm.ID, token, contest.NewQuestion{
			Content: "Vitesse en ville ?", QuestionType: contest.ModuleQCM, Points: 4,
		}, http.StatusOK)
		unmarshal(t, rec, &q)
		assert.Equal(t, "Vitesse en ville ?", q.Content)
		assert.Len(t, q.Options, 2)

		rec = do(t, app, http.MethodPut, "/api/questions/"+qcm.ID, token, contest.NewQuestion{
			Content: "Vitesse en ville ?", QuestionType: contest.ModuleQCM, Points: 4,
			Options: []contest.NewOption{{OptionText: "30"}, {OptionText: "50", IsCorrect: true}, {OptionText: "70"}},
		}, http.StatusOK)
		unmarshal(t, rec, &q)
		require.Len(t, q.Options, 3)
		assert.True(t, q.Options[1].IsCorrect)
	})

	t.Run("turn into a QCM", func(t *testing.T) {
		toQCM := contest.NewQuestion{Content: "Vitesse en ville ?", QuestionType: contest.ModuleQCM, Points: 2}
		do(t, app, http.MethodPut, "/api/questions/"+open.ID, token, toQCM, http.StatusBadRequest)

		var q contest.Question
		rec := do(t, app, http.MethodGet, "/api/questions/"+open.ID, token, nil, http.StatusOK)
		unmarshal(t, rec, &q)
		assert.Equal(t, contest.ModuleOpenQuestion, q.QuestionType)
	})

	do(t, app, http.MethodDelete, "/api/questions/"+open.ID, token, nil, http.StatusNoContent)
	do(t, app, http.MethodGet, "/api/questions/"+open.ID, token, nil, http.StatusNotFound)
}

func Test_contestApi_duplicate(t *testing.T) {
	app := setup(t)
	staff := testutil.CreateUser(t, usrRepo, "Jean Martin", "jmartin", "jmartin@lspd.rp", "Passw0rd!", user.RoleResponsable, "", true)
	other := testutil.CreateUser(t, usrRepo, "Ella Stone", "estone", "estone@lspd.rp", "Passw0rd!", user.RoleAdmin, "", true)
	token := getToken(t, staff)

	c, _, _ := createQCMContest(t, app, token)
	do(t, app, http.MethodPut, "/api/contests/"+c.ID+"/status", token, contest.SetStatus{Status: contest.StatusActive}, http.StatusOK)

	var src, dup contest.Contest
	rec := do(t, app, http.MethodGet, "/api/contests/"+c.ID, token, nil, http.StatusOK)
	unmarshal(t, rec, &src)
	rec = do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/duplicate", getToken(t, other), nil, http.StatusCreated)
	unmarshal(t, rec, &dup)

	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, src.Name+" (Copie)", dup.Name)
	assert.Equal(t, contest.StatusDraft, dup.Status)
	assert.Equal(t, other.ID, dup.CreatedBy)
	assert.NotEmpty(t, dup.AccessLink)
	assert.NotEqual(t, src.AccessLink, dup.AccessLink)

	require.Len(t, dup.Modules, len(src.Modules))
	for i, m := range dup.Modules {
		sm := src.Modules[i]
		assert.NotEqual(t, sm.ID, m.ID)
		assert.Equal(t, dup.ID, m.ContestID)
		assert.Equal(t, sm.Title, m.Title)
		assert.Equal(t, sm.OrderPosition, m.OrderPosition)
		require.Len(t, m.Questions, len(sm.Questions))
		for j, q := range m.Questions {
			sq := sm.Questions[j]
			assert.NotEqual(t, sq.ID, q.ID)
			assert.Equal(t, m.ID, q.ModuleID)
			assert.Equal(t, sq.Content, q.Content)
			require.Len(t, q.Options, len(sq.Options))
			for k, o := range q.Options {
				assert.NotEqual(t, sq.Options[k].ID, o.ID)
				assert.Equal(t, q.ID, o.QuestionID)
				assert.Equal(t, sq.Options[k].IsCorrect, o.IsCorrect)
			}
		}
	}

	// the source is left untouched
	var again contest.Contest
	rec = do(t, app, http.MethodGet, "/api/contests/"+c.ID, token, nil, http.StatusOK)
	unmarshal(t, rec, &again)
	assert.Equal(t, src, again)
}

func Test_contestApi_public(t *testing.T) {
	app := setup(t)
	staff := testutil.CreateUser(t, usrRepo, "Jean Martin", "jmartin", "jmartin@lspd.rp", "Passw0rd!", user.RoleResponsable, "", true)
	token := getToken(t, staff)

	priv, _, _ := createQCMContest(t, app, token)
	var pub contest.Contest
	rec := do(t, app, http.MethodPost, "/api/contests", token, contest.NewContest{Name: "Portes ouvertes", Type: contest.TypePublic}, http.StatusCreated)
	unmarshal(t, rec, &pub)
	do(t, app, http.MethodPost, "/api/contests/"+pub.ID+"/modules", token, contest.NewModule{
		Title: "Culture générale", ModuleType: contest.ModuleOpenQuestion, MaxScore: 5,
	}, http.StatusCreated)

	var list []contest.Contest
	rec = do(t, app, http.MethodGet, "/api/contests/public", "", nil, http.StatusOK)
	unmarshal(t, rec, &list)
	assert.Empty(t, list)
	do(t, app, http.MethodGet, "/api/contests/"+pub.ID+"/public", "", nil, http.StatusNotFound)
	do(t, app, http.MethodGet, "/api/contests/access/"+priv.AccessLink, "", nil, http.StatusNotFound)

	do(t, app, http.MethodPut, "/api/contests/"+pub.ID+"/status", token, contest.SetStatus{Status: contest.StatusActive}, http.StatusOK)
	do(t, app, http.MethodPut, "/api/contests/"+priv.ID+"/status", token, contest.SetStatus{Status: contest.StatusActive}, http.StatusOK)

	rec = do(t, app, http.MethodGet, "/api/contests/public", "", nil, http.StatusOK)
	unmarshal(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, pub.ID, list[0].ID)

	var pc PublicContest
	rec = do(t, app, http.MethodGet, "/api/contests/"+pub.ID+"/public", "", nil, http.StatusOK)
	unmarshal(t, rec, &pc)
	require.Len(t, pc.Modules, 1)
	assert.Equal(t, 0, pc.Modules[0].QuestionCount)
	do(t, app, http.MethodGet, "/api/contests/"+priv.ID+"/public", "", nil, http.StatusNotFound)

	rec = do(t, app, http.MethodGet, "/api/contests/access/"+priv.AccessLink, "", nil, http.StatusOK)
	unmarshal(t, rec, &pc)
	assert.Equal(t, priv.ID, pc.ID)
	require.Len(t, pc.Modules, 2)
	assert.Equal(t, 1, pc.Modules[0].QuestionCount)
	// questions & answers stay hidden
	assert.NotContains(t, rec.Body.String(), "is_correct")
	assert.NotContains(t, rec.Body.String(), "created_by")

	do(t, app, http.MethodGet, "/api/contests/access/unknown-link", "", nil, http.StatusNotFound)
}
