package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	. "github.com/rpconcours/concours/apps/api/echo"
	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/academy"
	"github.com/rpconcours/concours/core/candidate"
	"github.com/rpconcours/concours/core/contest"
	"github.com/rpconcours/concours/core/user"
	emailsvc "github.com/rpconcours/concours/services/email"
	inmemdb "github.com/rpconcours/concours/storage/database/inmem"
	testutil "github.com/rpconcours/concours/tests"
)

var (
	conf         = core.NewTestConfig()
	usrRepo      user.Repository
	candRepo     candidate.Repository
	contestSvc   *contest.Service
	candidateSvc *candidate.Service
	academySvc   *academy.Service

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

// setup returns a server backed by a fresh in-memory database.
func setup(t *testing.T) Server {
	logger := testutil.NewLogger(conf)

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo = inmemdb.NewUserRepository(db)
	candRepo = inmemdb.NewCandidateRepository(db)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewService(usrRepo)
	contestSvc = contest.NewService(inmemdb.NewContestRepository(db))
	academySvc = academy.NewService(inmemdb.NewAcademyRepository(db), contestSvc, candRepo)
	candidateSvc = candidate.NewService(candRepo, contestSvc, academySvc, mailSvc)

	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	core.ParseEmailTemplates(conf, logger)
	emailsvc.ResetSentMessages()

	// set up server
	return NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		DisableReqLogs: true,
		UserSvc:        usrSvc,
		ContestSvc:     contestSvc,
		CandidateSvc:   candidateSvc,
		AcademySvc:     academySvc,
		Validate:       validate,
		Translator:     translator,
	})
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	token, err := GenerateToken(conf, GetUserClaims(conf, usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func getCandidateToken(t *testing.T, cand candidate.Candidate) string {
	token, err := GenerateToken(conf, GetCandidateClaims(conf, cand))
	if err != nil {
		t.Fatalf("getCandidateToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	l1, ok1 := j1.([]interface{})
	l2, ok2 := j2.([]interface{})
	if !ok1 || !ok2 {
		return false, nil
	}
	return assert.ElementsMatch(t, l1, l2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// do sends body (marshalled when not nil) and requires the response code to be wantCode.
func do(t *testing.T, app Server, method, path, token string, body interface{}, wantCode int) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if body != nil {
		data = marchallObj(t, body)
	}
	req, rec := newAuthRequest(method, path, token, data)
	app.ServeHTTP(rec, req)
	if rec.Code != wantCode {
		t.Fatalf("%s %s: code = %d; wantCode %d; body %s", method, path, rec.Code, wantCode, rec.Body.String())
	}
	return rec
}

// createQCMContest builds, through the API, a private contest holding a QCM module (one 4 points question)
// followed by an open question module (one 6 points question).
func createQCMContest(t *testing.T, app Server, token string) (contest.Contest, contest.Question, contest.Question) {
	t.Helper()
	var c contest.Contest
	rec := do(t, app, http.MethodPost, "/api/contests", token, contest.NewContest{Name: "Recrutement LSPD", Type: contest.TypePrivate}, http.StatusCreated)
	unmarshal(t, rec, &c)

	var qcmMod, openMod contest.Module
	rec = do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/modules", token, contest.NewModule{
		Title: "Code pénal", ModuleType: contest.ModuleQCM, MaxScore: 4, TimeLimitMinutes: 30,
	}, http.StatusCreated)
	unmarshal(t, rec, &qcmMod)
	rec = do(t, app, http.MethodPost, "/api/contests/"+c.ID+"/modules", token, contest.NewModule{
		Title: "Mise en situation", ModuleType: contest.ModuleOpenQuestion, MaxScore: 6,
	}, http.StatusCreated)
	unmarshal(t, rec, &openMod)

	var qcm, open contest.Question
	rec = do(t, app, http.MethodPost, "/api/modules/"+qcmMod.ID+"/questions", token, contest.NewQuestion{
		Content: "Quelle est la vitesse maximale en ville ?", QuestionType: contest.ModuleQCM, Points: 4,
		Options: []contest.NewOption{
			{OptionText: "50 km/h", IsCorrect: true, OptionOrder: 1},
			{OptionText: "90 km/h", OptionOrder: 2},
		},
	}, http.StatusCreated)
	unmarshal(t, rec, &qcm)
	rec = do(t, app, http.MethodPost, "/api/modules/"+openMod.ID+"/questions", token, contest.NewQuestion{
		Content: "Décrivez une interpellation.", QuestionType: contest.ModuleOpenQuestion, Points: 6,
	}, http.StatusCreated)
	unmarshal(t, rec, &open)

	return c, qcm, open
}
