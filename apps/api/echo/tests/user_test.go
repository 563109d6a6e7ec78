package tests

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/rpconcours/concours/apps/api/echo"
	"github.com/rpconcours/concours/core/user"
	testutil "github.com/rpconcours/concours/tests"
)

func Test_userApi_login(t *testing.T) {
	app := setup(t)

	testutil.CreateUser(t, usrRepo, "Sergent Garcia", "garcia", "garcia@lspd.rp", "LolC@t123", user.RoleResponsable, "", true)
	testutil.CreateUser(t, usrRepo, "N Dog", "ndog", "ndog@test.rp", "LolC@t123", user.RoleCandidat, "", false)

	reqMsg := "this field is required"
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest, body: []byte("{}"),
			wantData: marchallObj(t, echoapi.LoginRequest{Username: reqMsg, Password: reqMsg}),
		},
		{
			name: "unknown user", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "lol", Password: "LolC@t123"}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "garcia", Password: "lol"}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "inactive user", wantCode: http.StatusForbidden,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "ndog", Password: "LolC@t123"}),
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "by username", wantCode: http.StatusOK, body: marchallObj(t, echoapi.LoginRequest{Username: "GARCIA ", Password: "LolC@t123"})},
		{name: "by email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.LoginRequest{Username: "garcia@lspd.rp", Password: "LolC@t123"})},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/users/login"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusOK {
				require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
				var resp echoapi.LoginResponse
				unmarshal(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)
				assert.Equal(t, "garcia", resp.User.Username)
				assert.False(t, resp.User.LastLogin.IsZero())
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_me(t *testing.T) {
	app := setup(t)

	garcia := testutil.CreateUser(t, usrRepo, "Sergent Garcia", "garcia", "garcia@lspd.rp", "", user.RoleResponsable, "", true)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Invalid token", token: "lol", wantCode: http.StatusUnauthorized},
		{name: "Me", token: getToken(t, garcia), wantCode: http.StatusOK, wantData: marchallObj(t, garcia)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		tt.path = "/api/users/me"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_query(t *testing.T) {
	app := setup(t)

	path := func(search, role string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if role != "" {
			v.Add("role", role)
		}
		return "/api/users?" + v.Encode()
	}

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.rp", "", user.RoleAdmin, "", true)
	garcia := testutil.CreateUser(t, usrRepo, "Sergent Garcia", "garcia", "garcia@lspd.rp", "", user.RoleResponsable, "", true)
	tommy := testutil.CreateUser(t, usrRepo, "Tommy Vercetti", "tommy", "tommy@vice.rp", "", user.RoleCandidat, user.AcademyRoleEtudiant, true)

	adminToken := getToken(t, admin)

	tests := []httpTest{
		{name: "Auth required", path: path("", ""), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Admin required", path: path("", ""), token: getToken(t, garcia), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "Get all", path: path("", ""), token: adminToken, wantData: marchallList(t, admin, garcia, tommy)},
		{name: "search (unknown)", path: path("lol", ""), token: adminToken, wantData: marchallList(t)},
		{name: "search=VERCE", path: path("VERCE", ""), token: adminToken, wantData: marchallList(t, tommy)},
		{name: "role=responsable", path: path("", user.RoleResponsable), token: adminToken, wantData: marchallList(t, garcia)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_create(t *testing.T) {
	app := setup(t)

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.rp", "", user.RoleAdmin, "", true)
	testutil.CreateUser(t, usrRepo, "Sergent Garcia", "garcia", "garcia@lspd.rp", "", user.RoleResponsable, "", true)
	adminToken := getToken(t, admin)

	newUser := func(uname, email, pwd, role string) []byte {
		return marchallObj(t, user.NewUser{
			Username: uname, Email: email, FullName: "Claude Speed", Password: pwd, PasswordConfirm: pwd, Role: role,
		})
	}

	tests := []httpTest{
		{
			name: "username taken", body: newUser("garcia", "claude@lc.rp", "LolC@t123", ""), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": user.ErrUsernameExists.Error()}),
		},
		{
			name: "weak password", body: newUser("claude", "claude@lc.rp", "lol", ""), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"password": "password must contain at least 8 characters"}),
		},
		{
			name: "unknown role", body: newUser("claude", "claude@lc.rp", "LolC@t123", "boss"), wantCode: http.StatusBadRequest,
		},
		{name: "created", body: newUser("claude", "claude@lc.rp", "LolC@t123", user.RoleResponsable), wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/users"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, adminToken, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
				var usr user.User
				unmarshal(t, rec, &usr)
				assert.NotEmpty(t, usr.ID)
				assert.Equal(t, "claude", usr.Username)
				assert.Equal(t, user.RoleResponsable, usr.Role)
				assert.True(t, usr.IsActive)
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_destroy(t *testing.T) {
	app := setup(t)

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.rp", "", user.RoleAdmin, "", true)
	garcia := testutil.CreateUser(t, usrRepo, "Sergent Garcia", "garcia", "garcia@lspd.rp", "", user.RoleResponsable, "", true)
	adminToken := getToken(t, admin)

	tests := []httpTest{
		{name: "cannot delete oneself", path: "/api/users/" + admin.ID, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "unknown user", path: "/api/users/lol", wantCode: http.StatusNotFound},
		{name: "deleted", path: "/api/users/" + garcia.ID, wantCode: http.StatusNoContent},
		{name: "already deleted", path: "/api/users/" + garcia.ID, wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		tt.method = http.MethodDelete

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, adminToken, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_refreshToken(t *testing.T) {
	app := setup(t)

	naughty := testutil.CreateUser(t, usrRepo, "N Dog", "ndog", "ndog@test.rp", "", user.RoleCandidat, "", false)
	garcia := testutil.CreateUser(t, usrRepo, "Sergent Garcia", "garcia", "garcia@lspd.rp", "", user.RoleResponsable, "", true)

	now := time.Now()
	unrefreshableClaims := echoapi.GetUserClaims(conf, garcia, now.Add(-2*conf.Server.JWTRefreshExpirationDelta).Unix())
	unrefreshableToken, err := echoapi.GenerateToken(conf, unrefreshableClaims)
	require.NoError(t, err)

	foreignToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, echoapi.GetUserClaims(conf, garcia)).SignedString([]byte("lol"))
	require.NoError(t, err)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Foreign signature", token: foreignToken, wantCode: http.StatusUnauthorized},
		{name: "Inactive user not allowed", token: getToken(t, naughty), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Token refreshed", token: getToken(t, garcia), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/users/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			// cannot guess new token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
				var respData echoapi.TokenResponse
				unmarshal(t, rec, &respData)
				assert.NotEmpty(t, respData.Token)
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}
