package echoapi_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/somo/apps/api/echo"
	"github.com/trezcool/somo/core/metrics"
	"github.com/trezcool/somo/core/user"
)

func TestServer_home(t *testing.T) {
	app := setup(t)

	rec := app.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Somo API!", rec.Body.String())

	metrics.AppInfo.WithLabelValues("test", app.conf.Env).Set(1)
	rec = app.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `somo_app_info{build="test",env="TEST"} 1`)
}

func Test_userApi_login(t *testing.T) {
	app := setup(t)
	learner := app.createUser(t, "learner1", user.RoleLearner)
	createInactive(t, app)

	app.run(t, []httpTest{
		{
			name: "missing credentials", method: http.MethodPost, path: "/v1/users/login",
			body: echoapi.LoginRequest{}, wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown user", method: http.MethodPost, path: "/v1/users/login",
			body:     echoapi.LoginRequest{Username: "nobody", Password: strongPwd},
			wantCode: http.StatusBadRequest, wantData: httpErr{Error: "authentication failed"},
		},
		{
			name: "wrong password", method: http.MethodPost, path: "/v1/users/login",
			body:     echoapi.LoginRequest{Username: "learner1", Password: "wrong"},
			wantCode: http.StatusBadRequest, wantData: httpErr{Error: "authentication failed"},
		},
		{
			name: "deactivated", method: http.MethodPost, path: "/v1/users/login",
			body:     echoapi.LoginRequest{Username: "inactive", Password: strongPwd},
			wantCode: http.StatusForbidden, wantData: httpErr{Error: "account deactivated"},
		},
	})

	t.Run("by email", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/v1/users/login", "", echoapi.LoginRequest{Username: "LEARNER1@test.test", Password: strongPwd})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp echoapi.LoginResponse
		decode(t, rec, &resp)
		require.NotEmpty(t, resp.Token)

		// the token grants access
		rec = app.do(t, http.MethodGet, "/v1/users/"+learner.ID, resp.Token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		usr, err := app.repos.Users.GetUser(t.Context(), user.GetFilter{ID: learner.ID})
		require.NoError(t, err)
		assert.False(t, usr.LastLogin.IsZero())
	})
}

func createInactive(t *testing.T, app *testApp) user.User {
	t.Helper()
	usr := app.createUser(t, "inactive", user.RoleLearner)
	inactive := false
	usr.IsActive = &inactive
	usr, err := app.repos.Users.UpdateUser(t.Context(), usr)
	require.NoError(t, err)
	return usr
}

func Test_userApi_signup(t *testing.T) {
	app := setup(t)
	app.createUser(t, "taken01", user.RoleLearner)

	signup := func(uname, role string) user.Signup {
		return user.Signup{
			Name:            "New Comer",
			Username:        uname,
			Email:           uname + "@test.test",
			Password:        strongPwd,
			PasswordConfirm: strongPwd,
			Role:            role,
		}
	}

	app.run(t, []httpTest{
		{name: "invalid", method: http.MethodPost, path: "/v1/users/signup", body: user.Signup{Name: "X"}, wantCode: http.StatusBadRequest},
		{name: "taken", method: http.MethodPost, path: "/v1/users/signup", body: signup("taken01", ""), wantCode: http.StatusBadRequest},
		{name: "admin role refused", method: http.MethodPost, path: "/v1/users/signup", body: signup("sneaky1", "admin"), wantCode: http.StatusBadRequest},
	})

	tests := []struct {
		uname    string
		role     string
		wantRole string
	}{
		{uname: "learner2", wantRole: user.RoleLearner},
		{uname: "creator2", role: "creator", wantRole: user.RoleCreator},
	}
	for _, tt := range tests {
		t.Run(tt.uname, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/v1/users/signup", "", signup(tt.uname, tt.role))
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			var usr user.User
			decode(t, rec, &usr)
			assert.Equal(t, tt.uname, usr.Username)
			assert.Equal(t, []string{tt.wantRole}, usr.Roles)
			assert.NotContains(t, rec.Body.String(), "password")

			rec = app.do(t, http.MethodPost, "/v1/users/login", "", echoapi.LoginRequest{Username: tt.uname, Password: strongPwd})
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func Test_userApi_query(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "admin01", user.RoleAdmin)
	learner := app.createUser(t, "learner1", user.RoleLearner)
	app.createUser(t, "creator1", user.RoleCreator)
	adminToken := app.token(t, admin)

	app.run(t, []httpTest{
		{name: "auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: errMissingToken},
		{
			name: "admin required", path: "/v1/users", token: app.token(t, learner),
			wantCode: http.StatusForbidden, wantData: httpErr{Error: "permission denied"},
		},
		{name: "roles", path: "/v1/users/roles", token: adminToken, wantData: user.Roles},
	})

	usernames := func(path string) []string {
		rec := app.do(t, http.MethodGet, path, adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var users []user.User
		decode(t, rec, &users)
		names := make([]string, 0, len(users))
		for _, u := range users {
			names = append(names, u.Username)
		}
		return names
	}

	assert.ElementsMatch(t, []string{"admin01", "learner1", "creator1"}, usernames("/v1/users"))
	assert.Equal(t, []string{"creator1"}, usernames("/v1/users?role="+user.RoleCreator))
	assert.ElementsMatch(t, []string{"learner1", "creator1"}, usernames("/v1/users?role="+user.RoleCreator+"&role="+user.RoleLearner))
	assert.Equal(t, []string{"learner1"}, usernames("/v1/users?search=LEARN"))
	assert.Equal(t, []string{"admin01", "creator1", "learner1"}, usernames("/v1/users?ordering=username"))
	assert.Equal(t, []string{"learner1", "creator1"}, usernames("/v1/users?ordering=-username&page_size=2"))
	assert.Empty(t, usernames("/v1/users?is_active=false"))
}

func Test_userApi_detail(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "admin01", user.RoleAdmin)
	learner := app.createUser(t, "learner1", user.RoleLearner)
	other := app.createUser(t, "other001", user.RoleLearner)
	adminToken := app.token(t, admin)
	learnerToken := app.token(t, learner)

	app.run(t, []httpTest{
		{name: "self", path: "/v1/users/" + learner.ID, token: learnerToken},
		{
			name: "other user hidden", path: "/v1/users/" + other.ID, token: learnerToken,
			wantCode: http.StatusNotFound, wantData: httpErr{Error: "not found"},
		},
		{name: "admin sees all", path: "/v1/users/" + other.ID, token: adminToken},
		{
			name: "learner cannot change roles", method: http.MethodPut, path: "/v1/users/" + learner.ID, token: learnerToken,
			body: user.UpdateUser{Roles: []string{user.RoleAdmin}}, wantCode: http.StatusForbidden,
		},
		{
			name: "learner cannot delete", method: http.MethodDelete, path: "/v1/users/" + learner.ID, token: learnerToken,
			wantCode: http.StatusForbidden,
		},
		{
			name: "admin cannot delete self", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: adminToken,
			wantCode: http.StatusForbidden,
		},
		{
			name: "admin cannot delete self (multiple)", method: http.MethodDelete, path: "/v1/users?id=" + other.ID + "&id=" + admin.ID,
			token: adminToken, wantCode: http.StatusForbidden,
		},
	})

	t.Run("update name", func(t *testing.T) {
		rec := app.do(t, http.MethodPut, "/v1/users/"+learner.ID, learnerToken, user.UpdateUser{Name: "  Renamed  "})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var usr user.User
		decode(t, rec, &usr)
		assert.Equal(t, "Renamed", usr.Name)
		assert.Equal(t, learner.Username, usr.Username)
	})

	t.Run("admin deletes", func(t *testing.T) {
		otherToken := app.token(t, other)
		rec := app.do(t, http.MethodDelete, "/v1/users/"+other.ID, adminToken, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		// the token of a deleted user is rejected
		rec = app.do(t, http.MethodGet, "/v1/courses", otherToken, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func Test_userApi_refreshToken(t *testing.T) {
	app := setup(t)
	learner := app.createUser(t, "learner1", user.RoleLearner)
	inactive := createInactive(t, app)

	oldLogin := time.Now().Add(-2 * app.conf.Server.JWTRefreshExpirationDelta).Unix()
	claims := app.auth.UserClaims(learner, oldLogin)
	unrefreshable, err := app.auth.GenerateToken(claims)
	require.NoError(t, err)

	path := "/v1/users/token-refresh"
	app.run(t, []httpTest{
		{name: "auth required", method: http.MethodPost, path: path, wantCode: http.StatusUnauthorized, wantData: errMissingToken},
		{
			name: "deactivated", method: http.MethodPost, path: path, token: app.token(t, inactive),
			wantCode: http.StatusForbidden, wantData: httpErr{Error: "account deactivated"},
		},
		{
			name: "refresh expired", method: http.MethodPost, path: path, token: unrefreshable,
			wantCode: http.StatusForbidden, wantData: httpErr{Error: "refresh has expired"},
		},
		{name: "refreshed", method: http.MethodPost, path: path, token: app.token(t, learner)},
	})
}

func Test_userApi_passwordReset(t *testing.T) {
	app := setup(t)
	learner := app.createUser(t, "learner1", user.RoleLearner)

	success := map[string]string{"success": "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."}
	app.run(t, []httpTest{
		{name: "invalid email", method: http.MethodPost, path: "/v1/users/password-reset", body: echoapi.PasswordResetRequest{Email: "lol"}, wantCode: http.StatusBadRequest},
		{name: "unknown email", method: http.MethodPost, path: "/v1/users/password-reset", body: echoapi.PasswordResetRequest{Email: "who@test.test"}, wantData: success},
	})
	assert.Empty(t, app.mail.SentMessages())

	rec := app.do(t, http.MethodPost, "/v1/users/password-reset", "", echoapi.PasswordResetRequest{Email: learner.Email})
	assert.Equal(t, http.StatusOK, rec.Code)
	sent := app.mail.SentMessages()
	require.Len(t, sent, 1)

	data, ok := sent[0].TemplateData.(map[string]interface{})
	require.True(t, ok)
	rp := user.ResetUserPassword{
		UID:             data["UID"].(string),
		Token:           data["Token"].(string),
		Password:        "Nw9$tRq4vb",
		PasswordConfirm: "Nw9$tRq4vb",
	}
	rec = app.do(t, http.MethodPost, "/v1/users/password-reset-confirm", "", rp)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.Contains(rec.Body.String(), "Password has been reset"))

	rec = app.do(t, http.MethodPost, "/v1/users/login", "", echoapi.LoginRequest{Username: learner.Username, Password: "Nw9$tRq4vb"})
	assert.Equal(t, http.StatusOK, rec.Code)
}
