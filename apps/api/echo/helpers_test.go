package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/somo/apps/api/echo"
	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/enrollment"
	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/template"
	"github.com/trezcool/somo/core/user"
	appfs "github.com/trezcool/somo/fs"
	"github.com/trezcool/somo/services/ai/offline"
	emailsvc "github.com/trezcool/somo/services/email"
	inmemdb "github.com/trezcool/somo/storage/database/inmem"
	"github.com/trezcool/somo/tests/testutil"
)

const strongPwd = "Xk7#pLm2qz"

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type testApp struct {
	conf    *core.Config
	server  *echoapi.Server
	auth    *echoapi.Auth
	repos   inmemdb.Repositories
	mail    *emailsvc.ConsoleServiceMock
	courses *course.Service
}

func setup(t *testing.T) *testApp {
	t.Helper()

	conf := testutil.NewConfig(t)
	conf.Server.DisableReqLogs = true
	conf.Generation.MinLessonChars = 20
	logger := testutil.NewLogger(conf)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	document.InitValidators(validate, translator)
	course.InitValidators(validate, translator)

	catalog, err := template.LoadCatalog(appfs.FS, "catalog/*.yaml")
	require.NoError(t, err)

	app := &testApp{conf: conf, repos: inmemdb.NewRepositories(inmemdb.Open())}
	app.mail = emailsvc.NewConsoleServiceMock(conf, logger)
	app.courses = course.NewService(app.repos.Courses, conf)

	usrSvc := user.NewService(app.repos.Users, app.mail, conf)
	docSvc := document.NewService(app.repos.Documents, conf)
	gen := offline.NewGenerator()
	genSvc := generation.NewService(app.repos.Jobs, docSvc, app.courses, usrSvc, gen, app.mail, logger, conf)
	t.Cleanup(func() { _ = genSvc.Shutdown(context.Background()) })

	app.server = echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		Validate:      validate,
		Translator:    translator,
		UserSvc:       usrSvc,
		DocumentSvc:   docSvc,
		CourseSvc:     app.courses,
		EnrollmentSvc: enrollment.NewService(app.repos.Enrollments, app.courses, app.mail, conf),
		GenerationSvc: genSvc,
		TemplateSvc:   template.NewService(catalog, app.courses, gen, logger),
	})
	app.auth = echoapi.NewAuth(conf)
	return app
}

func (app *testApp) createUser(t *testing.T, uname string, roles ...string) user.User {
	t.Helper()
	return testutil.CreateUser(t, app.repos.Users, "User "+uname, uname, uname+"@test.test", strongPwd, roles, true)
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := app.auth.GenerateToken(app.auth.UserClaims(usr))
	require.NoError(t, err)
	return token
}

// do serves the request and returns the recorded response; body is JSON encoded unless it already is []byte.
func (app *testApp) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func marshalObj(t *testing.T, obj interface{}) string {
	t.Helper()
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	return string(data)
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     interface{}
	token    string
	wantCode int
	wantData interface{} // compared as JSON when set
}

func (app *testApp) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		if tt.method == "" {
			tt.method = http.MethodGet
		}
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantData != nil {
				assert.JSONEq(t, marshalObj(t, tt.wantData), rec.Body.String())
			}
		})
	}
}
