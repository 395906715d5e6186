package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/template"
	"github.com/trezcool/somo/core/user"
	appfs "github.com/trezcool/somo/fs"
	"github.com/trezcool/somo/services/ai/offline"
	emailsvc "github.com/trezcool/somo/services/email"
	inmemdb "github.com/trezcool/somo/storage/database/inmem"
	"github.com/trezcool/somo/tests/testutil"
)

type testCLI struct {
	*commandLine
	conf  *core.Config
	repos inmemdb.Repositories
	out   *bytes.Buffer
}

func setup(t *testing.T) *testCLI {
	t.Helper()

	conf := testutil.NewConfig(t)
	conf.Generation.MinLessonChars = 20
	logger := testutil.NewLogger(conf)
	repos := inmemdb.NewRepositories(inmemdb.Open())

	catalog, err := template.LoadCatalog(appfs.FS, "catalog/*.yaml")
	require.NoError(t, err)

	out := new(bytes.Buffer)
	cli := &commandLine{
		usrRepo: repos.Users,
		catalog: catalog,
		out:     out,
		genService: func(bool) (generation.ServiceInterface, error) {
			mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
			return generation.NewService(
				repos.Jobs,
				document.NewService(repos.Documents, conf),
				course.NewService(repos.Courses, conf),
				user.NewService(repos.Users, mailSvc, conf),
				offline.NewGenerator(),
				mailSvc,
				logger,
				conf,
			), nil
		},
	}
	return &testCLI{commandLine: cli, conf: conf, repos: repos, out: out}
}

type cliTest struct {
	name       string
	args       []string // without program name
	pwd        string   // prompted password
	wantErr    error
	wantErrStr string
}

func (c *testCLI) runTests(t *testing.T, tests []cliTest, check func(t *testing.T, tt cliTest)) {
	t.Helper()
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd := tt.pwd
		readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }

		t.Run(tt.name, func(t *testing.T) {
			c.out.Reset()
			err := c.run(args)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, err)
			case tt.wantErrStr != "":
				assert.EqualError(t, err, tt.wantErrStr)
			default:
				require.NoError(t, err)
				if check != nil {
					check(t, tt)
				}
			}
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	origRun := runMigrationsFunc
	defer func() { runMigrationsFunc = origRun }()
	runMigrationsFunc = func(command string, db *sql.DB, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	cli.runTests(t, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "course", "sql"}},
	}, nil)
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	cli.runTests(t, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-username", "awe"}, pwd: "pwd", wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "awe", "-email", "awe@test.cd"}, wantErr: errHelp},
		{
			name: "unknown role", args: []string{"adduser", "-username", "awe", "-email", "awe@test.cd", "-role", "boss"},
			pwd: "pwd", wantErrStr: "\"boss\": unknown role",
		},
	}, nil)

	cli.runTests(t, []cliTest{
		{name: "create admin", args: []string{"adduser", "-username", "Awe", "-email", "AWE@test.cd"}, pwd: "first"},
	}, func(t *testing.T, tt cliTest) {
		usr, err := cli.repos.Users.GetUser(ctx, user.GetFilter{Username: "awe"})
		require.NoError(t, err)
		assert.Equal(t, "awe@test.cd", usr.Email)
		assert.Equal(t, "awe", usr.Name)
		assert.True(t, usr.IsAdmin())
		assert.True(t, usr.Active())
		assert.NoError(t, usr.CheckPassword("first"))
		assert.Contains(t, cli.out.String(), `user "awe" saved`)
	})

	cli.runTests(t, []cliTest{
		{name: "update as creator", args: []string{"adduser", "-username", "awe", "-email", "awe@test.cd", "-role", "creator", "-name", "Awe Some"}, pwd: "second"},
	}, func(t *testing.T, tt cliTest) {
		users, err := cli.repos.Users.QueryUsers(ctx, nil, nil, core.Page{Number: 1, Size: 10})
		require.NoError(t, err)
		require.Len(t, users, 1)
		usr := users[0]
		assert.Equal(t, "Awe Some", usr.Name)
		assert.False(t, usr.IsAdmin())
		assert.True(t, usr.IsCreator())
		assert.NoError(t, usr.CheckPassword("second"))
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, cli.repos.Users, "User", "awe", "awe@test.cd", "mdr", nil, true)

	cli.runTests(t, []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, pwd: "lol", wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, pwd: "lol"},
		{name: "reset with email", args: []string{"resetpassword", "-username", "AWE@test.cd"}, pwd: "lmao"},
	}, func(t *testing.T, tt cliTest) {
		refreshed, err := cli.repos.Users.GetUser(ctx, user.GetFilter{ID: usr.ID})
		require.NoError(t, err)
		assert.NoError(t, refreshed.CheckPassword(tt.pwd))
	})
}

func Test_commandLine_templates(t *testing.T) {
	cli := setup(t)

	cli.runTests(t, []cliTest{{name: "list", args: []string{"templates"}}}, func(t *testing.T, tt cliTest) {
		out := cli.out.String()
		assert.Contains(t, out, "ID")
		for _, id := range []string{"introductory", "workshop", "deep-dive", "certification-prep"} {
			assert.Contains(t, out, id)
		}
	})
}

func Test_commandLine_generate(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	creator := testutil.CreateUser(t, cli.repos.Users, "Creator", "creator", "creator@test.cd", "mdr", []string{user.RoleCreator}, true)
	doc, err := document.NewService(cli.repos.Documents, cli.conf).Create(ctx, creator, document.NewDocument{
		Title:    "Learning Go",
		MimeType: document.MimeTypeMarkdown,
		Content: "# Learning Go\n\nGo is a statically typed language with a rich standard library.\n\n" +
			"## Variables\n\nVariables declare storage for values and short declarations infer their type.\n\n" +
			"## Functions\n\nFunctions group statements under a name and closures capture their scope.",
	})
	require.NoError(t, err)

	cli.runTests(t, []cliTest{
		{name: "no document", args: []string{"generate", "-offline"}, wantErr: errHelp},
		{name: "unknown document", args: []string{"generate", "-document", "nope"}, wantErr: document.ErrNotFound},
	}, nil)

	cli.runTests(t, []cliTest{
		{name: "generate", args: []string{"generate", "-document", doc.ID, "-offline", "-modules", "2"}},
	}, func(t *testing.T, tt cliTest) {
		assert.Contains(t, cli.out.String(), "completed: course")

		courses, err := course.NewService(cli.repos.Courses, cli.conf).QueryOwned(ctx, creator.ID)
		require.NoError(t, err)
		require.Len(t, courses, 1)
		assert.Equal(t, doc.ID, courses[0].DocumentID)
		assert.False(t, courses[0].IsPublished)
	})
}
