package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/template"
	"github.com/trezcool/somo/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

// genServiceFunc builds the generation service; `offline` forces the offline generator.
type genServiceFunc func(offline bool) (generation.ServiceInterface, error)

type commandLine struct {
	db         *sql.DB
	usrRepo    user.Repository
	catalog    *template.Catalog
	genService genServiceFunc
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.output(), "Usage:")
	fmt.Fprintln(cli.output(), "  migrate COMMAND [ARGS]                          - run database migrations (up, down, status, up-to VERSION, ...)")
	fmt.Fprintln(cli.output(), "  adduser -username USERNAME -email EMAIL [-role] - create or update a user; the password is prompted")
	fmt.Fprintln(cli.output(), "  resetpassword -username USERNAME|EMAIL          - reset user's password")
	fmt.Fprintln(cli.output(), "  templates                                       - list the course templates")
	fmt.Fprintln(cli.output(), "  generate -document ID [-offline]                - generate a course from a document, synchronously")
}

func (cli *commandLine) output() io.Writer {
	if cli.out == nil {
		return os.Stdout
	}
	return cli.out
}

// promptPassword reads a password from the terminal without echoing it.
func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.output(), "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.output())
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserRole := addUserCmd.String("role", "admin", "The user's role: admin, creator or learner.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	generateCmd := flag.NewFlagSet("generate", flag.ContinueOnError)
	generateDoc := generateCmd.String("document", "", "The ID of the document to generate a course from.")
	generateOffline := generateCmd.Bool("offline", false, "Use the offline generator instead of the configured AI provider.")
	generateModules := generateCmd.Int("modules", 0, "The maximum number of modules (default from config).")
	generateNoQuiz := generateCmd.Bool("no-quiz", false, "Do not generate quizzes.")

	for _, fs := range []*flag.FlagSet{addUserCmd, resetPasswordCmd, generateCmd} {
		fs.SetOutput(cli.output())
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, pwd, *addUserRole)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "templates":
		return cli.listTemplates()

	case "generate":
		if err := generateCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *generateDoc == "" {
			generateCmd.Usage()
			return errHelp
		}
		nj := generation.NewJob{MaxModules: *generateModules}
		if *generateNoQuiz {
			quizzes := false
			nj.IncludeQuizzes = &quizzes
		}
		return cli.generate(*generateDoc, *generateOffline, nj)

	default:
		cli.printUsage()
		return errHelp
	}
}
