package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // registers the /debug/pprof handlers
	"os"

	"github.com/go-playground/validator/v10"

	echoapi "github.com/trezcool/somo/apps/api/echo"
	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/enrollment"
	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/metrics"
	"github.com/trezcool/somo/core/template"
	"github.com/trezcool/somo/core/user"
	appfs "github.com/trezcool/somo/fs"
	"github.com/trezcool/somo/services/ai/gemini"
	"github.com/trezcool/somo/services/ai/offline"
	emailsvc "github.com/trezcool/somo/services/email"
	logsvc "github.com/trezcool/somo/services/logger"
	"github.com/trezcool/somo/storage/database"
	inmemdb "github.com/trezcool/somo/storage/database/inmem"
	sqlxrepos "github.com/trezcool/somo/storage/database/sqlx"
)

// repositories is the storage of every domain, whatever the backend.
type repositories struct {
	users       user.Repository
	documents   document.Repository
	courses     course.Repository
	enrollments enrollment.Repository
	jobs        generation.Repository
}

func main() {
	inmem := flag.Bool("inmem", false, "keep everything in memory (no database)")
	flag.Parse()

	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewStdoutLogger("API : ", conf)
	dbLogger := logsvc.NewStdoutLogger("DB : ", conf)
	jobsLogger := logsvc.NewStdoutLogger("JOBS : ", conf)

	ctx := context.Background()

	// set up storage
	var repos repositories
	if *inmem {
		r := inmemdb.NewRepositories(inmemdb.Open())
		repos = repositories{r.Users, r.Documents, r.Courses, r.Enrollments, r.Jobs}
		logger.Warn("running with the in-memory storage: data is lost on shutdown")
	} else {
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
		}
		db, err := database.Open(ctx, conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				dbLogger.Error("Failed to close", err)
			}
		}()
		if err = database.Migrate(db.DB); err != nil {
			dbLogger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
		}
		r := sqlxrepos.NewRepositories(db)
		repos = repositories{r.Users, r.Documents, r.Courses, r.Enrollments, r.Jobs}
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug || conf.SendgridApiKey == "" {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	var gen generation.ContentGenerator = offline.NewGenerator()
	if conf.AI.Provider == "gemini" {
		g, err := gemini.NewGenerator(ctx, conf.AI, jobsLogger)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up gemini: %v", err), err)
		}
		gen = g
	}

	catalog, err := template.LoadCatalog(appfs.FS, "catalog/*.yaml")
	if err != nil {
		logger.Fatal(fmt.Sprintf("loading template catalog: %v", err), err)
	}

	usrSvc := user.NewService(repos.users, mailSvc, conf)
	docSvc := document.NewService(repos.documents, conf)
	courseSvc := course.NewService(repos.courses, conf)
	enrollSvc := enrollment.NewService(repos.enrollments, courseSvc, mailSvc, conf)
	genSvc := generation.NewService(repos.jobs, docSvc, courseSvc, usrSvc, gen, mailSvc, jobsLogger, conf)
	tmplSvc := template.NewService(catalog, courseSvc, gen, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q, AI provider %q", conf.Build, conf.AI.Provider))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	document.InitValidators(validate, translator)
	course.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, logger)

	user.LoadCommonPasswords(logger)

	metrics.AppInfo.WithLabelValues(conf.Build, conf.Env).Set(1)

	// jobs left running by a previous process will never finish
	if _, err := genSvc.RecoverStale(ctx); err != nil {
		logger.Error("recovering stale generation jobs", err)
	}

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		Validate:      validate,
		Translator:    translator,
		UserSvc:       usrSvc,
		DocumentSvc:   docSvc,
		CourseSvc:     courseSvc,
		EnrollmentSvc: enrollSvc,
		GenerationSvc: genSvc,
		TemplateSvc:   tmplSvc,
	})

	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)
		shutdownWorkers(genSvc, conf, logger)
		os.Exit(1)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
		shutdownWorkers(genSvc, conf, logger)
	}
}

// shutdownWorkers waits for the generation jobs in flight, cancelling them past the shutdown timeout.
func shutdownWorkers(genSvc *generation.Service, conf *core.Config, logger core.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	if err := genSvc.Shutdown(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop generation workers gracefully: %v", err), err)
	}
}
