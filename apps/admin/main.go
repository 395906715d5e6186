package main

import (
	"context"
	"fmt"
	"os"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/template"
	"github.com/trezcool/somo/core/user"
	appfs "github.com/trezcool/somo/fs"
	"github.com/trezcool/somo/services/ai/gemini"
	"github.com/trezcool/somo/services/ai/offline"
	emailsvc "github.com/trezcool/somo/services/email"
	logsvc "github.com/trezcool/somo/services/logger"
	"github.com/trezcool/somo/storage/database"
	sqlxrepos "github.com/trezcool/somo/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewStdoutLogger("ADMIN : ", conf)
	ctx := context.Background()

	// set up DB
	db, err := database.Open(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	repos := sqlxrepos.NewRepositories(db)

	catalog, err := template.LoadCatalog(appfs.FS, "catalog/*.yaml")
	if err != nil {
		logger.Fatal(fmt.Sprintf("loading template catalog: %v", err), err)
	}

	// start CLI
	cli := commandLine{
		db:      db.DB,
		usrRepo: repos.Users,
		catalog: catalog,
		genService: func(forceOffline bool) (generation.ServiceInterface, error) {
			var gen generation.ContentGenerator = offline.NewGenerator()
			if conf.AI.Provider == "gemini" && !forceOffline {
				g, err := gemini.NewGenerator(ctx, conf.AI, logger)
				if err != nil {
					return nil, err
				}
				gen = g
			}
			core.ParseEmailTemplates(conf, logger)
			mailSvc := emailsvc.NewConsoleService(conf, logger)
			courseSvc := course.NewService(repos.Courses, conf)
			return generation.NewService(
				repos.Jobs,
				document.NewService(repos.Documents, conf),
				courseSvc,
				user.NewService(repos.Users, mailSvc, conf),
				gen,
				mailSvc,
				logger,
				conf,
			), nil
		},
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		os.Exit(1)
	}
}
