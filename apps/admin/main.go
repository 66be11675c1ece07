package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/billing"
	"github.com/noteearly/noteearly/core/profile"
	logsvc "github.com/noteearly/noteearly/services/logger"
	"github.com/noteearly/noteearly/storage/database"
	sqlxrepos "github.com/noteearly/noteearly/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	zl, err := logsvc.NewZapLogger("ADMIN", conf.Debug)
	if err != nil {
		log.Fatalf("setting up zap: %v", err)
	}
	logger := logsvc.NewRollbarLogger(zl, conf)
	logger.Enable(false)
	defer logger.Sync()

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer func() { _ = db.Close() }()

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	profile.InitValidators(validate, translator)
	profile.LoadCommonPasswords(logger)

	profileRepo := sqlxrepos.NewProfileRepository(db)
	// SyncPlans only uses the repository: no provider nor mailer
	billingSvc := billing.NewService(sqlxrepos.NewBillingRepository(db), profileRepo, nil, nil, conf, logger)

	// start CLI
	cli := &commandLine{
		db:       db.DB,
		profiles: profileRepo,
		plans:    billingSvc,
		validate: validate,
		out:      os.Stdout,
	}
	if err = cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		logger.Sync()
		os.Exit(1)
	}
}
