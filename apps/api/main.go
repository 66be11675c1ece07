package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/noteearly/noteearly/apps/api/echo"
	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/billing"
	"github.com/noteearly/noteearly/core/module"
	"github.com/noteearly/noteearly/core/profile"
	"github.com/noteearly/noteearly/core/progress"
	"github.com/noteearly/noteearly/core/vocabulary"
	billingsvc "github.com/noteearly/noteearly/services/billing"
	emailsvc "github.com/noteearly/noteearly/services/email"
	logsvc "github.com/noteearly/noteearly/services/logger"
	"github.com/noteearly/noteearly/services/scheduler"
	"github.com/noteearly/noteearly/services/supabase"
	"github.com/noteearly/noteearly/storage/database"
	inmemdb "github.com/noteearly/noteearly/storage/database/inmem"
	sqlxrepos "github.com/noteearly/noteearly/storage/database/sqlx"
)

type repositories struct {
	profiles   profile.Repository
	modules    module.Repository
	progress   progress.Repository
	vocabulary vocabulary.Repository
	billing    billing.Repository
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	zl, err := logsvc.NewZapLogger("API", conf.Debug)
	if err != nil {
		log.Fatalf("setting up zap: %v", err)
	}
	logger := logsvc.NewRollbarLogger(zl, conf)
	logger.Enable(!conf.Debug)
	defer logger.Sync()

	// set up DB
	repos, closeDB, err := setUpRepositories(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = closeDB(); err != nil {
			logger.Error(fmt.Sprintf("closing database: %v", err), err)
		}
	}()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	provider, dummy, err := billingsvc.NewProvider(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up billing provider: %v", err), err)
	}
	if dummy {
		logger.Warn("stripe is not configured: using the dummy billing provider")
	}

	billingSvc := billing.NewService(repos.billing, repos.profiles, provider, mailSvc, conf, logger)
	profileSvc := profile.NewService(repos.profiles, billingSvc)
	moduleSvc := module.NewService(repos.modules)
	progressSvc := progress.NewService(repos.progress, profileSvc)
	vocabularySvc := vocabulary.NewService(repos.vocabulary, progressSvc)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	profile.InitValidators(validate, translator)

	profile.LoadCommonPasswords(logger)

	// =========================================================================
	// Start Jobs

	jobs, err := scheduler.New(conf, billingSvc, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up scheduler: %v", err), err)
	}
	jobs.Start()
	defer jobs.Stop()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			Validate:      validate,
			Translator:    translator,
			Verifier:      supabase.NewVerifier(conf),
			ProfileSvc:    profileSvc,
			ModuleSvc:     moduleSvc,
			ProgressSvc:   progressSvc,
			VocabularySvc: vocabularySvc,
			BillingSvc:    billingSvc,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// setUpRepositories returns the repositories of the configured database engine: "postgres" or "memory".
func setUpRepositories(conf *core.Config) (repositories, func() error, error) {
	if conf.Database.Engine == "memory" {
		mem := inmemdb.Open()
		return repositories{
			profiles:   inmemdb.NewProfileRepository(mem),
			modules:    inmemdb.NewModuleRepository(mem),
			progress:   inmemdb.NewProgressRepository(mem),
			vocabulary: inmemdb.NewVocabularyRepository(mem),
			billing:    inmemdb.NewBillingRepository(mem),
		}, func() error { return nil }, nil
	}

	db, err := setUpDB(conf)
	if err != nil {
		return repositories{}, nil, err
	}
	return repositories{
		profiles:   sqlxrepos.NewProfileRepository(db),
		modules:    sqlxrepos.NewModuleRepository(db),
		progress:   sqlxrepos.NewProgressRepository(db),
		vocabulary: sqlxrepos.NewVocabularyRepository(db),
		billing:    sqlxrepos.NewBillingRepository(db),
	}, db.Close, nil
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db.DB, "up"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
