// Package database opens the Postgres database, provisions it and applies the embedded goose migrations.
package database

import (
	"context"
	"database/sql"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/noteearly/noteearly/core"
	appfs "github.com/noteearly/noteearly/fs"
)

const (
	migrationsDir = "migrations"
	maintenanceDB = "postgres"

	pingAttempts = 30
)

func init() {
	goose.SetBaseFS(appfs.FS)
}

// DSN returns the connection URL of dbName. asAdmin selects the admin credentials when they are configured.
func DSN(dbc core.DatabaseConfig, dbName string, asAdmin bool) string {
	user, pwd := dbc.User, dbc.Password
	if asAdmin && dbc.AdminUser != "" {
		user, pwd = dbc.AdminUser, dbc.AdminPassword
	}

	params := url.Values{"timezone": {"utc"}, "sslmode": {"require"}}
	if dbc.DisableTLS {
		params.Set("sslmode", "disable")
	}
	return (&url.URL{
		Scheme:   dbc.Engine,
		User:     url.UserPassword(user, pwd),
		Host:     dbc.Address(),
		Path:     dbName,
		RawQuery: params.Encode(),
	}).String()
}

func connect(dbc core.DatabaseConfig, dbName string, asAdmin bool) (*sqlx.DB, error) {
	db, err := sqlx.Open(dbc.Engine, DSN(dbc, dbName, asAdmin))
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = waitReady(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Open connects to the application database and waits until it answers.
func Open(conf *core.Config) (*sqlx.DB, error) {
	return connect(conf.Database, conf.Database.Name, false)
}

// waitReady pings db until it answers, backing off linearly (100ms more after each failure).
func waitReady(ctx context.Context, db *sqlx.DB) error {
	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for database")
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return errors.Wrapf(err, "database not ready after %d attempts", pingAttempts)
}

// CreateIfNotExist provisions the app role (connected as the admin role) and the app database (as the app role).
func CreateIfNotExist(conf *core.Config) error {
	dbc := conf.Database

	if dbc.User != "" {
		admin, err := connect(dbc, maintenanceDB, true)
		if err != nil {
			return errors.Wrap(err, "connecting as admin")
		}
		err = ensure(admin, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", dbc.User,
			"CREATE USER "+pq.QuoteIdentifier(dbc.User)+" CREATEDB ENCRYPTED PASSWORD "+pq.QuoteLiteral(dbc.Password))
		_ = admin.Close()
		if err != nil {
			return errors.Wrapf(err, "creating role %s", dbc.User)
		}
	}

	app, err := connect(dbc, maintenanceDB, false)
	if err != nil {
		return errors.Wrap(err, "connecting as app user")
	}
	defer func() { _ = app.Close() }()

	err = ensure(app, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", dbc.Name,
		"CREATE DATABASE "+pq.QuoteIdentifier(dbc.Name))
	return errors.Wrapf(err, "creating database %s", dbc.Name)
}

// ensure runs create unless the exists query, called with name, returns true.
func ensure(db *sqlx.DB, exists, name, create string) error {
	var found bool
	if err := db.Get(&found, exists, name); err != nil {
		return errors.Wrap(err, "checking existence")
	}
	if found {
		return nil
	}
	_, err := db.Exec(create)
	return err
}

// Migrate runs a goose command (up, down, status, redo, version...) against the embedded migrations.
func Migrate(db *sql.DB, command string, args ...string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting goose dialect")
	}
	return errors.Wrapf(goose.Run(command, db, migrationsDir, args...), "running migrations %s", command)
}
