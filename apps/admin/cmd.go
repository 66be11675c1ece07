package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/noteearly/noteearly/core/billing"
	"github.com/noteearly/noteearly/core/profile"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type (
	planSyncer interface {
		SyncPlans(ctx context.Context, plans ...billing.NewPlan) ([]billing.Plan, error)
	}

	commandLine struct {
		db       *sql.DB
		profiles profile.Repository
		plans    planSyncer
		validate *validator.Validate
		out      io.Writer
	}
)

func (cli *commandLine) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(cli.out, format, args...)
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "NoteEarly operator commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)

	root.AddCommand(
		cli.migrateCmd(),
		cli.addAdminCmd(),
		cli.resetPasswordCmd(),
		cli.syncPlansCmd(),
	)
	return root
}

// run executes the command line; args include the program name.
func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	return root.Execute()
}
