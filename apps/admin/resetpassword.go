package main

import (
	"context"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/noteearly/noteearly/core/profile"
)

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var uname string

	cmd := &cobra.Command{
		Use:   "resetpassword --username USERNAME",
		Short: "Reset a student's password; the password is prompted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if uname == "" {
				_ = cmd.Usage()
				return errHelp
			}
			cli.printf("Enter password:")
			pwd, err := readPasswordFunc(int(syscall.Stdin))
			cli.printf("\n")
			if err != nil {
				return err
			}
			if len(pwd) == 0 {
				_ = cmd.Usage()
				return errHelp
			}
			return cli.resetPassword(context.Background(), uname, string(pwd))
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "the student's username")
	return cmd
}

func (cli *commandLine) resetPassword(ctx context.Context, uname, pwd string) error {
	student, err := cli.profiles.GetProfile(ctx, profile.GetFilter{Username: uname})
	if err != nil {
		return err
	}
	if !student.IsStudent() {
		return profile.ErrNotFound
	}

	data := profile.SetStudentPassword{Password: pwd, PasswordConfirm: pwd}
	if err = data.Validate(student, cli.validate); err != nil {
		return err
	}
	if err = student.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	if _, err = cli.profiles.UpdateProfile(ctx, student); err != nil {
		return errors.Wrap(err, "updating student")
	}
	cli.printf("password of %s updated\n", student.Username)
	return nil
}
