package main

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/profile"
)

var errIDRequired = errors.New("no profile with this email: --id (the Supabase user ID) is required")

func (cli *commandLine) addAdminCmd() *cobra.Command {
	var id, email, name string
	var super bool

	cmd := &cobra.Command{
		Use:   "addadmin --email EMAIL [--name NAME] [--id SUPABASE_USER_ID] [--super]",
		Short: "Create or promote an Admin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if core.CleanString(email) == "" {
				_ = cmd.Usage()
				return errHelp
			}
			p, err := cli.addAdmin(context.Background(), id, email, name, super)
			if err != nil {
				return err
			}
			cli.printf("%s %s (%s) is a %s\n", p.ID, p.Name, p.Email, strings.ReplaceAll(p.Role, "_", " "))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "the admin's email")
	cmd.Flags().StringVar(&name, "name", "", "the admin's name")
	cmd.Flags().StringVar(&id, "id", "", "the admin's Supabase user ID, required for new admins")
	cmd.Flags().BoolVar(&super, "super", false, "make a super admin")
	return cmd
}

// addAdmin updates the Admin with the given email or creates it.
func (cli *commandLine) addAdmin(ctx context.Context, id, email, name string, super bool) (profile.Profile, error) {
	email = core.CleanString(email, true /* lower */)
	name = core.CleanString(name)
	now := core.NowFunc().UTC()

	p, err := cli.profiles.GetProfile(ctx, profile.GetFilter{Email: email})
	switch {
	case err == nil:
		if p.IsStudent() {
			return profile.Profile{}, errors.Errorf("%s belongs to a student", email)
		}
	case errors.Cause(err) != profile.ErrNotFound:
		return profile.Profile{}, errors.Wrap(err, "finding profile by email")
	default:
		if id = core.CleanString(id); id == "" {
			return profile.Profile{}, errIDRequired
		}
		if name == "" {
			name = strings.SplitN(email, "@", 2)[0]
		}
		p = profile.Profile{ID: id, Role: profile.RoleAdmin, Email: email, CreatedAt: now}
		if p, err = cli.profiles.CreateProfile(ctx, p); err != nil {
			return profile.Profile{}, errors.Wrap(err, "creating admin")
		}
	}

	if name != "" {
		p.Name = name
	}
	if super {
		p.Role = profile.RoleSuperAdmin
	}
	p.IsActive = true
	p.UpdatedAt = now
	p, err = cli.profiles.UpdateProfile(ctx, p)
	return p, errors.Wrap(err, "updating admin")
}
