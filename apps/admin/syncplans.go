package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/noteearly/noteearly/core/billing"
)

func (cli *commandLine) syncPlansCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "syncplans --file PLANS_FILE",
		Short: "Create or update the subscription plans listed in a YAML, JSON or TOML file",
		Long: `Create or update the subscription plans listed under the "plans" key of the file.
Plans are matched on their stripe_price_id; plans missing from the file are left unchanged.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				_ = cmd.Usage()
				return errHelp
			}
			plans, err := cli.loadPlans(file)
			if err != nil {
				return err
			}
			saved, err := cli.plans.SyncPlans(context.Background(), plans...)
			if err != nil {
				return err
			}
			for _, p := range saved {
				cli.printf("%s %s (max students: %d, active: %t)\n", p.ID, p.Name, p.MaxStudents, p.IsActive)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "the plans file")
	return cmd
}

func (cli *commandLine) loadPlans(file string) ([]billing.NewPlan, error) {
	v := viper.New()
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", file)
	}

	var plans []billing.NewPlan
	if err := v.UnmarshalKey("plans", &plans); err != nil {
		return nil, errors.Wrap(err, "decoding plans")
	}
	if len(plans) == 0 {
		return nil, errors.Errorf("%s: no plans found", file)
	}
	for i := range plans {
		if err := plans[i].Validate(cli.validate); err != nil {
			return nil, errors.Wrapf(err, "plan #%d", i+1)
		}
	}
	return plans, nil
}
