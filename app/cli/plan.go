package cli

import (
	"fmt"

	"hearth/app/service/room"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect a room's action plan",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <room>",
		Short: "Print the scheduled action plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlan(cmd, args[0], func(r *room.Room, plan *room.ActionPlan) error {
				printJSON(cmd, plan)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <room>",
		Short: "Cancel the scheduled action plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlan(cmd, args[0], func(r *room.Room, plan *room.ActionPlan) error {
				if err := r.ClearPlan(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled:", plan.Intent)
				return nil
			})
		},
	})

	RootCmd.AddCommand(cmd)
}

func withPlan(cmd *cobra.Command, name string, fn func(r *room.Room, plan *room.ActionPlan) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	r, err := room.NewStore(cfg.DataDir).Existing(name)
	if err != nil {
		return err
	}

	plan, err := r.ActivePlan()
	if err != nil {
		return err
	}
	if plan == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No action plan.")
		return nil
	}

	return fn(r, plan)
}
