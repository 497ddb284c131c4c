package cli

import (
	"hearth/app/service/episodic"
	"hearth/app/service/room"

	"github.com/samber/do"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "episodic",
		Short: "Summarize conversations into episodic memory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <room>",
		Short: "Process every pending archived chat log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args[0], func(di *do.Injector, r *room.Room) (any, error) {
				p, err := do.Invoke[*episodic.Pipeline](di)
				if err != nil {
					return nil, err
				}
				return p.Import(cmd.Context(), r)
			})
		},
	})

	active := &cobra.Command{
		Use:   "active <room>",
		Short: "Process the live conversation, continuing where the last run stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			excerpt, _ := cmd.Flags().GetString("excerpt")

			return runBatch(cmd, args[0], func(di *do.Injector, r *room.Room) (any, error) {
				p, err := do.Invoke[*episodic.Pipeline](di)
				if err != nil {
					return nil, err
				}
				return p.Active(cmd.Context(), r, excerpt)
			})
		},
	}
	active.Flags().String("excerpt", "", "Excerpt of the live log to read (default: the room's log.txt)")
	cmd.AddCommand(active)

	RootCmd.AddCommand(cmd)
}
