package cli

import (
	"context"

	"hearth/app/service/graph"
	"hearth/app/service/room"
	"hearth/app/util/shutdown"

	"github.com/samber/do"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build the knowledge graph of a room from its chat logs",
	}

	passes := []struct {
		use, short string
		run        func(b *graph.Builder, ctx context.Context, r *room.Room) (graph.Result, error)
	}{
		{"build <room>", "Fast pass: entities and provisional co-occurrence edges", (*graph.Builder).BuildEntities},
		{"refine <room>", "Classify provisional edges into relations", (*graph.Builder).RefineRelations},
		{"deepen <room>", "Rich pass: normalize names and extract typed facts", (*graph.Builder).Deepen},
	}

	for _, p := range passes {
		run := p.run
		cmd.AddCommand(&cobra.Command{
			Use:   p.use,
			Short: p.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBatch(cmd, args[0], func(di *do.Injector, r *room.Room) (any, error) {
					b, err := do.Invoke[*graph.Builder](di)
					if err != nil {
						return nil, err
					}
					return run(b, cmd.Context(), r)
				})
			},
		})
	}

	RootCmd.AddCommand(cmd)
}

// runBatch runs a resumable pipeline with the shutdown flag watching
// termination signals, then prints its result. An interrupted run still
// exits 0.
func runBatch(cmd *cobra.Command, name string, fn func(di *do.Injector, r *room.Room) (any, error)) error {
	di, r, err := openRoom(cmd, name)
	if err != nil {
		return err
	}
	defer di.Shutdown()

	stop := do.MustInvoke[*shutdown.Flag](di)
	stop.Watch()
	defer stop.Close()

	res, err := fn(di, r)
	if err != nil {
		return err
	}

	printJSON(cmd, res)

	return nil
}
