package cli

import (
	"log/slog"
	"os/signal"
	"syscall"

	"hearth/app/service/engine"
	"hearth/app/service/server"

	"github.com/samber/do"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve rooms over HTTP and fire due plans and alarms",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	di, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer di.Shutdown()
	defer slog.Info("Waiting for services to finish...")

	engineSvc, err := do.Invoke[*engine.Service](di)
	if err != nil {
		return err
	}

	serverSvc, err := do.Invoke[*server.Service](di)
	if err != nil {
		return err
	}

	slog.Info("Service started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		engineSvc.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return serverSvc.Run(gctx)
	})

	err = g.Wait()

	slog.Info("Shutting down...")

	return err
}
