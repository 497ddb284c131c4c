// Package cli implements the hearth commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"hearth/app/client/llm"
	"hearth/app/client/mcptools"
	"hearth/app/config"
	"hearth/app/service/agent"
	"hearth/app/service/editor"
	"hearth/app/service/engine"
	"hearth/app/service/episodic"
	"hearth/app/service/graph"
	"hearth/app/service/memory"
	"hearth/app/service/prompt"
	"hearth/app/service/queue"
	"hearth/app/service/retrieval"
	"hearth/app/service/room"
	"hearth/app/service/server"
	"hearth/app/service/tools"
	"hearth/app/util/mylog"
	"hearth/app/util/shutdown"

	"github.com/samber/do"
	"github.com/spf13/cobra"
)

var configPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "hearth",
	Short:         "File-backed room agent with episodic memory and a knowledge graph",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file (missing file means defaults and environment)")
}

// bootstrap loads the config, sets up logging and registers every service
// on a fresh injector. Services are built lazily on first invoke.
func bootstrap(ctx context.Context) (*do.Injector, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	di := do.New()

	do.ProvideValue(di, ctx)
	do.ProvideValue(di, cfg)
	do.ProvideValue(di, shutdown.NewFlag())

	do.Provide(di, llm.New)
	do.Provide(di, mcptools.New)
	do.Provide(di, room.New)
	do.Provide(di, memory.New)
	do.Provide(di, graph.New)
	do.Provide(di, episodic.New)
	do.Provide(di, prompt.New)
	do.Provide(di, retrieval.New)
	do.Provide(di, editor.New)
	do.Provide(di, tools.New)
	do.Provide(di, agent.New)
	do.Provide(di, queue.New)
	do.Provide(di, engine.New)
	do.Provide(di, server.New)

	return di, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err = mylog.Init(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// openRoom bootstraps and returns the named room.
func openRoom(cmd *cobra.Command, name string) (*do.Injector, *room.Room, error) {
	di, err := bootstrap(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	store, err := do.Invoke[*room.Store](di)
	if err != nil {
		return nil, nil, err
	}

	r, err := store.Room(name)
	if err != nil {
		return nil, nil, err
	}

	return di, r, nil
}

func printJSON(cmd *cobra.Command, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}
