package main

import (
	"context"
	"os"

	"hearth/app/cli"
	"hearth/app/util/mylog"
)

func main() {
	mylog.Preinit()

	if err := cli.RootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
