// Package main is the entry point for formflowctl.
package main

import (
	"context"
	"os"

	"github.com/pitabwire/formflow/internal/cli"
)

// version is set via ldflags.
var version = "dev"

func main() {
	root := cli.NewRootCmd(version)
	if err := root.ExecuteContext(context.Background()); err != nil {
		cli.PrintError(os.Stderr, err.Error())
		os.Exit(1)
	}
}
