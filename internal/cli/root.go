// Package cli implements formflowctl, the operator command line for form
// definitions and persisted submissions.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/formflow/internal/config"
)

type globalOptions struct {
	configPath string
	jsonOut    bool
	verbose    bool
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath)
}

// logger writes development logs to stderr with --verbose and discards them
// otherwise.
func (o *globalOptions) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (o *globalOptions) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRootCmd creates the root command with all subcommands.
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "formflowctl",
		Short: "Operate formflow definitions and submissions",
		Long: titleStyle.Render("formflowctl") + " " + mutedStyle.Render(version) + "\n" +
			"  Build and check template manifests, validate flows, audit the submission mirror.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to configuration file")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr")

	root.AddCommand(newManifestCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	root.AddCommand(newAuditCmd(opts))
	root.AddCommand(newRollbackCmd(opts))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "formflowctl %s\n", version)
		},
	})

	return root
}
