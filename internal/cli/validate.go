package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pitabwire/formflow/internal/definition"
)

func newValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check templates, flows and the manifest for reference errors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			b, err := definition.NewLoader().Load(definition.Sources{
				TemplateDirs: []string{cfg.Definitions.TemplatesDir},
				FlowDirs:     []string{cfg.Definitions.FlowsDir},
				ManifestPath: cfg.Definitions.ManifestPath,
			})
			if err != nil {
				return err
			}

			verrs := definition.NewValidator().Validate(b)
			var stale []definition.VError
			if !cfg.Definitions.StrictChecksums {
				stale, verrs = definition.SplitChecksumErrors(verrs)
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				if err := opts.printJSON(out, map[string]any{
					"templates": len(b.Templates),
					"flows":     len(b.Flows),
					"errors":    verrs,
					"warnings":  stale,
				}); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(verrs)+len(stale))
				for _, e := range verrs {
					rows = append(rows, []string{"error", e.Code, e.Path, e.Message})
				}
				for _, e := range stale {
					rows = append(rows, []string{"warning", e.Code, e.Path, e.Message})
				}
				renderTable(out, []string{"LEVEL", "CODE", "PATH", "MESSAGE"}, rows)
			}

			if len(verrs) > 0 {
				return fmt.Errorf("%d definition error(s)", len(verrs))
			}
			if !opts.jsonOut {
				if len(stale) > 0 {
					printWarning(out, fmt.Sprintf("%d checksum mismatch(es), run manifest build", len(stale)))
				}
				printSuccess(out, fmt.Sprintf("%d templates and %d flows are valid", len(b.Templates), len(b.Flows)))
			}
			return nil
		},
	}
}
