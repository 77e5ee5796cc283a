package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pitabwire/formflow/internal/persistence"
	"github.com/pitabwire/formflow/internal/reconcile"
	"github.com/pitabwire/formflow/internal/wiring"
	"github.com/pitabwire/formflow/model"
)

func newAuditCmd(opts *globalOptions) *cobra.Command {
	var filter model.SubmissionFilter
	var fix bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare database submissions with their mirror entries",
		Long: "Audit lists submissions whose mirror entry is missing or differs from the\n" +
			"database record. With --fix the mirror entry is rewritten from the database.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if filter.Empty() {
				return fmt.Errorf("one of --session or --sales-order is required")
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := opts.logger()
			stores, err := wiring.OpenStores(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer stores.Close()

			report, err := reconcile.NewAuditor(stores.Submissions, stores.Mirror, logger, nil).
				Audit(cmd.Context(), filter, fix)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				if err := opts.printJSON(out, report); err != nil {
					return err
				}
			} else {
				rows := make([][]string, len(report.Findings))
				for i, f := range report.Findings {
					rows[i] = []string{f.Kind, f.SubmissionID, f.MirrorPath, strconv.FormatBool(f.Fixed), f.Error}
				}
				renderTable(out, []string{"KIND", "SUBMISSION", "MIRROR PATH", "FIXED", "ERROR"}, rows)
			}

			if report.Clean() {
				if !opts.jsonOut {
					printSuccess(out, fmt.Sprintf("%d submission(s) checked, mirror is consistent", report.Checked))
				}
				return nil
			}
			if unfixed := countUnfixed(report); unfixed > 0 {
				return fmt.Errorf("%d of %d submission(s) not mirrored (%d missing, %d stale)",
					unfixed, report.Checked, report.Count(reconcile.KindMissing), report.Count(reconcile.KindStale))
			}
			if !opts.jsonOut {
				printSuccess(out, fmt.Sprintf("%d mirror entries rewritten", len(report.Findings)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.SessionID, "session", "", "audit one session")
	cmd.Flags().StringVar(&filter.SalesOrderNumber, "sales-order", "", "audit every submission of a sales order")
	cmd.Flags().StringVar(&filter.ItemNumber, "item", "", "narrow --sales-order to one item")
	cmd.Flags().BoolVar(&fix, "fix", false, "rewrite missing and stale mirror entries from the database")
	return cmd
}

func countUnfixed(r reconcile.Report) int {
	n := 0
	for _, f := range r.Findings {
		if !f.Fixed {
			n++
		}
	}
	return n
}

func newRollbackCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <submission-id>",
		Short: "Delete a submission from the database and the mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := opts.logger()
			stores, err := wiring.OpenStores(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer stores.Close()

			coordinator := persistence.NewCoordinator(stores.Submissions, stores.Mirror, persistence.WithLogger(logger))
			sub, err := coordinator.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return opts.printJSON(out, sub)
			}
			printSuccess(out, fmt.Sprintf("deleted submission %s (session %s, step %s)", sub.ID, sub.SessionID, sub.StepID))
			return nil
		},
	}
}
