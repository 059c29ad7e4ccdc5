package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/ocrdocumentflow/internal/ocrclient"
	"github.com/Lllllllleong/ocrdocumentflow/internal/services"
	"github.com/Lllllllleong/ocrdocumentflow/internal/store"
)

func newPurgeCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Retry deletion of remote jobs whose cleanup failed",
		Long: `Purge walks the pending-deletion ledger and retries deleting each remote job.
Jobs deleted successfully, or already gone, are removed from the ledger.
Use --list to only show what is pending.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ledger, err := store.Open(ctx, cfg.Store)
			if err != nil {
				return err
			}
			if c, ok := ledger.(io.Closer); ok {
				defer c.Close()
			}

			if list {
				pending, err := ledger.List(ctx)
				if err != nil {
					return err
				}
				for _, p := range pending {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", p.Handle, p.Flow, p.RecordedAt.Format("2006-01-02 15:04:05"), p.LastError)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d pending\n", len(pending))
				return nil
			}

			sp := newSpinner("Purging remote jobs...")
			sp.Start()
			client := ocrclient.NewDemoClient(cfg.Flow.Kind, 0)
			report, err := services.Purge(ctx, client, ledger)
			sp.Stop()
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ deleted %d\n", report.Deleted)
			if report.Failed > 0 {
				color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(), "⚠ still pending %d\n", report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "only list pending deletions")
	return cmd
}
