package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/ocrdocumentflow/internal/services"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <input-folder>",
		Short: "List the files a run would process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := services.ScanInput(args[0])
			if err != nil {
				return err
			}
			run := cfg.Snapshot()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tSIZE\tPAGES\tSPLIT")
			for _, f := range files {
				split := "-"
				if f.IsPDF() && run.AutoSplit &&
					(f.SizeBytes > run.MaxUploadBytes || (run.SplitByPages && f.PageCount > run.MaxPagesPerPart)) {
					split = "yes"
				}
				fmt.Fprintf(w, "%s\t%.1f MB\t%d\t%s\n", f.Name, float64(f.SizeBytes)/(1024*1024), f.PageCount, split)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			color.New(color.FgCyan).Fprintf(cmd.OutOrStdout(), "%d file(s)\n", len(files))
			return nil
		},
	}
}
