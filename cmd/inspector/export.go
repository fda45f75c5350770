package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ifc-inspector/inspector/internal/report"
)

type exportOptions struct {
	table  tableOptions
	outDir string
	format string
	quiet  bool
}

func newExportCmd(a *app) *cobra.Command {
	o := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export <report>",
		Short: "Print a saved report and re-export it as JSON or msgpack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(o.format)
			if err != nil {
				return err
			}
			r, err := report.Load(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !o.quiet {
				if err := printReport(out, r, o.table); err != nil {
					return err
				}
			}
			if o.outDir == "" {
				return nil
			}
			saved, err := report.Save(o.outDir, r, format, time.Now())
			if err != nil {
				return fmt.Errorf("saving report: %w", err)
			}
			fmt.Fprintf(out, "Report written to %s\n", saved)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.table.filter, "filter", "", "only show instruments whose tag or type contains this text")
	f.StringVar(&o.table.sort, "sort", "", "sort by tag, type or pipe_diameter_mm")
	f.BoolVar(&o.table.desc, "desc", false, "sort descending")
	f.StringVarP(&o.outDir, "out", "o", "", "write the report into this directory")
	f.StringVar(&o.format, "format", string(report.FormatJSON), "output format: json or msgpack")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "do not print the table")

	return cmd
}
