package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/analysis"
	"github.com/ifc-inspector/inspector/internal/report"
	"github.com/ifc-inspector/inspector/internal/transport"
	"github.com/ifc-inspector/inspector/internal/viewer"
)

type analyzeOptions struct {
	table        tableOptions
	pollInterval time.Duration
	timeout      time.Duration
	outDir       string
	format       string
	snapshotDir  string
	noProgress   bool
}

func newAnalyzeCmd(a *app) *cobra.Command {
	o := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <model>",
		Short: "Upload a model, wait for its analysis and print the report",
		Example: `  inspector analyze plant.ifc
  inspector analyze plant.gltf --sort pipe_diameter_mm --desc --out reports
  inspector analyze plant.gltf --snapshot shots --filter FT`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runAnalyze(ctx, cmd, args[0], o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.table.filter, "filter", "", "only show instruments whose tag or type contains this text")
	f.StringVar(&o.table.sort, "sort", "", "sort by tag, type or pipe_diameter_mm")
	f.BoolVar(&o.table.desc, "desc", false, "sort descending")
	f.DurationVar(&o.pollInterval, "poll-interval", 0, "job status poll interval (default from config)")
	f.DurationVar(&o.timeout, "timeout", 0, "upload timeout (default from config)")
	f.StringVarP(&o.outDir, "out", "o", "", "also write the report into this directory")
	f.StringVar(&o.format, "format", string(report.FormatJSON), "report file format: json or msgpack")
	f.StringVar(&o.snapshotDir, "snapshot", "", "render glTF models with instrument markers into this directory")
	f.BoolVar(&o.noProgress, "no-progress", false, "hide the upload progress bar")

	return cmd
}

func (a *app) runAnalyze(ctx context.Context, cmd *cobra.Command, path string, o *analyzeOptions) error {
	format, err := report.ParseFormat(o.format)
	if err != nil {
		return err
	}
	if _, err := o.table.build(nil); err != nil {
		return err
	}

	src, file, err := transport.OpenSource(path)
	if err != nil {
		return err
	}
	defer file.Close()

	timeout := a.cfg.UploadTimeout()
	if o.timeout > 0 {
		timeout = o.timeout
	}
	interval := a.cfg.PollInterval()
	if o.pollInterval > 0 {
		interval = o.pollInterval
	}

	client := transport.NewClient(transport.Config{
		BaseURL: a.cfg.Client.APIBase,
		Timeout: timeout,
		Logger:  a.logger,
	})

	progress := newUploadProgress(cmd.ErrOrStderr(), src.Name, !o.noProgress && isTerminal())
	ctrl := analysis.New(client, client, analysis.Options{
		PollInterval: interval,
		Logger:       a.logger,
		OnChange:     progress.update,
	})
	defer ctrl.Close()

	err = ctrl.StartAnalysis(ctx, src)
	if err == nil {
		var state analysis.State
		state, err = ctrl.Wait(ctx)
		progress.finish()
		if err == nil {
			return a.reportAnalysis(ctx, cmd, path, progress.job(), state, format, o)
		}
	}
	progress.finish()

	if errors.Is(err, context.Canceled) {
		return errors.New("analysis interrupted")
	}
	return err
}

func (a *app) reportAnalysis(ctx context.Context, cmd *cobra.Command, path, jobID string, state analysis.State, format report.Format, o *analyzeOptions) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Analysis of %s finished (job %s)\n", state.Upload.FileName, jobID)
	if err := printReport(out, state.Report, o.table); err != nil {
		return err
	}

	if o.outDir != "" {
		saved, err := report.Save(o.outDir, state.Report, format, time.Now())
		if err != nil {
			return fmt.Errorf("saving report: %w", err)
		}
		fmt.Fprintf(out, "Report written to %s\n", saved)
	}

	if o.snapshotDir != "" {
		if !viewer.Supported(path) {
			a.logger.Warn("snapshots need a glTF model, skipping", zap.String("model", path))
			return nil
		}
		shot, err := a.snapshot(ctx, path, state.Report, o.snapshotDir, a.viewport())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Snapshot written to %s (%d markers)\n", shot.path, shot.markers)
	}
	return nil
}
