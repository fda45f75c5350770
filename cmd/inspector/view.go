package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/loader"
	"github.com/ifc-inspector/inspector/internal/models"
	"github.com/ifc-inspector/inspector/internal/report"
	"github.com/ifc-inspector/inspector/internal/scene"
	"github.com/ifc-inspector/inspector/internal/viewer"
)

type viewOptions struct {
	outDir     string
	reportPath string
	width      int
	height     int
}

func newViewCmd(a *app) *cobra.Command {
	o := &viewOptions{}

	cmd := &cobra.Command{
		Use:   "view <model.gltf>",
		Short: "Load a glTF model headlessly, repair and frame it, and save a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runView(ctx, cmd, args[0], o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.outDir, "out", "o", "", "snapshot directory (default viewer.snapshot_directory)")
	f.StringVarP(&o.reportPath, "report", "r", "", "JSON or msgpack report whose instruments are marked")
	f.IntVar(&o.width, "width", 0, "viewport width in CSS pixels (default viewer.width)")
	f.IntVar(&o.height, "height", 0, "viewport height in CSS pixels (default viewer.height)")

	return cmd
}

func (a *app) runView(ctx context.Context, cmd *cobra.Command, path string, o *viewOptions) error {
	if !viewer.Supported(path) {
		return fmt.Errorf("%s: only .gltf and .glb models can be viewed", path)
	}

	var r *models.Report
	if o.reportPath != "" {
		var err error
		if r, err = report.Load(o.reportPath); err != nil {
			return err
		}
	}

	vp := a.viewport()
	if o.width > 0 {
		vp.Width = o.width
	}
	if o.height > 0 {
		vp.Height = o.height
	}
	dir := o.outDir
	if dir == "" {
		dir = a.cfg.Viewer.SnapshotDir
	}

	shot, err := a.snapshot(ctx, path, r, dir, vp)
	if err != nil {
		return err
	}
	printLoad(cmd.OutOrStdout(), shot)
	return nil
}

type snapshotResult struct {
	path    string
	markers int
	load    loader.Result
}

// snapshot loads a model into a headless viewer, marks the instruments of r
// when given, and writes the rendered frame into dir.
func (a *app) snapshot(ctx context.Context, path string, r *models.Report, dir string, vp scene.Viewport) (*snapshotResult, error) {
	bg := a.background()
	h := viewer.NewHeadless(viewer.HeadlessOptions{
		Viewport:   vp,
		Background: bg,
		AssetDir:   a.cfg.Viewer.AssetDirectory,
		Logger:     a.logger,
	})
	ld := loader.New(h, loader.Options{
		Viewport:       vp,
		Background:     bg,
		ResizeDebounce: a.cfg.ResizeDebounce(),
		Logger:         a.logger,
	})
	defer func() {
		if err := ld.Close(); err != nil {
			a.logger.Debug("closing viewer", zap.Error(err))
		}
	}()

	if err := ld.Load(ctx, path); err != nil {
		return nil, err
	}

	res := &snapshotResult{}
	if r != nil {
		res.markers = ld.ShowInstruments(r)
	}
	res.load = ld.LastResult()

	saved, err := h.SaveSnapshot(dir, time.Now())
	if err != nil {
		return nil, fmt.Errorf("saving snapshot: %w", err)
	}
	res.path = saved
	return res, nil
}

func printLoad(w io.Writer, s *snapshotResult) {
	rep := s.load.Repair
	fmt.Fprintf(w, "Meshes: %d, repaired materials: %d (revealed %d, replaced %d, coerced %d)\n",
		rep.Meshes, rep.Changed(), rep.Revealed, rep.Replaced, rep.Coerced)
	if rep.Failed > 0 {
		fmt.Fprintf(w, "Repair failed on %d meshes\n", rep.Failed)
	}

	fit := s.load.Fit
	if fit.Camera != nil {
		size := fit.Volume.Size
		fmt.Fprintf(w, "Bounds: %.3g x %.3g x %.3g", size.X(), size.Y(), size.Z())
		if fit.Flat {
			fmt.Fprintf(w, " (flat, lifted %.3g)", fit.Lift)
		}
		fmt.Fprintln(w)
	}

	if len(s.load.Render.Failures) > 0 {
		fmt.Fprintf(w, "Render attempts failed: %d\n", len(s.load.Render.Failures))
	}
	if s.markers > 0 {
		fmt.Fprintf(w, "Instrument markers: %d\n", s.markers)
	}
	fmt.Fprintf(w, "Snapshot written to %s\n", s.path)
}
