package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/config"
	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/scene"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// app carries what every subcommand needs once the persistent flags are
// parsed.
type app struct {
	configPath string
	verbose    bool
	apiBase    string

	cfg    *config.AppConfig
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "inspector",
		Short: "Check engineering models for instrument installation problems",
		Long: `inspector uploads IFC or glTF models to the analysis backend, waits for the
instrument report and prints it. glTF models can also be rendered headlessly,
with instrument markers, to a PNG snapshot.`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "configuration file (defaults apply when unset or missing)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")
	pf.StringVar(&a.apiBase, "api-base", "", "analysis backend base URL, overrides client.api_base")

	cmd.AddCommand(newAnalyzeCmd(a), newViewCmd(a), newExportCmd(a))
	return cmd
}

func (a *app) init() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.apiBase != "" {
		cfg.Client.APIBase = a.apiBase
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	logger.Debug("configuration loaded",
		zap.String("config", a.configPath),
		zap.String("api_base", cfg.Client.APIBase))
	return nil
}

func (a *app) viewport() scene.Viewport {
	return scene.Viewport{
		Width:            a.cfg.Viewer.Width,
		Height:           a.cfg.Viewer.Height,
		DevicePixelRatio: a.cfg.Viewer.DevicePixelRatio,
	}
}

func (a *app) background() scene.Color {
	return scene.Color(a.cfg.BackgroundColor())
}
