package main

import (
	"embed"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"voicescope/internal/bootstrap"
	"voicescope/internal/config"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "voicescope-desktop",
		Short:        "Live microphone spectrum and voice activity monitor",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := os.Setenv(config.PathEnv, configPath); err != nil {
					return err
				}
			}
			return runDesktop()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file (default $"+config.PathEnv+")")

	var codecName string
	engineCmd := &cobra.Command{
		Use:   bootstrap.EngineCommand,
		Short: "Run the reference processing engine on stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return bootstrap.RunEngine(ctx, configPath, codecName, os.Stdin, os.Stdout)
		},
	}
	engineCmd.Flags().StringVar(&codecName, "codec", "jsonl", "wire codec: jsonl or msgpack")
	root.AddCommand(engineCmd)

	return root
}

func runDesktop() error {
	level := os.Getenv("VOICESCOPE_LOG_LEVEL")
	slog.SetDefault(bootstrap.NewLogger(level))

	app := NewApp()
	err := wails.Run(&options.App{
		Title:     "voicescope",
		Width:     960,
		Height:    640,
		MinWidth:  640,
		MinHeight: 420,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		slog.Error("desktop app failed", "err", err)
	}
	return err
}
