// Command voicescope runs the live audio pipeline headless, or acts as the
// reference processing engine speaking the engine protocol on stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"voicescope/internal/bootstrap"
	"voicescope/internal/config"
	"voicescope/internal/domain"
	"voicescope/internal/observe"
	"voicescope/internal/server"
)

// version is set at build time.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "voicescope",
		Short:         "Live microphone spectrum and voice activity monitor",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file (default $"+config.PathEnv+")")

	root.AddCommand(newRunCmd(&configPath), newEngineCmd(&configPath))
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var autoStart bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve session control, the live display and metrics over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHeadless(cmd.Context(), *configPath, autoStart)
		},
	}
	cmd.Flags().BoolVar(&autoStart, "start", false, "start a capture session immediately")
	return cmd
}

func newEngineCmd(configPath *string) *cobra.Command {
	var codecName string

	cmd := &cobra.Command{
		Use:   bootstrap.EngineCommand,
		Short: "Run the reference processing engine on stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd.Context(), *configPath, codecName)
		},
	}
	cmd.Flags().StringVar(&codecName, "codec", "jsonl", "wire codec: jsonl or msgpack")
	return cmd
}

func runHeadless(parent context.Context, configPath string, autoStart bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := bootstrap.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(contextOrBackground(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	services, err := bootstrap.Build(bootstrap.Options{
		ConfigPath: configPath,
		Config:     &cfg,
		Logger:     logger,
		Metrics:    observe.DefaultMetrics(),
	})
	if err != nil {
		return err
	}
	defer services.Close()

	srv := server.New(services.Controller, services.Presenter, services.Hub, services.Health, services.Metrics, logger.With("component", "http"))
	httpServer := &http.Server{
		Addr:              cfg.Presentation.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("voicescope starting",
		"version", version,
		"listen", cfg.Presentation.ListenAddr,
		"engine", services.Config.Engine.Command,
		"codec", cfg.Engine.Codec,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return services.Loop.Run(gctx)
	})

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if autoStart {
		if err := services.Controller.Start(ctx); err != nil {
			slog.Error("auto start failed", "err", err)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := services.Controller.Stop(shutdownCtx); err != nil && !errors.Is(err, domain.ErrNoActiveSession) {
			errs = append(errs, fmt.Errorf("stop session: %w", err))
		}
		services.Hub.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := shutdownMetrics(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		slog.Error("voicescope stopped with error", "err", err)
		return err
	}
	slog.Info("voicescope stopped")
	return nil
}

func runEngine(parent context.Context, configPath string, codecName string) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return bootstrap.RunEngine(ctx, configPath, codecName, os.Stdin, os.Stdout)
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
