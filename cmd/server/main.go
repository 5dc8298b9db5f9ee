package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vsanmetrics/vsan-exporter/internal/api"
	"github.com/vsanmetrics/vsan-exporter/internal/collector"
	"github.com/vsanmetrics/vsan-exporter/internal/config"
	"github.com/vsanmetrics/vsan-exporter/internal/logging"
	"github.com/vsanmetrics/vsan-exporter/internal/stats"
	"github.com/vsanmetrics/vsan-exporter/internal/version"
	"github.com/vsanmetrics/vsan-exporter/internal/vsphere"
)

func newCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "vsan-exporter",
		Short: "Export vSAN host performance statistics",
		Long: `vsan-exporter connects to a vCenter, discovers the hosts of one vSAN
cluster and serves their performance statistics in Prometheus or Wavefront
format under /vsan/metrics.`,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	return cmd
}

func run(configPath string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(logging.Options{
		Component: "exporter",
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		File:      cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	info := version.Get()
	logger.Info("Starting vSAN exporter",
		zap.String("version", info.Version),
		zap.String("gitCommit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("goVersion", info.GoVersion),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := collector.New(logger, vsphere.NewConnector(logger), stats.NewEngine(logger), cfg.CollectorConfig())
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start collector: %w", err)
	}

	apiServer := api.NewServer(logger, c, time.Duration(cfg.Server.RequestTimeout)*time.Second)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			c.Stop(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	c.Stop(shutdownCtx)

	logger.Info("Server exited")
	return nil
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
