package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vsanmetrics/vsan-exporter/internal/config"
	"github.com/vsanmetrics/vsan-exporter/internal/discovery"
	"github.com/vsanmetrics/vsan-exporter/internal/logging"
	"github.com/vsanmetrics/vsan-exporter/internal/version"
)

func newCommand() *cobra.Command {
	var (
		configPath string
		standalone bool
	)

	cmd := &cobra.Command{
		Use:   "vsan-servicediscovery",
		Short: "Poll the exporter's service discovery endpoint",
		Long: `vsan-servicediscovery polls the exporter's serviceDiscovery endpoint and
writes the target list to a file for Prometheus file based discovery. In
standalone mode the list is printed instead.`,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, standalone)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	cmd.Flags().BoolVar(&standalone, "standalone", false, "print targets to stdout instead of writing the output file")
	return cmd
}

func run(configPath string, standalone bool) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Options{
		Component: "servicediscovery",
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		File:      cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	dc := cfg.DiscoveryClientConfig()
	dc.Standalone = dc.Standalone || standalone
	if dc.VCenter == "" {
		return fmt.Errorf("no vCenter configured, set VCENTER")
	}

	logger.Info("Starting vSAN service discovery",
		zap.String("version", version.Version),
		zap.String("vcenter", dc.VCenter),
		zap.String("mode", dc.Mode),
		zap.Bool("standalone", dc.Standalone))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return discovery.NewSidecar(logger, dc, os.Stdout).Run(ctx)
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
