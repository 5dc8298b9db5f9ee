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
	"github.com/vsanmetrics/vsan-exporter/internal/k8s/client"
	"github.com/vsanmetrics/vsan-exporter/internal/logging"
	"github.com/vsanmetrics/vsan-exporter/internal/operator"
	"github.com/vsanmetrics/vsan-exporter/internal/version"
)

func newCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "vsan-operator",
		Short: "Publish vSAN exporter targets as Kubernetes Services and a ServiceMonitor",
		Long: `vsan-operator polls the exporter's serviceDiscovery endpoint and keeps one
headless Service with Endpoints per vSAN cluster, plus a ServiceMonitor for
the Prometheus operator. Everything it created is removed on shutdown.`,
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
		Component: "operator",
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		File:      cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	dc := cfg.DiscoveryClientConfig()
	dc.Component = "operator"
	if dc.VCenter == "" {
		return fmt.Errorf("no vCenter configured, set VCENTER")
	}

	oc := cfg.OperatorConfig()
	oc.Namespace, err = client.Namespace(oc.Namespace)
	if err != nil {
		return err
	}

	factory, err := client.NewFactory(logger, client.ClientMode(cfg.Operator.KubeMode), cfg.Operator.Kubeconfig)
	if err != nil {
		return err
	}
	if err := factory.ValidateConnection(); err != nil {
		return err
	}

	logger.Info("Starting vSAN operator",
		zap.String("version", version.Version),
		zap.String("namespace", oc.Namespace),
		zap.String("vcenter", dc.VCenter))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := discovery.NewClient(logger, dc)
	op := operator.New(logger, factory.Client(), factory.DynamicClient(), source, oc)
	return op.Run(ctx)
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
