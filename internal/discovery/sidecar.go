package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vsanmetrics/vsan-exporter/internal/metrics"
)

// Sidecar periodically refreshes the server list file from the discovery
// endpoint.
type Sidecar struct {
	logger   *zap.Logger
	client   *Client
	writer   *Writer
	interval time.Duration
	out      io.Writer
	once     bool
}

// NewSidecar creates a sidecar. In standalone mode Run performs a single
// iteration and prints the resulting server list to out.
func NewSidecar(logger *zap.Logger, config Config, out io.Writer) *Sidecar {
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	output := config.OutputFile
	if output == "" {
		output = DefaultConfig().OutputFile
	}
	return &Sidecar{
		logger:   logger,
		client:   NewClient(logger, config),
		writer:   NewWriter(output),
		interval: interval,
		out:      out,
		once:     config.Standalone,
	}
}

// Run refreshes the server list until ctx is cancelled. Iteration errors
// are logged and retried on the next tick.
func (s *Sidecar) Run(ctx context.Context) error {
	s.logger.Info("Starting service discovery",
		zap.Duration("interval", s.interval),
		zap.String("output", s.writer.Path()),
		zap.Bool("standalone", s.once))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Refresh(ctx); err != nil {
			s.logger.Error("Cannot get the providers through service discovery", zap.Error(err))
		}

		if s.once {
			return s.print()
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Service discovery stopped")
			return nil
		case <-ticker.C:
			s.logger.Info("Service discovery wakes up")
		}
	}
}

// Refresh performs one fetch and writes the result when it changed.
func (s *Sidecar) Refresh(ctx context.Context) error {
	body, err := s.client.Fetch(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("Received providers", zap.ByteString("providers", body))

	written, err := s.writer.Write(body)
	if err != nil {
		return err
	}
	if written {
		metrics.RecordDiscoveryWrite()
		s.logger.Info("Server list updated", zap.String("path", s.writer.Path()))
	}
	return nil
}

func (s *Sidecar) print() error {
	data, err := os.ReadFile(s.writer.Path())
	if err != nil {
		return fmt.Errorf("failed to read server list: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("server list is not valid JSON: %w", err)
	}
	buf.WriteByte('\n')
	_, err = s.out.Write(buf.Bytes())
	return err
}
