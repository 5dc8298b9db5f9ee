package collector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vsanmetrics/vsan-exporter/internal/metrics"
	"github.com/vsanmetrics/vsan-exporter/internal/stats"
	"github.com/vsanmetrics/vsan-exporter/internal/vsphere"
)

// HostResult is the outcome of one host's collection. A failed host has an
// empty Stats accumulator and a non-nil Err.
type HostResult struct {
	HostID string
	Info   stats.HostInfo
	Stats  *stats.Accumulator
	Err    error
}

// Result holds per host results ordered by host id.
type Result []HostResult

func (c *Collector) snapshot() ([]*hostEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cluster == nil {
		return nil, false
	}
	entries := make([]*hostEntry, 0, len(c.hosts))
	for _, e := range c.hosts {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ref.ID < entries[j].ref.ID })
	return entries, true
}

// StatsForAllHosts runs one collection pass over every connected host, one
// worker per host, and returns once all of them are done.
func (c *Collector) StatsForAllHosts(ctx context.Context) (Result, error) {
	c.logger.Info("Get stats for all hosts")
	entries, ok := c.snapshot()
	if !ok {
		c.logger.Error("Cluster not connected")
		return nil, ErrNotConnected
	}
	return c.collect(ctx, entries), nil
}

func (c *Collector) collect(ctx context.Context, entries []*hostEntry) Result {
	result := make(Result, len(entries))

	var g errgroup.Group
	if c.config.MaxConcurrentHosts > 0 {
		g.SetLimit(c.config.MaxConcurrentHosts)
	}
	for i, e := range entries {
		g.Go(func() error {
			result[i] = c.collectHost(ctx, e)
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// collectHost fetches and converts the statistics of one host. Failures
// are logged and yield an empty accumulator.
func (c *Collector) collectHost(ctx context.Context, e *hostEntry) HostResult {
	res := HostResult{HostID: e.ref.ID, Info: e.info, Stats: stats.NewAccumulator()}

	start := time.Now()
	raw, err := e.conn.FetchStats(ctx)
	var tree *stats.RawTree
	if err == nil {
		tree, err = stats.ParseRawTree(raw)
	}
	took := time.Since(start)
	metrics.RecordHostFetch(e.ref.ID, took, err != nil)
	c.logger.Info("Fetched host stats",
		zap.String("host", e.ref.ID),
		zap.Duration("took", took))

	if err != nil {
		c.logger.Error("Failed to retrieve stats for host", zap.String("host", e.ref.ID), zap.Error(err))
		res.Err = fmt.Errorf("failed to retrieve stats for host %s: %w", e.ref.ID, err)
		return res
	}

	res.Stats = c.engine.Convert(tree, e.info)
	return res
}

// StatsForHost collects one host. A cluster member that is not connected
// yet is connected first. Unknown hosts yield ErrHostNotFound and leave the
// host map untouched.
func (c *Collector) StatsForHost(ctx context.Context, hostID string) (Result, error) {
	c.logger.Info("Get stats for host", zap.String("host", hostID))
	if !c.Connected() {
		c.logger.Error("Cluster not connected")
		return nil, ErrNotConnected
	}

	e, err := c.hostEntry(ctx, hostID)
	if err != nil {
		return nil, err
	}
	return Result{c.collectHost(ctx, e)}, nil
}

func (c *Collector) lookupHost(hostID string) (*hostEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.hosts[hostID]
	return e, ok
}

func (c *Collector) hostEntry(ctx context.Context, hostID string) (*hostEntry, error) {
	if e, ok := c.lookupHost(hostID); ok {
		return e, nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// connected while waiting for the lock
	if e, ok := c.lookupHost(hostID); ok {
		return e, nil
	}

	if !c.lookups.Allow() {
		c.logger.Warn("Host lookup rate exceeded", zap.String("host", hostID))
		return nil, fmt.Errorf("%w: %s", ErrLookupThrottled, hostID)
	}

	c.mu.RLock()
	cluster := c.cluster
	c.mu.RUnlock()
	if cluster == nil {
		return nil, ErrNotConnected
	}

	c.logger.Warn("Host not connected, trying to connect", zap.String("host", hostID))
	refs, err := cluster.Hosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate cluster hosts: %w", err)
	}
	for _, ref := range refs {
		if ref.ID != hostID {
			continue
		}
		entries := c.connectHosts(ctx, cluster, []vsphere.HostRef{ref})
		e, ok := entries[hostID]
		if !ok {
			return nil, fmt.Errorf("%w: %s (connect failed)", ErrHostNotFound, hostID)
		}
		c.mu.Lock()
		c.hosts[hostID] = e
		n := len(c.hosts)
		c.mu.Unlock()
		metrics.SetConnectedHosts(n)
		return e, nil
	}

	c.logger.Error("Host not found in cluster", zap.String("host", hostID))
	return nil, fmt.Errorf("%w: %s", ErrHostNotFound, hostID)
}
