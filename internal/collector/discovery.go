package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/vsanmetrics/vsan-exporter/internal/metrics"
	"github.com/vsanmetrics/vsan-exporter/internal/vsphere"
)

// Target is one Prometheus HTTP service discovery record.
type Target struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels"`
}

// MetricsPath returns the per host metrics path served by the exporter.
func MetricsPath(hostID string) string {
	return "/vsan/metrics/" + hostID
}

// ServiceDiscovery returns one record per connected host, each pointing at
// serverHost. Host membership is reconciled first when the check interval
// has elapsed.
func (c *Collector) ServiceDiscovery(ctx context.Context, serverHost string) ([]Target, error) {
	if !c.Connected() {
		return []Target{}, nil
	}
	if _, err := c.CheckConsistency(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
		c.logger.Error("Host consistency check failed", zap.Error(err))
	}

	c.mu.RLock()
	cluster := c.cluster
	c.mu.RUnlock()
	if cluster == nil {
		return []Target{}, nil
	}

	ids := c.HostIDs()
	targets := make([]Target, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, Target{
			Targets: []string{serverHost},
			Labels: map[string]string{
				"__metrics_path__": MetricsPath(id),
				"cluster_name":     cluster.Name(),
				"cluster_id":       cluster.ID(),
				"__scheme__":       "http",
			},
		})
	}
	return targets, nil
}

// ConsistencyResult reports the hosts changed by a membership check.
type ConsistencyResult struct {
	Checked bool
	Added   []string
	Evicted []string
}

// CheckConsistency compares the connected hosts with the live cluster
// membership once the check interval has elapsed: new members are
// connected and departed ones evicted. In-flight collection passes keep
// the entries they started with.
func (c *Collector) CheckConsistency(ctx context.Context) (ConsistencyResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	cluster, last := c.cluster, c.lastCheck
	c.mu.RUnlock()
	if cluster == nil {
		return ConsistencyResult{}, ErrNotConnected
	}
	now := c.now()
	if now.Sub(last) < c.config.ConsistencyCheckInterval {
		return ConsistencyResult{}, nil
	}

	c.logger.Info("Check consistency of connected hosts against cluster hosts",
		zap.Time("lastCheck", last.UTC()))

	res, err := c.reconcile(ctx, cluster)
	metrics.RecordReconciliation(len(res.Added), len(res.Evicted), err)
	if err != nil {
		return res, fmt.Errorf("failed to reconcile hosts: %w", err)
	}

	c.mu.Lock()
	c.lastCheck = c.now()
	n := len(c.hosts)
	c.mu.Unlock()
	metrics.SetConnectedHosts(n)
	return res, nil
}

func (c *Collector) reconcile(ctx context.Context, cluster vsphere.Cluster) (ConsistencyResult, error) {
	res := ConsistencyResult{Checked: true}

	refs, err := cluster.Hosts(ctx)
	if err != nil {
		return res, err
	}

	live := make(map[string]bool, len(refs))
	c.mu.RLock()
	var missing []vsphere.HostRef
	for _, ref := range refs {
		live[ref.ID] = true
		if _, ok := c.hosts[ref.ID]; !ok {
			missing = append(missing, ref)
		}
	}
	c.mu.RUnlock()

	var added map[string]*hostEntry
	if len(missing) > 0 {
		ids := make([]string, 0, len(missing))
		for _, ref := range missing {
			ids = append(ids, ref.ID)
		}
		c.logger.Info("Hosts not connected, trying to connect", zap.Strings("hosts", ids))
		added = c.connectHosts(ctx, cluster, missing)
	}

	var evicted []*hostEntry
	c.mu.Lock()
	for id, e := range added {
		c.hosts[id] = e
		res.Added = append(res.Added, id)
	}
	for id, e := range c.hosts {
		if !live[id] {
			c.logger.Info("Host obsolete in the connection list, remove it", zap.String("host", id))
			delete(c.hosts, id)
			evicted = append(evicted, e)
			res.Evicted = append(res.Evicted, id)
		}
	}
	c.mu.Unlock()

	for _, e := range evicted {
		c.closeHost(e)
	}
	sort.Strings(res.Added)
	sort.Strings(res.Evicted)
	return res, nil
}
