// Package operator mirrors the exporter's service discovery targets into
// Kubernetes objects picked up by the Prometheus operator: one headless
// Service with manual Endpoints per vSAN cluster and a ServiceMonitor that
// scrapes them.
package operator

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"github.com/vsanmetrics/vsan-exporter/internal/discovery"
)

// Config holds the operator configuration
type Config struct {
	Label              string `yaml:"label"`
	LabelKey           string `yaml:"label_key"`
	ServiceMonitorName string `yaml:"service_monitor_name"`
	SecretName         string `yaml:"secret_name"`
	Namespace          string `yaml:"namespace"`

	// Scheme is used by Prometheus to scrape the exporters.
	Scheme string `yaml:"-"`
	// CACertFile is the local CA certificate. When present Prometheus
	// verifies the exporters with the copy mounted from SecretName.
	CACertFile string        `yaml:"-"`
	Interval   time.Duration `yaml:"-"`
}

// DefaultConfig returns the default operator configuration
func DefaultConfig() Config {
	return Config{
		Label:      "vsan-monitoring",
		LabelKey:   "app",
		SecretName: "bearer-token-secret",
		Scheme:     "https",
		CACertFile: "/etc/secret-volume/ca_cert.pem",
		Interval:   300 * time.Second,
	}
}

// Source provides the raw service discovery document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Operator keeps the Kubernetes objects in line with service discovery.
type Operator struct {
	logger   *zap.Logger
	core     kubernetes.Interface
	dynamic  dynamic.Interface
	source   Source
	config   Config
	lastHash string

	// lookupHost resolves a host name to addresses.
	lookupHost func(ctx context.Context, host string) ([]string, error)
}

// New creates an operator.
func New(logger *zap.Logger, core kubernetes.Interface, dyn dynamic.Interface, source Source, config Config) *Operator {
	defaults := DefaultConfig()
	if config.Label == "" {
		config.Label = defaults.Label
	}
	if config.LabelKey == "" {
		config.LabelKey = defaults.LabelKey
	}
	if config.ServiceMonitorName == "" {
		config.ServiceMonitorName = config.Label
	}
	if config.SecretName == "" {
		config.SecretName = defaults.SecretName
	}
	if config.Scheme == "" {
		config.Scheme = defaults.Scheme
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	return &Operator{
		logger:     logger,
		core:       core,
		dynamic:    dyn,
		source:     source,
		config:     config,
		lookupHost: net.DefaultResolver.LookupHost,
	}
}

func (o *Operator) selector() string {
	return o.config.LabelKey + "=" + o.config.Label
}

func (o *Operator) labels() map[string]string {
	return map[string]string{o.config.LabelKey: o.config.Label}
}

// Run polls service discovery until ctx is cancelled, then removes every
// object it manages.
func (o *Operator) Run(ctx context.Context) error {
	o.logger.Info("Starting operator",
		zap.String("namespace", o.config.Namespace),
		zap.String("selector", o.selector()),
		zap.Duration("interval", o.config.Interval))

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	for {
		if err := o.Sync(ctx); err != nil {
			o.logger.Error("Failed to sync service discovery targets", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			o.logger.Info("Operator stopping, cleaning up services, endpoints and ServiceMonitor")
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			return o.Cleanup(cleanupCtx)
		case <-ticker.C:
		}
	}
}

// Sync fetches the discovery document and reconciles when it changed
// since the last successful reconciliation.
func (o *Operator) Sync(ctx context.Context) error {
	body, err := o.source.Fetch(ctx)
	if err != nil {
		return err
	}
	sum := sha1.Sum(body)
	hash := hex.EncodeToString(sum[:])
	if hash == o.lastHash {
		return nil
	}

	targets, err := discovery.ParseTargets(body)
	if err != nil {
		return err
	}
	if err := o.Reconcile(ctx, targets); err != nil {
		return err
	}
	o.lastHash = hash
	return nil
}

// cluster collects the scrape targets of one vSAN cluster.
type cluster struct {
	name  string
	hosts map[string]bool
	ports map[int32]bool
	paths map[string]bool
}

func (c *cluster) sortedHosts() []string {
	return sortedKeys(c.hosts)
}

func (c *cluster) sortedPorts() []int32 {
	ports := make([]int32, 0, len(c.ports))
	for p := range c.ports {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// groupClusters groups targets by cluster name. Target hosts are resolved
// to IPv4 addresses since Endpoints only accept IPs.
func (o *Operator) groupClusters(ctx context.Context, targets []discovery.Target) (map[string]*cluster, error) {
	clusters := make(map[string]*cluster)
	for _, t := range targets {
		if len(t.Targets) == 0 {
			continue
		}
		name := t.Labels["cluster_name"]
		c, ok := clusters[name]
		if !ok {
			c = &cluster{name: name, hosts: map[string]bool{}, ports: map[int32]bool{}, paths: map[string]bool{}}
			clusters[name] = c
		}

		host, portStr, err := net.SplitHostPort(t.Targets[0])
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: %w", t.Targets[0], err)
		}
		port, err := strconv.ParseInt(portStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid port in target %q: %w", t.Targets[0], err)
		}
		ip, err := o.resolveIPv4(ctx, host)
		if err != nil {
			return nil, err
		}

		c.hosts[ip] = true
		c.ports[int32(port)] = true
		if path := t.Labels["__metrics_path__"]; path != "" {
			c.paths[path] = true
		}
	}
	return clusters, nil
}

func (o *Operator) resolveIPv4(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		return host, nil
	}
	addrs, err := o.lookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	return "", fmt.Errorf("no IPv4 address for %s", host)
}

// Reconcile creates, updates and deletes the Services, Endpoints and the
// ServiceMonitor to match targets.
func (o *Operator) Reconcile(ctx context.Context, targets []discovery.Target) error {
	clusters, err := o.groupClusters(ctx, targets)
	if err != nil {
		return err
	}
	o.logger.Info("Reconciling vSAN clusters", zap.Int("clusters", len(clusters)), zap.Int("targets", len(targets)))

	existing, err := o.listEndpoints(ctx)
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(clusters))
	for _, name := range clusterNames(clusters) {
		c := clusters[name]
		svcName := strings.ToLower(c.name)
		wanted[svcName] = true
		if ep, ok := existing[svcName]; ok {
			if err := o.updateEndpoints(ctx, ep, c.sortedHosts()); err != nil {
				o.logger.Error("Cannot update endpoints", zap.String("name", svcName), zap.Error(err))
			}
			continue
		}
		o.createServiceEndpoints(ctx, svcName, c.sortedHosts(), c.sortedPorts())
	}

	var obsolete []string
	for name := range existing {
		if !wanted[name] {
			obsolete = append(obsolete, name)
		}
	}
	sort.Strings(obsolete)
	o.deleteServiceEndpoints(ctx, obsolete)

	return o.applyServiceMonitor(ctx, clusters)
}

func clusterNames(clusters map[string]*cluster) []string {
	names := make([]string, 0, len(clusters))
	for name := range clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cleanup deletes every Service, Endpoints and the ServiceMonitor carrying
// the operator label.
func (o *Operator) Cleanup(ctx context.Context) error {
	existing, err := o.listEndpoints(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(existing))
	for name := range existing {
		names = append(names, name)
	}
	sort.Strings(names)
	o.deleteServiceEndpoints(ctx, names)

	if err := o.deleteServiceMonitor(ctx); err != nil {
		o.logger.Error("Cannot delete ServiceMonitor", zap.String("name", o.config.ServiceMonitorName), zap.Error(err))
		return err
	}
	o.logger.Info("Deleted ServiceMonitor", zap.String("name", o.config.ServiceMonitorName))
	return nil
}

// caFileExists reports whether Prometheus should verify exporter
// certificates.
func (o *Operator) caFileExists() bool {
	if o.config.CACertFile == "" {
		return false
	}
	_, err := os.Stat(o.config.CACertFile)
	return err == nil
}
