package collector

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vsanmetrics/vsan-exporter/internal/metrics"
	"github.com/vsanmetrics/vsan-exporter/internal/stats"
	"github.com/vsanmetrics/vsan-exporter/internal/vsphere"
)

var (
	// ErrNotConnected is returned when no cluster session exists.
	ErrNotConnected    = errors.New("cluster not connected")
	// ErrHostNotFound is returned for hosts that are not cluster members.
	ErrHostNotFound    = errors.New("host not found in cluster")
	// ErrLookupThrottled is returned when an unknown host id arrives faster
	// than the lookup limiter allows.
	ErrLookupThrottled = errors.New("host lookup throttled")
)

// Config holds the collector configuration
type Config struct {
	// Credentials and ClusterName are used by Start to connect eagerly.
	// An empty Credentials.Host defers connecting to an explicit Connect call.
	Credentials vsphere.Credentials `yaml:"-"`
	ClusterName string              `yaml:"cluster"`

	// BearerToken is the token callers must present. A random one is
	// generated on connect when empty.
	BearerToken string `yaml:"-"`

	// ConsistencyCheckInterval gates host membership reconciliation.
	ConsistencyCheckInterval time.Duration `yaml:"consistency_check_interval"`

	// MaxConcurrentHosts bounds the per host fan-out. Zero means one worker
	// per host.
	MaxConcurrentHosts int `yaml:"max_concurrent_hosts"`

	// HostLookupsPerMinute throttles cluster lookups for hosts that are not
	// connected yet.
	HostLookupsPerMinute int `yaml:"host_lookups_per_minute"`
}

// DefaultConfig returns the default collector configuration
func DefaultConfig() Config {
	return Config{
		ConsistencyCheckInterval: 300 * time.Second,
		HostLookupsPerMinute:     30,
	}
}

type hostEntry struct {
	ref  vsphere.HostRef
	conn vsphere.HostConn
	info stats.HostInfo
}

// Collector owns the vCenter session and one vSAN session per cluster
// member, and collects converted statistics from them.
//
// Connect, reconciliation and lazy host connects are serialized by writeMu.
// Collection passes only read a snapshot of the host map and may run
// concurrently with each other and with a writer.
type Collector struct {
	logger    *zap.Logger
	connector vsphere.Connector
	engine    *stats.Engine
	config    Config
	now       func() time.Time
	lookups   *rate.Limiter

	writeMu sync.Mutex

	mu        sync.RWMutex
	session   vsphere.Session
	cluster   vsphere.Cluster
	hosts     map[string]*hostEntry
	lastCheck time.Time
	token     string

	// loopMu guards the consistency loop channels; nil when not running.
	loopMu sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// New creates a collector. Nothing is connected until Connect or Start.
func New(logger *zap.Logger, connector vsphere.Connector, engine *stats.Engine, config Config) *Collector {
	if config.ConsistencyCheckInterval <= 0 {
		config.ConsistencyCheckInterval = DefaultConfig().ConsistencyCheckInterval
	}
	limit := rate.Inf
	burst := 0
	if config.HostLookupsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.HostLookupsPerMinute))
		burst = config.HostLookupsPerMinute
	}
	return &Collector{
		logger:    logger,
		connector: connector,
		engine:    engine,
		config:    config,
		now:       time.Now,
		lookups:   rate.NewLimiter(limit, burst),
		hosts:     make(map[string]*hostEntry),
	}
}

// Connect establishes the cluster session and connects every member host.
// On failure the previous state is kept.
func (c *Collector) Connect(ctx context.Context, creds vsphere.Credentials, clusterName string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.logger.Info("Connecting to vCenter",
		zap.String("vcenter", creds.Host),
		zap.Int("port", creds.Port),
		zap.String("user", creds.User),
		zap.String("cluster", clusterName))

	session, err := c.connector.Connect(ctx, creds)
	if err != nil {
		c.logger.Error("Failed to connect to vCenter", zap.String("vcenter", creds.Host), zap.Error(err))
		return fmt.Errorf("failed to connect to vCenter %s: %w", creds.Host, err)
	}

	cluster, err := session.Cluster(ctx, clusterName)
	if err != nil {
		c.logger.Error("Cluster not found", zap.String("cluster", clusterName), zap.Error(err))
		c.logout(ctx, session)
		return fmt.Errorf("failed to locate cluster %s: %w", clusterName, err)
	}

	refs, err := cluster.Hosts(ctx)
	if err != nil {
		c.logout(ctx, session)
		return fmt.Errorf("failed to enumerate hosts of cluster %s: %w", clusterName, err)
	}

	c.logger.Info("Connecting to hosts", zap.Int("hosts", len(refs)))
	entries := c.connectHosts(ctx, cluster, refs)
	c.logger.Info("Connected to all hosts", zap.Int("connected", len(entries)))

	token := c.config.BearerToken
	if token != "" {
		c.logger.Info("Using configured bearer token")
	} else {
		token = uuid.NewString()
		c.logger.Info("Generated bearer token", zap.String("token", token))
	}

	c.mu.Lock()
	oldSession, oldHosts := c.session, c.hosts
	c.session = session
	c.cluster = cluster
	c.hosts = entries
	c.token = token
	c.lastCheck = c.now()
	c.mu.Unlock()

	metrics.SetConnectedHosts(len(entries))

	for _, e := range oldHosts {
		c.closeHost(e)
	}
	if oldSession != nil {
		c.logout(ctx, oldSession)
	}
	return nil
}

// connectHosts opens one vSAN session per host, one worker per host.
// Hosts that fail are logged and left out.
func (c *Collector) connectHosts(ctx context.Context, cluster vsphere.Cluster, refs []vsphere.HostRef) map[string]*hostEntry {
	results := make([]*hostEntry, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	if c.config.MaxConcurrentHosts > 0 {
		g.SetLimit(c.config.MaxConcurrentHosts)
	}
	for i, ref := range refs {
		g.Go(func() error {
			conn, info, err := cluster.ConnectHost(gctx, ref)
			if err != nil {
				c.logger.Error("Failed to connect to host",
					zap.String("host", ref.ID),
					zap.String("hostname", ref.Name),
					zap.Error(err))
				return nil
			}
			results[i] = &hostEntry{ref: ref, conn: conn, info: info}
			return nil
		})
	}
	_ = g.Wait()

	entries := make(map[string]*hostEntry, len(refs))
	for _, e := range results {
		if e != nil {
			entries[e.ref.ID] = e
		}
	}
	return entries
}

func (c *Collector) closeHost(e *hostEntry) {
	if err := e.conn.Close(); err != nil {
		c.logger.Warn("Failed to close host connection", zap.String("host", e.ref.ID), zap.Error(err))
	}
}

func (c *Collector) logout(ctx context.Context, s vsphere.Session) {
	if err := s.Logout(ctx); err != nil {
		c.logger.Warn("Failed to log out of vCenter", zap.Error(err))
	}
}

// Connected reports whether a cluster session exists.
func (c *Collector) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cluster != nil
}

// IsAuthorized reports whether token is the configured bearer token.
func (c *Collector) IsAuthorized(token string) bool {
	c.mu.RLock()
	expected := c.token
	c.mu.RUnlock()
	if expected == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

// HostIDs returns the ids of the connected hosts in sorted order.
func (c *Collector) HostIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.hosts))
	for id := range c.hosts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start connects with the configured credentials when a vCenter is
// configured and starts the periodic membership check. A failed eager
// connect is logged; Connect may still be called later.
func (c *Collector) Start(ctx context.Context) error {
	if c.config.Credentials.Host != "" {
		c.logger.Info("vCenter configured, connecting automatically", zap.String("vcenter", c.config.Credentials.Host))
		if err := c.Connect(ctx, c.config.Credentials, c.config.ClusterName); err != nil {
			c.logger.Error("Failed to connect to VC", zap.Error(err))
		}
	}

	c.logger.Info("Starting host consistency checks",
		zap.Duration("interval", c.config.ConsistencyCheckInterval))
	c.loopMu.Lock()
	if c.stopCh == nil {
		c.stopCh = make(chan struct{})
		c.done = make(chan struct{})
		go c.run(ctx, c.stopCh, c.done)
	}
	c.loopMu.Unlock()
	return nil
}

// Stop ends the background loop and closes every session. The collector
// may be started again afterwards.
func (c *Collector) Stop(ctx context.Context) {
	c.loopMu.Lock()
	stop, done := c.stopCh, c.done
	c.stopCh, c.done = nil, nil
	c.loopMu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	session, hosts := c.session, c.hosts
	c.session, c.cluster, c.hosts = nil, nil, make(map[string]*hostEntry)
	c.mu.Unlock()

	for _, e := range hosts {
		c.closeHost(e)
	}
	if session != nil {
		c.logout(ctx, session)
	}
	metrics.SetConnectedHosts(0)
}

func (c *Collector) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.config.ConsistencyCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consistency checks stopped due to context cancellation")
			return
		case <-stop:
			c.logger.Info("Consistency checks stopped gracefully")
			return
		case <-ticker.C:
			if _, err := c.CheckConsistency(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
				c.logger.Error("Host consistency check failed", zap.Error(err))
			}
		}
	}
}
