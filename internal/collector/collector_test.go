package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vsanmetrics/vsan-exporter/internal/stats"
	"github.com/vsanmetrics/vsan-exporter/internal/vsphere"
)

func cpuDoc(hostUUID string) []byte {
	return []byte(fmt.Sprintf(`{"stats": {
		"/sched/pcpus/$getHostCpuInformation": {
			"metrics": ["coreUtilTime", "elapsedTime", "usedTime", "utilTime"],
			"entities": {%q: [1000000000, 2000000000, 3000000000, 4000000000]}
		}
	}}`, hostUUID))
}

type fakeHost struct {
	doc    []byte
	err    error
	delay  time.Duration
	closed atomic.Bool
	active *atomic.Int32
	peak   *atomic.Int32
}

func (h *fakeHost) FetchStats(ctx context.Context) ([]byte, error) {
	if h.active != nil {
		n := h.active.Add(1)
		defer h.active.Add(-1)
		for {
			p := h.peak.Load()
			if n <= p || h.peak.CompareAndSwap(p, n) {
				break
			}
		}
	}
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return h.doc, h.err
}

func (h *fakeHost) Close() error {
	h.closed.Store(true)
	return nil
}

type fakeCluster struct {
	mu          sync.Mutex
	members     []vsphere.HostRef
	hosts       map[string]*fakeHost
	connectErr  map[string]error
	connects    map[string]int
	enumerateFn func() error
}

func newFakeCluster(ids ...string) *fakeCluster {
	c := &fakeCluster{
		hosts:      make(map[string]*fakeHost),
		connectErr: make(map[string]error),
		connects:   make(map[string]int),
	}
	for _, id := range ids {
		c.add(id)
	}
	return c
}

func (c *fakeCluster) add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members = append(c.members, vsphere.HostRef{ID: id, Name: id + ".example.com"})
	c.hosts[id] = &fakeHost{doc: cpuDoc("uuid-" + id)}
}

func (c *fakeCluster) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ref := range c.members {
		if ref.ID == id {
			c.members = append(c.members[:i], c.members[i+1:]...)
			return
		}
	}
}

func (c *fakeCluster) host(id string) *fakeHost {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hosts[id]
}

func (c *fakeCluster) connectCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects[id]
}

func (c *fakeCluster) Name() string { return "Cluster-A" }
func (c *fakeCluster) ID() string   { return "domain-c8" }

func (c *fakeCluster) Hosts(context.Context) ([]vsphere.HostRef, error) {
	if c.enumerateFn != nil {
		if err := c.enumerateFn(); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]vsphere.HostRef(nil), c.members...), nil
}

func (c *fakeCluster) ConnectHost(_ context.Context, ref vsphere.HostRef) (vsphere.HostConn, stats.HostInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects[ref.ID]++
	if err := c.connectErr[ref.ID]; err != nil {
		return nil, stats.HostInfo{}, err
	}
	info := stats.HostInfo{HostUUID: "uuid-" + ref.ID, Hostname: ref.Name, ClusterUUID: "vsan-cluster"}
	return c.hosts[ref.ID], info, nil
}

type fakeSession struct {
	cluster    *fakeCluster
	loggedOut  atomic.Bool
	clusterErr error
}

func (s *fakeSession) Cluster(_ context.Context, name string) (vsphere.Cluster, error) {
	if s.clusterErr != nil {
		return nil, s.clusterErr
	}
	if name != s.cluster.Name() {
		return nil, vsphere.ErrClusterNotFound
	}
	return s.cluster, nil
}

func (s *fakeSession) Logout(context.Context) error {
	s.loggedOut.Store(true)
	return nil
}

type fakeConnector struct {
	session *fakeSession
	err     error
}

func (f *fakeConnector) Connect(context.Context, vsphere.Credentials) (vsphere.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

var testCreds = vsphere.Credentials{Host: "vc.example.com", Port: 443, User: "admin", Password: "secret"}

func newTestCollector(t *testing.T, cluster *fakeCluster, cfg Config) (*Collector, *fakeConnector) {
	t.Helper()
	conn := &fakeConnector{session: &fakeSession{cluster: cluster}}
	logger := zaptest.NewLogger(t)
	return New(logger, conn, stats.NewEngine(logger), cfg), conn
}

func connected(t *testing.T, cluster *fakeCluster, cfg Config) *Collector {
	t.Helper()
	c, _ := newTestCollector(t, cluster, cfg)
	require.NoError(t, c.Connect(context.Background(), testCreds, "Cluster-A"))
	return c
}

func TestConnectConnectsEveryHost(t *testing.T) {
	c := connected(t, newFakeCluster("host-1", "host-2", "host-3"), DefaultConfig())

	assert.True(t, c.Connected())
	assert.Equal(t, []string{"host-1", "host-2", "host-3"}, c.HostIDs())
}

func TestConnectOmitsFailedHosts(t *testing.T) {
	cluster := newFakeCluster("host-1", "host-2")
	cluster.connectErr["host-2"] = errors.New("connection refused")

	c := connected(t, cluster, DefaultConfig())

	assert.Equal(t, []string{"host-1"}, c.HostIDs())
}

func TestConnectFailureKeepsPreviousState(t *testing.T) {
	cluster := newFakeCluster("host-1")
	c, conn := newTestCollector(t, cluster, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, testCreds, "Cluster-A"))

	conn.err = vsphere.ErrInvalidLogin
	err := c.Connect(ctx, testCreds, "Cluster-A")
	require.ErrorIs(t, err, vsphere.ErrInvalidLogin)
	assert.True(t, c.Connected())
	assert.Equal(t, []string{"host-1"}, c.HostIDs())

	conn.err = nil
	err = c.Connect(ctx, testCreds, "Missing")
	require.ErrorIs(t, err, vsphere.ErrClusterNotFound)
	assert.Equal(t, []string{"host-1"}, c.HostIDs())
}

func TestConnectFailureWithoutPriorState(t *testing.T) {
	c, conn := newTestCollector(t, newFakeCluster("host-1"), DefaultConfig())
	conn.err = errors.New("dial tcp: no route to host")

	require.Error(t, c.Connect(context.Background(), testCreds, "Cluster-A"))
	assert.False(t, c.Connected())

	_, err := c.StatsForAllHosts(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReconnectClosesOldHosts(t *testing.T) {
	cluster := newFakeCluster("host-1")
	c := connected(t, cluster, DefaultConfig())
	old := cluster.host("host-1")

	cluster.mu.Lock()
	cluster.hosts["host-1"] = &fakeHost{doc: cpuDoc("uuid-host-1")}
	cluster.mu.Unlock()

	require.NoError(t, c.Connect(context.Background(), testCreds, "Cluster-A"))
	assert.True(t, old.closed.Load())
	assert.False(t, cluster.host("host-1").closed.Load())
}

func TestBearerToken(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.BearerToken = "s3cret"
		c := connected(t, newFakeCluster("host-1"), cfg)

		assert.True(t, c.IsAuthorized("s3cret"))
		assert.False(t, c.IsAuthorized("wrong"))
		assert.False(t, c.IsAuthorized(""))
	})

	t.Run("generated", func(t *testing.T) {
		c := connected(t, newFakeCluster("host-1"), DefaultConfig())

		c.mu.RLock()
		token := c.token
		c.mu.RUnlock()
		assert.Len(t, token, 36)
		assert.True(t, c.IsAuthorized(token))
	})

	t.Run("not connected", func(t *testing.T) {
		c, _ := newTestCollector(t, newFakeCluster(), DefaultConfig())
		assert.False(t, c.IsAuthorized(""))
		assert.False(t, c.IsAuthorized("anything"))
	})
}

func TestStatsForAllHosts(t *testing.T) {
	c := connected(t, newFakeCluster("host-1", "host-2"), DefaultConfig())

	res, err := c.StatsForAllHosts(context.Background())
	require.NoError(t, err)
	require.Len(t, res, 2)

	for i, id := range []string{"host-1", "host-2"} {
		assert.Equal(t, id, res[i].HostID)
		require.NoError(t, res[i].Err)
		r, ok := res[i].Stats.Get("vmware_host_cpu_seconds_total")
		require.True(t, ok)
		assert.Len(t, r.Values, 4)
		host, _ := r.Values[0].Labels.Get("hostname")
		assert.Equal(t, id+".example.com", host)
	}
}

func TestStatsForAllHostsIsolatesFailures(t *testing.T) {
	cluster := newFakeCluster("host-1", "host-2", "host-3")
	cluster.host("host-2").err = errors.New("connection reset by peer")
	cluster.host("host-3").doc = []byte("not json")
	c := connected(t, cluster, DefaultConfig())

	res, err := c.StatsForAllHosts(context.Background())
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.NoError(t, res[0].Err)
	assert.Positive(t, res[0].Stats.Len())

	assert.Error(t, res[1].Err)
	assert.Zero(t, res[1].Stats.Len())

	assert.Error(t, res[2].Err)
	assert.Zero(t, res[2].Stats.Len())
}

func TestStatsForAllHostsRunsHostsConcurrently(t *testing.T) {
	ids := []string{"host-1", "host-2", "host-3", "host-4"}
	cluster := newFakeCluster(ids...)
	var active, peak atomic.Int32
	for _, id := range ids {
		h := cluster.host(id)
		h.delay = 50 * time.Millisecond
		h.active, h.peak = &active, &peak
	}
	c := connected(t, cluster, DefaultConfig())

	res, err := c.StatsForAllHosts(context.Background())
	require.NoError(t, err)
	assert.Len(t, res, 4)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestStatsForAllHostsHonorsConcurrencyLimit(t *testing.T) {
	ids := []string{"host-1", "host-2", "host-3", "host-4"}
	cluster := newFakeCluster(ids...)
	var active, peak atomic.Int32
	for _, id := range ids {
		h := cluster.host(id)
		h.delay = 20 * time.Millisecond
		h.active, h.peak = &active, &peak
	}
	cfg := DefaultConfig()
	cfg.MaxConcurrentHosts = 1
	c := connected(t, cluster, cfg)

	res, err := c.StatsForAllHosts(context.Background())
	require.NoError(t, err)
	assert.Len(t, res, 4)
	assert.Equal(t, int32(1), peak.Load())
}

func TestStatsForHostConnectsLazily(t *testing.T) {
	cluster := newFakeCluster("host-1")
	c := connected(t, cluster, DefaultConfig())
	cluster.add("host-2")

	res, err := c.StatsForHost(context.Background(), "host-2")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "host-2", res[0].HostID)
	assert.NoError(t, res[0].Err)
	assert.Equal(t, []string{"host-1", "host-2"}, c.HostIDs())

	_, err = c.StatsForHost(context.Background(), "host-2")
	require.NoError(t, err)
	assert.Equal(t, 1, cluster.connectCount("host-2"))
}

func TestStatsForHostUnknownHost(t *testing.T) {
	cluster := newFakeCluster("host-1", "host-2")
	c := connected(t, cluster, DefaultConfig())

	_, err := c.StatsForHost(context.Background(), "host-99")
	assert.ErrorIs(t, err, ErrHostNotFound)
	assert.Equal(t, []string{"host-1", "host-2"}, c.HostIDs())
}

func TestStatsForHostLookupThrottled(t *testing.T) {
	cluster := newFakeCluster("host-1")
	cfg := DefaultConfig()
	cfg.HostLookupsPerMinute = 1
	c := connected(t, cluster, cfg)

	_, err := c.StatsForHost(context.Background(), "host-98")
	assert.ErrorIs(t, err, ErrHostNotFound)

	cluster.add("host-2")
	_, err = c.StatsForHost(context.Background(), "host-2")
	assert.ErrorIs(t, err, ErrLookupThrottled)
	assert.NotErrorIs(t, err, ErrHostNotFound)
	assert.Zero(t, cluster.connectCount("host-2"))

	// connected hosts are never throttled
	_, err = c.StatsForHost(context.Background(), "host-1")
	assert.NoError(t, err)
}

func TestStatsForHostNotConnected(t *testing.T) {
	c, _ := newTestCollector(t, newFakeCluster("host-1"), DefaultConfig())

	_, err := c.StatsForHost(context.Background(), "host-1")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCheckConsistency(t *testing.T) {
	cluster := newFakeCluster("host-1", "host-2")
	c := connected(t, cluster, DefaultConfig())
	clock := time.Now()
	c.now = func() time.Time { return clock }

	cluster.add("host-3")
	cluster.remove("host-1")
	removed := cluster.host("host-1")

	res, err := c.CheckConsistency(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Checked, "interval has not elapsed")
	assert.Equal(t, []string{"host-1", "host-2"}, c.HostIDs())

	clock = clock.Add(301 * time.Second)
	res, err = c.CheckConsistency(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Checked)
	assert.Equal(t, []string{"host-3"}, res.Added)
	assert.Equal(t, []string{"host-1"}, res.Evicted)
	assert.Equal(t, []string{"host-2", "host-3"}, c.HostIDs())
	assert.True(t, removed.closed.Load())

	res, err = c.CheckConsistency(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Checked)
}

func TestCheckConsistencyEnumerationFailure(t *testing.T) {
	cluster := newFakeCluster("host-1")
	c := connected(t, cluster, DefaultConfig())
	c.lastCheck = time.Time{}
	cluster.enumerateFn = func() error { return errors.New("session expired") }

	_, err := c.CheckConsistency(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"host-1"}, c.HostIDs())
}

func TestCheckConsistencyNotConnected(t *testing.T) {
	c, _ := newTestCollector(t, newFakeCluster(), DefaultConfig())

	_, err := c.CheckConsistency(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestServiceDiscovery(t *testing.T) {
	cluster := newFakeCluster("host-2", "host-1")
	c := connected(t, cluster, DefaultConfig())

	targets, err := c.ServiceDiscovery(context.Background(), "exporter.example.com:8080")
	require.NoError(t, err)
	require.Len(t, targets, 2)

	assert.Equal(t, Target{
		Targets: []string{"exporter.example.com:8080"},
		Labels: map[string]string{
			"__metrics_path__": "/vsan/metrics/host-1",
			"cluster_name":     "Cluster-A",
			"cluster_id":       "domain-c8",
			"__scheme__":       "http",
		},
	}, targets[0])
	assert.Equal(t, "/vsan/metrics/host-2", targets[1].Labels["__metrics_path__"])
}

func TestServiceDiscoveryReconciles(t *testing.T) {
	cluster := newFakeCluster("host-1")
	c := connected(t, cluster, DefaultConfig())
	c.lastCheck = time.Time{}
	cluster.add("host-2")

	targets, err := c.ServiceDiscovery(context.Background(), "exporter:8080")
	require.NoError(t, err)
	assert.Len(t, targets, 2)
}

func TestServiceDiscoveryNotConnected(t *testing.T) {
	c, _ := newTestCollector(t, newFakeCluster("host-1"), DefaultConfig())

	targets, err := c.ServiceDiscovery(context.Background(), "exporter:8080")
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestStartConnectsEagerlyAndStopCloses(t *testing.T) {
	cluster := newFakeCluster("host-1")
	cfg := DefaultConfig()
	cfg.Credentials = testCreds
	cfg.ClusterName = "Cluster-A"
	c, conn := newTestCollector(t, cluster, cfg)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Connected())

	c.Stop(context.Background())
	assert.False(t, c.Connected())
	assert.True(t, cluster.host("host-1").closed.Load())
	assert.True(t, conn.session.loggedOut.Load())
}

func TestStartWithoutVCenterDefersConnect(t *testing.T) {
	c, _ := newTestCollector(t, newFakeCluster("host-1"), DefaultConfig())

	require.NoError(t, c.Start(context.Background()))
	assert.False(t, c.Connected())
	c.Stop(context.Background())
}

func TestCollectorRestarts(t *testing.T) {
	cluster := newFakeCluster("host-1")
	cfg := DefaultConfig()
	cfg.Credentials = testCreds
	cfg.ClusterName = "Cluster-A"
	c, _ := newTestCollector(t, cluster, cfg)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	c.Stop(ctx)
	assert.False(t, c.Connected())

	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Connected())
	c.loopMu.Lock()
	running := c.stopCh != nil
	c.loopMu.Unlock()
	assert.True(t, running, "consistency loop runs again after a restart")

	assert.NotPanics(t, func() {
		c.Stop(ctx)
		c.Stop(ctx)
	})
	assert.False(t, c.Connected())
}
