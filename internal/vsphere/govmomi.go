package vsphere

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/vsanmetrics/vsan-exporter/internal/metrics"
	"github.com/vsanmetrics/vsan-exporter/internal/stats"
)

// GovmomiConnector connects to vCenter with govmomi.
type GovmomiConnector struct {
	logger *zap.Logger
}

// NewConnector creates a govmomi backed Connector.
func NewConnector(logger *zap.Logger) *GovmomiConnector {
	return &GovmomiConnector{logger: logger}
}

func observe(operation string, start time.Time, err error) {
	metrics.RecordVsphereRequest(operation, time.Since(start), err)
}

// Connect logs into vCenter.
func (g *GovmomiConnector) Connect(ctx context.Context, creds Credentials) (Session, error) {
	port := creds.Port
	if port == 0 {
		port = 443
	}
	u, err := soap.ParseURL(creds.Host + ":" + strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("failed to parse vCenter address %s: %w", creds.Host, err)
	}
	u.User = url.UserPassword(creds.User, creds.Password)

	start := time.Now()
	c, err := govmomi.NewClient(ctx, u, creds.Insecure)
	observe("login", start, err)
	if err != nil {
		if isFault[types.InvalidLogin](err) {
			return nil, fmt.Errorf("%w: %s@%s", ErrInvalidLogin, creds.User, creds.Host)
		}
		return nil, fmt.Errorf("failed to connect to vCenter %s: %w", creds.Host, err)
	}

	g.logger.Info("Connected to vCenter",
		zap.String("vcenter", creds.Host),
		zap.Int("port", port),
		zap.String("user", creds.User))

	return &govmomiSession{logger: g.logger, client: c, insecure: creds.Insecure}, nil
}

type govmomiSession struct {
	logger   *zap.Logger
	client   *govmomi.Client
	insecure bool
}

func (s *govmomiSession) Cluster(ctx context.Context, name string) (Cluster, error) {
	start := time.Now()
	cluster, err := s.findCluster(ctx, name)
	observe("find_cluster", start, err)
	if err != nil {
		return nil, err
	}
	return &govmomiCluster{
		logger:   s.logger,
		client:   s.client.Client,
		cluster:  cluster,
		name:     name,
		insecure: s.insecure,
	}, nil
}

func (s *govmomiSession) findCluster(ctx context.Context, name string) (*object.ClusterComputeResource, error) {
	finder := find.NewFinder(s.client.Client, true)
	datacenters, err := finder.DatacenterList(ctx, "*")
	if err != nil {
		var notFound *find.NotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, name)
		}
		return nil, fmt.Errorf("failed to list datacenters: %w", err)
	}

	index := object.NewSearchIndex(s.client.Client)
	for _, dc := range datacenters {
		folders, err := dc.Folders(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get folders of datacenter %s: %w", dc.Name(), err)
		}
		ref, err := index.FindChild(ctx, folders.HostFolder, name)
		if err != nil {
			return nil, fmt.Errorf("failed to search datacenter %s: %w", dc.Name(), err)
		}
		if cluster, ok := ref.(*object.ClusterComputeResource); ok {
			return cluster, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, name)
}

func (s *govmomiSession) Logout(ctx context.Context) error {
	if err := s.client.Logout(ctx); err != nil {
		return fmt.Errorf("failed to log out of vCenter: %w", err)
	}
	return nil
}

type govmomiCluster struct {
	logger   *zap.Logger
	client   *vim25.Client
	cluster  *object.ClusterComputeResource
	name     string
	insecure bool
}

func (c *govmomiCluster) Name() string { return c.name }

func (c *govmomiCluster) ID() string { return c.cluster.Reference().Value }

func (c *govmomiCluster) Hosts(ctx context.Context) ([]HostRef, error) {
	start := time.Now()
	hosts, err := c.hosts(ctx)
	observe("list_hosts", start, err)
	return hosts, err
}

func (c *govmomiCluster) hosts(ctx context.Context) ([]HostRef, error) {
	systems, err := c.cluster.Hosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts of cluster %s: %w", c.name, err)
	}
	if len(systems) == 0 {
		return nil, nil
	}

	refs := make([]types.ManagedObjectReference, 0, len(systems))
	for _, h := range systems {
		refs = append(refs, h.Reference())
	}
	var props []mo.HostSystem
	if err := property.DefaultCollector(c.client).Retrieve(ctx, refs, []string{"name"}, &props); err != nil {
		return nil, fmt.Errorf("failed to retrieve host names of cluster %s: %w", c.name, err)
	}

	out := make([]HostRef, 0, len(props))
	for _, p := range props {
		out = append(out, HostRef{ID: p.Self.Value, Name: p.Name})
	}
	return out, nil
}

func (c *govmomiCluster) ConnectHost(ctx context.Context, ref HostRef) (HostConn, stats.HostInfo, error) {
	start := time.Now()
	conn, info, err := c.connectHost(ctx, ref)
	observe("connect_host", start, err)
	return conn, info, err
}

func (c *govmomiCluster) connectHost(ctx context.Context, ref HostRef) (HostConn, stats.HostInfo, error) {
	host := object.NewHostSystem(c.client, types.ManagedObjectReference{Type: "HostSystem", Value: ref.ID})

	vs, err := host.ConfigManager().VsanSystem(ctx)
	if err != nil {
		return nil, stats.HostInfo{}, fmt.Errorf("failed to get vSAN system of host %s: %w", ref.Name, err)
	}
	var vsys mo.HostVsanSystem
	if err := vs.Properties(ctx, vs.Reference(), []string{"config"}, &vsys); err != nil {
		return nil, stats.HostInfo{}, fmt.Errorf("failed to read vSAN config of host %s: %w", ref.Name, err)
	}
	info := HostInfoFromConfig(ref.Name, vsys.Config)

	secret := fetchVsanSharedSecretBody{Req: &fetchVsanSharedSecretRequest{This: vs.Reference()}}
	if err := c.client.RoundTrip(ctx, &secret, &secret); err != nil {
		return nil, stats.HostInfo{}, fmt.Errorf("failed to fetch vSAN shared secret of host %s: %w", ref.Name, err)
	}
	if secret.Res == nil {
		return nil, stats.HostInfo{}, fmt.Errorf("empty vSAN shared secret response for host %s", ref.Name)
	}

	conn, err := dialHost(ctx, c.logger, ref.Name, secret.Res.Returnval, c.insecure)
	if err != nil {
		return nil, stats.HostInfo{}, err
	}
	return conn, info, nil
}

// HostInfoFromConfig builds the identity snapshot of a host from its vSAN
// configuration. Every disk of a disk group maps to the group's cache disk.
func HostInfoFromConfig(hostname string, cfg types.VsanHostConfigInfo) stats.HostInfo {
	info := stats.HostInfo{
		Hostname: hostname,
		Disks:    make(map[string]stats.Disk),
	}
	if cfg.ClusterInfo != nil {
		info.HostUUID = cfg.ClusterInfo.NodeUuid
		info.ClusterUUID = cfg.ClusterInfo.Uuid
	}
	if cfg.StorageInfo == nil {
		return info
	}
	for _, dg := range cfg.StorageInfo.DiskMapping {
		group := vsanUUID(dg.Ssd)
		add := func(d types.HostScsiDisk, capacity bool) {
			id := vsanUUID(d)
			if id == "" {
				return
			}
			info.Disks[id] = stats.Disk{
				DiskGroupUUID: group,
				DeviceName:    d.CanonicalName,
				CapacityTier:  capacity,
			}
		}
		add(dg.Ssd, false)
		for _, d := range dg.NonSsd {
			add(d, true)
		}
	}
	return info
}

func vsanUUID(d types.HostScsiDisk) string {
	if d.VsanDiskInfo == nil {
		return ""
	}
	return d.VsanDiskInfo.VsanUuid
}
