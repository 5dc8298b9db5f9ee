// Package vsphere is the boundary to vCenter and the ESX hosts of a vSAN
// cluster: it locates the cluster, enumerates its hosts, opens vSAN sessions
// to each host and fetches their internal statistics.
package vsphere

import (
	"context"
	"errors"

	"github.com/vsanmetrics/vsan-exporter/internal/stats"
)

var (
	// ErrInvalidLogin is returned when vCenter rejects the credentials.
	ErrInvalidLogin = errors.New("invalid vCenter login")
	// ErrClusterNotFound is returned when no datacenter holds the named cluster.
	ErrClusterNotFound = errors.New("cluster not found")
)

// Credentials locate and authenticate against a vCenter.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	Insecure bool
}

// HostRef identifies a cluster member. ID is the managed object id.
type HostRef struct {
	ID   string
	Name string
}

// Connector opens vCenter sessions.
type Connector interface {
	Connect(ctx context.Context, creds Credentials) (Session, error)
}

// Session is an authenticated vCenter session.
type Session interface {
	// Cluster looks the named cluster up in every datacenter.
	Cluster(ctx context.Context, name string) (Cluster, error)
	Logout(ctx context.Context) error
}

// Cluster is a vSAN enabled compute cluster.
type Cluster interface {
	Name() string
	ID() string
	// Hosts returns the current cluster membership.
	Hosts(ctx context.Context) ([]HostRef, error)
	// ConnectHost opens a vSAN session to one member and reads its identity.
	ConnectHost(ctx context.Context, host HostRef) (HostConn, stats.HostInfo, error)
}

// HostConn is a vSAN session to a single ESX host.
type HostConn interface {
	// FetchStats returns the raw statistics document of the host.
	FetchStats(ctx context.Context) ([]byte, error)
	Close() error
}
