package stats

import (
	"errors"
	"fmt"
)

// ErrHostMismatch is reported when a converter labels a sample with a
// host_uuid other than the host it was collected from.
var ErrHostMismatch = errors.New("host_uuid label does not match host")

// Disk is the inventory entry of one vSAN disk.
type Disk struct {
	DiskGroupUUID string
	DeviceName    string
	CapacityTier  bool
}

// Role returns "capacity" or "cache".
func (d Disk) Role() string {
	if d.CapacityTier {
		return "capacity"
	}
	return "cache"
}

// HostInfo is the identity snapshot of one host, keyed disks by vSAN disk uuid.
type HostInfo struct {
	HostUUID    string
	Hostname    string
	ClusterUUID string
	Disks       map[string]Disk
}

// Augment fills host, cluster and disk identity labels on every sample of
// acc. Labels already set by a converter are kept. All samples of an entity
// that carries a foreign host_uuid are removed; one error per such entity is
// returned.
func Augment(acc *Accumulator, info HostInfo) []error {
	if acc == nil {
		return nil
	}
	var errs []error
	bad := make(map[EntityRef]bool)
	for _, r := range acc.Records() {
		for _, s := range r.Values {
			if v, ok := s.Labels.Get("host_uuid"); ok && v != info.HostUUID && !bad[s.Source] {
				bad[s.Source] = true
				errs = append(errs, fmt.Errorf("%w: entity %s under %s/%s has %q, host is %q",
					ErrHostMismatch, s.Source.Entity, s.Source.Path, s.Source.Node, v, info.HostUUID))
			}
		}
	}

	for _, r := range acc.Records() {
		kept := r.Values[:0]
		for _, s := range r.Values {
			if bad[s.Source] {
				continue
			}
			augmentLabels(&s.Labels, info)
			kept = append(kept, s)
		}
		r.Values = kept
	}
	return errs
}

func augmentLabels(l *Labels, info HostInfo) {
	l.SetDefault("host_uuid", info.HostUUID)
	l.SetDefault("hostname", info.Hostname)
	l.SetDefault("vsan_cluster_uuid", info.ClusterUUID)

	diskUUID, ok := l.Get("disk_uuid")
	if !ok {
		return
	}
	disk, ok := info.Disks[diskUUID]
	if !ok {
		return
	}
	l.SetDefault("diskgroup_uuid", disk.DiskGroupUUID)
	l.SetDefault("diskname", disk.DeviceName)
	l.SetDefault("disk_role", disk.Role())
}
