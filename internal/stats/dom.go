package stats

import (
	"strings"
)

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// convertDomRole handles the client/owner/compmgr nodes of /vmkModules/vsan/dom.
func convertDomRole(out *Batch, _, node, entity string, fields Fields) error {
	role := strings.ReplaceAll(node, "Stats", "")
	labels := NewLabels("host_uuid", entity, "role", role)

	out.Help("vmware_vsan_dom_io_total", "Total IOs processed by vSAN DOM since boot.")
	out.Help("vmware_vsan_dom_io_bytes_total", "Total Bytes processed by vSAN DOM since boot.")
	out.Help("vmware_vsan_dom_io_duration_seconds_total", "Sum total of duration of IO processed by vSAN DOM since boot.")
	out.Help("vmware_vsan_dom_io_durationsquare_seconds_total", "Sum total of duration^2 of IO processed by vSAN DOM since boot.")
	out.Help("vmware_vsan_dom_congestion_total", "Sum total of observed congestion values by vSAN DOM since boot.")
	out.Help("vmware_vsan_dom_numoio_total", "Sum total of observed Outstanding IOs (aka Queue Depth) by vSAN DOM since boot.")

	ioTypes := []string{"write", "read", "unmap", "recoveryWrite", "resyncRead"}
	if role == "client" {
		ioTypes = ioTypes[:3]
	}

	r := newReader(fields)
	for _, key := range ioTypes {
		count := r.num(key + "Count")
		if count < 0 {
			// the whole io type is unknown to this host
			continue
		}
		l := labels.With("io_type", key)
		out.Add("vmware_vsan_dom_io_total", count, l)
		out.Add("vmware_vsan_dom_io_bytes_total", r.num(key+"Bytes"), l)
		out.Add("vmware_vsan_dom_io_duration_seconds_total", r.num(key+"LatencySumUs")/microsPerSecond, l)
		out.Add("vmware_vsan_dom_io_durationsquare_seconds_total", r.numOr(key+"LatencySqSumUs", 0)/microsSqPerSecondSq, l)
		out.Add("vmware_vsan_dom_congestion_total", r.num(key+"CongestionSum"), l)
	}

	if role == "owner" {
		for _, key := range []string{"write", "read", "unmap", "recoveryWrite", "recoveryUnmap"} {
			l := labels.With("io_type", key)
			l.Set("role", "ownerLeaf")
			out.Add("vmware_vsan_dom_io_total", r.num(key+"LeafOwnerCount"), l)
			out.Add("vmware_vsan_dom_io_duration_seconds_total", r.num(key+"LeafOwnerLatencySumUs")/microsPerSecond, l)
		}
	}

	out.Add("vmware_vsan_dom_numoio_total", r.num("numOIOSum"), labels)
	return r.Err()
}

// convertDomDiskGroup handles the per disk group scheduler stats.
func convertDomDiskGroup(out *Batch, _, _, entity string, fields Fields) error {
	labels := NewLabels("disk_uuid", entity)

	out.Help("vmware_vsan_domdg_io_total", "Total IOs processed by vSAN DOM on DiskGroup since boot.")
	out.Help("vmware_vsan_domdg_io_bytes_total", "Total Bytes processed by vSAN DOM on DiskGroup since boot.")
	out.Help("vmware_vsan_domdg_io_duration_seconds_total", "Sum total of duration of IO processed by vSAN DOM on DiskGroup since boot.")
	out.Help("vmware_vsan_domdg_numoio_total", "Sum total of observed Outstanding IOs (aka Queue Depth) by vSAN DOM on DiskGroup since boot.")

	r := newReader(fields)
	for _, key := range []string{"write", "read", "unmap", "recoveryWrite", "recoveryUnmap"} {
		l := labels.With("io_type", key)
		out.Add("vmware_vsan_domdg_io_total", r.num(key+"Count"), l)
		out.Add("vmware_vsan_domdg_io_bytes_total", r.num(key+"Bytes"), l)
		out.Add("vmware_vsan_domdg_io_duration_seconds_total", r.num(key+"LatencySumUs")/microsPerSecond, l)
		out.Add("vmware_vsan_domdg_numoio_total", r.num("numOIOSum"+capitalize(key)), l)
	}
	return r.Err()
}

// convertDomClientCache handles /vmkModules/vsan/dom clientCacheStats.
func convertDomClientCache(out *Batch, _, _, entity string, fields Fields) error {
	labels := NewLabels("host_uuid", entity)
	r := newReader(fields)

	out.Help("vmware_vsan_dom_clientcache_readio_count", "Total number of Read IOs seen by vSAN DOM Client memory read cache since boot (number).")
	out.Add("vmware_vsan_dom_clientcache_readio_count", r.num("lookups"), labels)

	out.Help("vmware_vsan_dom_clientcache_readhit_count", "Total number of cache hit Read IOs seen by vSAN DOM Client memory read cache since boot (number).")
	out.Add("vmware_vsan_dom_clientcache_readhit_count", r.num("hits"), labels)
	return r.Err()
}

const resyncTypeHelp = "PolicyChange: resync traffic caused by change of policy; " +
	"Decom: resync traffic caused by maintenance mode and disk evacuation; " +
	"Rebalance: resync traffic caused by rebalancing objects; " +
	"FixCompliance: resync traffic caused by object repair."

// convertDomOrigin handles the resync origin nodes of the component schedulers.
func convertDomOrigin(out *Batch, _, node, entity string, fields Fields) error {
	resyncType := strings.ToLower(strings.ReplaceAll(node, "%s/OriginStats", ""))
	labels := NewLabels("disk_uuid", entity, "resync_type", resyncType)

	out.Help("vmware_vsan_domdg_resync_io_total",
		"Total IOs of resync read/recovery write of PolicyChange/Decom/Rebalance/FixCompliance processed on DiskGroup. "+resyncTypeHelp)
	out.Help("vmware_vsan_domdg_resync_io_bytes_total",
		"Total bytes of resync read/recovery write of PolicyChange/Decom/Rebalance/FixCompliance processed on DiskGroup. "+resyncTypeHelp)
	out.Help("vmware_vsan_domdg_resync_io_duration_seconds_total",
		"Sum total of duration of IO of resync read/recovery write of PolicyChange/Decom/Rebalance/FixCompliance processed on DiskGroup. "+
			"The duration is the time from the scheduler queueing to the scheduler seeing the completion of the IO. "+resyncTypeHelp)

	r := newReader(fields)
	for _, key := range []string{"read", "recWrite"} {
		l := labels.With("io_type", strings.ToLower(key))
		out.Add("vmware_vsan_domdg_resync_io_total", r.num(key+"Count"), l)
		out.Add("vmware_vsan_domdg_resync_io_bytes_total", r.num(key+"Bytes"), l)
		out.Add("vmware_vsan_domdg_resync_io_duration_seconds_total", r.num(key+"LatencyUs")/microsPerSecond, l)
	}

	out.Help("vmware_vsan_domdg_resync_tosync_bytes_total",
		"Sum total of bytes which will resync of current active jobs of PolicyChange/Decom/Rebalance/FixCompliance on DiskGroup. "+resyncTypeHelp)
	out.Add("vmware_vsan_domdg_resync_tosync_bytes_total", r.num("sumBytesToSync"), labels)
	return r.Err()
}
