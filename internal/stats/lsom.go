package stats

import (
	"errors"
	"fmt"
	"strings"
)

// convertLsomDisk handles /vmkModules/lsom/disks %s/info.
func convertLsomDisk(out *Batch, _, _, entity string, raw Fields) error {
	labels := NewLabels("disk_uuid", entity)
	r := newReader(raw.stripped("info/"))

	out.Help("vmware_vsan_disk_congestion_total", "vSAN Disk Group point in time congestion value (0-255). LSOM indicates how much incoming rate it can sustain, typically limited by physical disks or CPU. DOM maps it to bandwidth limit (0 is no limit, 255 is 0 MB/s) using a monotonic non-linear opaque function.")
	for _, key := range []string{"ssd", "mem", "iops", "slab", "log", "comp"} {
		out.Add("vmware_vsan_disk_congestion_total", r.num(key+"Congestion"), labels.With("congestion_type", key))
	}

	out.Help("vmware_vsan_disk_congestion_bytespersecond", "vSAN Disk Group point in time congestion value in Bytes/s. LSOM indicates how much incoming rate it can sustain, DOM enforces it.")
	// reported in 4KiB blocks per second
	out.Add("vmware_vsan_disk_congestion_bytespersecond", r.numOr("oobLogCongestionIOPS", 0)*4096, labels.With("congestion_type", "log"))

	out.Help("vmware_vsan_disk_writebuffer_usage_bytes", "Point in time, vSAN Cache Disk write buffer consumption by various consumers")
	for _, key := range []string{"plogLog", "plogData", "llogLog", "llogData"} {
		out.Add("vmware_vsan_disk_writebuffer_usage_bytes", r.num(key+"Space"), labels.With("consumer_type", strings.ToLower(key)))
	}

	out.Help("vmware_vsan_disk_writebuffer_size_bytes", "vSAN Cache Disk write buffer size. Static value.")
	out.Add("vmware_vsan_disk_writebuffer_size_bytes", r.num("wbSize"), labels)

	for _, g := range []struct{ metric, field, help string }{
		{"vmware_vsan_disk_capacity_bytes", "capacity", "Point in time, vSAN Capacity Disk logical capacity (up to 10x inflated in dedup case)"},
		{"vmware_vsan_disk_capacity_used_bytes", "capacityUsed", "Point in time, vSAN Capacity Disk logical capacity used."},
		{"vmware_vsan_disk_capacity_reserved_bytes", "capacityReserved", "Point in time, vSAN Capacity Disk logical capacity reserved."},
		{"vmware_vsan_disk_phys_capacity_bytes", "physDiskCapacity", "Point in time, vSAN Capacity Disk physical capacity (after dedup if enabled)"},
		{"vmware_vsan_disk_phys_capacity_used_bytes", "physDiskCapacityUsed", "Point in time, vSAN Capacity Disk physical capacity used (after dedup if enabled)."},
		{"vmware_vsan_disk_phys_capacity_reserved_bytes", "physCapacityReserved", "Point in time, vSAN Capacity Disk physical capacity reserved."},
		{"vmware_vsan_disk_phys_capacity_pending_bytes", "physCapacityPending", "Point in time, vSAN Capacity Disk physical capacity Pending."},
		{"vmware_vsan_disk_phys_capacity_unreservedused_bytes", "physCapacityUnreservedUsed", "Point in time, vSAN Capacity Disk physical capacity UnreservedUsed."},
	} {
		out.Help(g.metric, g.help)
		out.Add(g.metric, r.num(g.field), labels)
	}
	return r.Err()
}

// convertLsomBlkattr handles /vmkModules/lsom/disks %s/blkattrInfo.
func convertLsomBlkattr(out *Batch, _, _, entity string, raw Fields) error {
	labels := NewLabels("disk_uuid", entity)
	r := newReader(raw.stripped("info/"))

	out.Help("vmware_vsan_disk_blkattrcache_size_bytes", "vSAN Disk Group blkattr memory cache size.")
	// reported in MiB
	out.Add("vmware_vsan_disk_blkattrcache_size_bytes", r.num("cacheSize")*1024*1024, labels)

	out.Help("vmware_vsan_disk_blkattrcache_hits_count", "vSAN Disk Group blkattr memory cache hits (number).")
	out.Add("vmware_vsan_disk_blkattrcache_hits_count", r.num("cacheHits"), labels)

	out.Help("vmware_vsan_disk_blkattrcache_misses_count", "vSAN Disk Group blkattr memory cache misses (number).")
	out.Add("vmware_vsan_disk_blkattrcache_misses_count", r.num("cacheMisses"), labels)
	return r.Err()
}

var errDrainMismatch = errors.New("drained byte counters do not add up")

// convertPlogDrain handles the PLOG device stats node.
func convertPlogDrain(out *Batch, _, _, entity string, raw Fields) error {
	labels := NewLabels("disk_uuid", entity)
	r := newReader(raw.stripped("stats/", "/stats"))

	total := r.num("totalBytesDrained")
	ssd := r.num("ssdBytesDrained")
	zero := r.num("zeroBytesDrained")
	if err := r.Err(); err != nil {
		return err
	}
	if total != ssd+zero {
		return fmt.Errorf("%w: total %v, data %v, zero %v", errDrainMismatch, total, ssd, zero)
	}

	out.Help("vmware_vsan_disk_drain_bytes_total", "Sum total of bytes drained/destaged from cache to capacity, split by zeros (from component delete, TRIM/UNMAP) and real data.")
	out.Add("vmware_vsan_disk_drain_bytes_total", ssd, labels.With("drain_type", "data"))
	out.Add("vmware_vsan_disk_drain_bytes_total", zero, labels.With("drain_type", "zero"))
	return nil
}

// convertPlogElevator handles the PLOG elevator stats node.
func convertPlogElevator(out *Batch, _, _, entity string, raw Fields) error {
	labels := NewLabels("disk_uuid", entity)
	r := newReader(raw.stripped("elevStats/"))

	out.Help("vmware_vsan_plog_elev_bytes_total", "Total bytes of PLOG elevator")
	out.Help("vmware_vsan_plog_elev_thresholds_ratio", "Utilization metrics for write buffer of PLOG elevator")

	for _, key := range []string{"CS", "FS", "Zero", "FSUnmap", "Del", "CF"} {
		out.Add("vmware_vsan_plog_elev_bytes_total", r.num("total"+key+"Bytes"), labels.With("io_type", key))
	}
	for _, key := range []string{"RC", "VMFS"} {
		out.Add("vmware_vsan_plog_elev_bytes_total", r.num("totalBytesReadBy"+key), labels.With("io_type", key))
	}
	for _, key := range []string{"mem", "data", "ssd", "max", "zero", "log"} {
		out.Add("vmware_vsan_plog_elev_thresholds_ratio", r.num(key+"P")/percent, labels.With("threshold_type", key))
	}
	return r.Err()
}

// convertPlogDedup handles the PLOG deduplication stats node.
func convertPlogDedup(out *Batch, _, _, entity string, raw Fields) error {
	labels := NewLabels("disk_uuid", entity)
	r := newReader(raw.stripped("dedupStats/"))

	out.Help("vmware_vsan_plog_dedup_seconds_total", "Total seconds of PLOG deduplication")
	out.Help("vmware_vsan_plog_dedup_bytes_total", "Total bytes of PLOG deduplication")
	out.Help("vmware_vsan_plog_dedup_io_total", "Total IOs of PLOG deduplication")
	out.Help("vmware_vsan_plog_dedup_events_total", "Total events of PLOG deduplication")

	for _, key := range []string{
		"txnReplayHashmap", "txnBuild", "hashCalc", "txnReplay", "compression",
		"txnReplayBitmap", "dataWrite", "txnReplayXmap", "txnWrite",
	} {
		out.Add("vmware_vsan_plog_dedup_seconds_total", r.num(key+"Time")/nanosPerSecond, labels.With("io_type", key))
	}
	for _, key := range []string{"deduped", "compressed", "total", "free", "hashed"} {
		out.Add("vmware_vsan_plog_dedup_bytes_total", r.num(key+"Bytes"), labels.With("io_type", key))
	}
	for _, key := range []string{
		"txnReplayBgWriteIOs", "txnReplayFgWriteIOs", "numHashmapReads", "numBitmapWrites",
		"numXMapReads", "numBitmapReads", "numHashmapWrites", "numXMapWrites", "txnWrites",
	} {
		out.Add("vmware_vsan_plog_dedup_io_total", r.num(key), labels.With("io_type", key))
	}
	for _, key := range []string{
		"cacheMissesBmap", "cacheMissesXmap", "cacheMissesHmap",
		"cacheHitsBmap", "cacheHitsXmap", "cacheHitsHmap",
		"pendingTxnReplayYields", "txnReplayReadIOHits",
	} {
		out.Add("vmware_vsan_plog_dedup_events_total", r.num(key), labels.With("io_type", key))
	}
	return r.Err()
}

// convertPlogRecovery handles the PLOG device info node.
func convertPlogRecovery(out *Batch, _, _, entity string, raw Fields) error {
	labels := NewLabels("disk_uuid", entity)
	r := newReader(raw.stripped("info/"))

	out.Help("vmware_vsan_plog_recovery_seconds_total", "Total seconds of PLOG recovery")
	out.Help("vmware_vsan_plog_recovery_io_total", "Total IOs of PLOG recovery")

	out.Add("vmware_vsan_plog_recovery_seconds_total", r.num("totalRecoveryTime")/microsPerSecond, labels.With("io_type", "total"))
	for _, key := range []string{"Process", "Read"} {
		out.Add("vmware_vsan_plog_recovery_seconds_total", r.num("recovery"+key+"Time")/microsPerSecond, labels.With("io_type", strings.ToLower(key)))
	}
	out.Add("vmware_vsan_plog_recovery_io_total", r.num("numRecoveryReads"), labels.With("io_type", "read"))
	return r.Err()
}

// convertPsaDevice handles the ESX storage device layer stats of vSAN disks.
func convertPsaDevice(out *Batch, _, _, entity string, raw Fields) error {
	labels := NewLabels("disk_uuid", entity)
	r := newReader(raw.stripped("info/", "latency/", "stats/"))

	blockSize := r.num("capacity/blockSize")

	out.Help("vmware_vsan_disks_dev_io_total", "Total IOs processed by ESX device layer since boot.")
	out.Help("vmware_vsan_disks_dev_bytes_total", "Total Bytes processed by ESX device layer since boot.")
	out.Help("vmware_vsan_disks_dev_duration_seconds_total", "Total seconds of IO processing time by ESX device layer since boot.")

	for _, io := range []struct{ ioType, ops, blocks, time string }{
		{"write", "writeOps", "blocksWritten", "totalTimeWrites"},
		{"read", "readOps", "blocksRead", "totalTimeReads"},
	} {
		l := labels.With("io_type", io.ioType)
		out.Add("vmware_vsan_disks_dev_io_total", r.num(io.ops), l)
		out.Add("vmware_vsan_disks_dev_bytes_total", r.num(io.blocks)*blockSize, l)
		out.Add("vmware_vsan_disks_dev_duration_seconds_total", r.num(io.time)/psaTicksPerSecond, l)
	}

	out.Help("vmware_vsan_disks_dev_duration_breakdown_seconds_total", "Total seconds of IO processing time (broken out into different spans/scopes) by ESX device layer since boot.")
	for _, span := range []string{"issue", "layer", "queue", "total"} {
		out.Add("vmware_vsan_disks_dev_duration_breakdown_seconds_total", r.num(span+"Time")/psaTicksPerSecond, labels.With("span", span))
	}
	return r.Err()
}
