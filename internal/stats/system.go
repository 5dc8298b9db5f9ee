package stats

import (
	"strings"
)

const (
	nanosPerSecond  = 1e9
	microsPerSecond = 1e6
	// squared microseconds to squared seconds
	microsSqPerSecondSq = 1e12
	// PSA device times are reported in 2^-20 second units
	psaTicksPerSecond = 1024 * 1024
	percent           = 100
)

const worldHelpPrefix = "Worlds is what ESX calls threads. Except when noted in the name, refers to a single world. "

var worldCounters = []struct {
	field    string
	fallback string
	metric   string
	help     string
}{
	{"upTime", "runTime", "vmware_esx_world_uptime_seconds_total",
		worldHelpPrefix + "uptime is a sum total of the time the world was not paused"},
	{"usedTime", "", "vmware_esx_world_usedtime_seconds_total",
		worldHelpPrefix + "usedtime is a sum total of the time the world was running on a pCPU. So usedtime/uptime is utilization."},
	{"readyTime", "", "vmware_esx_world_readytime_seconds_total",
		worldHelpPrefix + "readytime is a sum total of the time the world was activated, but waiting for a pCPU."},
}

// convertWorld handles /sched/Vcpus.
func convertWorld(out *Batch, _, node, entity string, fields Fields) error {
	w, err := parseWorldEntity(node, entity)
	if err != nil {
		return err
	}
	labels := w.labels()
	r := newReader(fields)
	for _, c := range worldCounters {
		out.Help(c.metric, c.help)
		field := c.field
		if c.fallback != "" && !fields.Has(field) {
			field = c.fallback
		}
		out.Add(c.metric, r.num(field)/nanosPerSecond, labels)
	}
	return r.Err()
}

// heapSubsystem classifies a heap by name. Later matches take precedence.
func heapSubsystem(name string) string {
	subsystem := "system"
	for _, rule := range []struct {
		subsystem string
		markers   []string
	}{
		{"DOM", []string{"dom"}},
		{"CMMDS", []string{"CMMDS"}},
		{"LSOM", []string{"virsto", "LSOM"}},
		{"VSAN", []string{"vsanbase", "vsanutil"}},
		{"VSANSparse", []string{"vsanSparse"}},
		{"RDT", []string{"RDT"}},
	} {
		for _, m := range rule.markers {
			if strings.Contains(name, m) {
				subsystem = rule.subsystem
				break
			}
		}
	}
	return subsystem
}

// convertHeap handles /system/heaps.
func convertHeap(out *Batch, _, _, entity string, fields Fields) error {
	h, err := parseHeapEntity(entity)
	if err != nil {
		return err
	}
	labels := NewLabels(
		"subsystem", heapSubsystem(h.raw),
		"host_uuid", h.hostUUID,
		"heap_id", h.id,
		"heap_name", h.name,
	)
	r := newReader(fields)
	out.Help("vmware_esx_heap_usage_ratio", "Point in time. Usage of heap (mempool) in percent. For some being full is normal, others may impact control or IO operations")
	out.Add("vmware_esx_heap_usage_ratio", r.num("heapUtil")/percent, labels)
	return r.Err()
}

// slabSubsystem classifies a slab by name. The first match wins.
func slabSubsystem(name string) string {
	lower := strings.ToLower(name)
	containsAny := func(s string, markers ...string) bool {
		for _, m := range markers {
			if strings.Contains(s, m) {
				return true
			}
		}
		return false
	}
	switch {
	case strings.Contains(name, "dom"):
		return "DOM"
	case strings.Contains(lower, "cmmds"):
		return "CMMDS"
	case containsAny(name, "virsto", "LSOM", "PLOG", "SSDLOG"):
		return "LSOM"
	case containsAny(name, "RcSsd", "BL_", "RCInv") || strings.Contains(lower, "ioretry"):
		return "LSOM"
	case containsAny(name, "vsanbase", "vsanutil"):
		return "VSAN"
	case strings.Contains(lower, "vsansparse"):
		return "VSANSparse"
	case strings.Contains(name, "RDT"):
		return "RDT"
	}
	return "system"
}

// convertSlab handles /vmkModules/vsanutil/slabs.
func convertSlab(out *Batch, _, _, entity string, fields Fields) error {
	s, err := parseSlabEntity(entity)
	if err != nil {
		return err
	}
	labels := NewLabels("subsystem", slabSubsystem(s.name), "host_uuid", s.hostUUID, "slab", s.name)
	r := newReader(fields)
	out.Help("vmware_esx_slab_alloc_count", "Point in time. Number of objects allocated/used. For some being full is normal, others may impact control or IO operations")
	out.Help("vmware_esx_slab_max_count", "Point in time. Total number of objects in the slab that could be allocated from. For some being full is normal, others may impact control or IO operations")
	out.Add("vmware_esx_slab_alloc_count", r.num("allocCount"), labels)
	out.Add("vmware_esx_slab_max_count", r.num("maxObjs"), labels)
	return r.Err()
}

// convertHostCPU handles /sched/pcpus.
func convertHostCPU(out *Batch, _, _, entity string, fields Fields) error {
	labels := NewLabels("host_uuid", entity)
	out.Help("vmware_host_cpu_seconds_total",
		"usedtime is a sum total of the used time of all pCPUs on host. "+
			"elapsedtime is a sum total of the elapsed time of all pCPUs on host. "+
			"utiltime is a sum total of the utilization time of all pCPUs on host. "+
			"coreutiltime is a sum total of the utilization time of cores of all pCPUs on host.")
	r := newReader(fields)
	for _, key := range []string{"coreUtilTime", "elapsedTime", "usedTime", "utilTime"} {
		out.Add("vmware_host_cpu_seconds_total", r.num(key)/nanosPerSecond, labels.With("type", strings.ToLower(key)))
	}
	return r.Err()
}
