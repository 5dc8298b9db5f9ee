package stats

import (
	"fmt"
	"strings"
)

// CNS tags that a VSCSI entity may carry, exported as labels with dots
// replaced by underscores.
var cnsTags = []string{"cns.k8s.pvc.namespace", "cns.containerCluster.clusterId", "cns.k8s.pv.name", "cns.k8s.pvc.name"}

func textLabel(fields Fields, name string) (string, bool) {
	v, ok := fields[name]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// convertVscsi handles per VM VSCSI controller stats under /worldGroups.
func convertVscsi(out *Batch, _, _, entity string, fields Fields) error {
	v, err := parseVscsiEntity(entity)
	if err != nil {
		return err
	}
	labels := NewLabels("vm_instance_uuid", v.vmInstanceUUID, "vscsi_name", v.name)
	if obj, ok := textLabel(fields, "objUuid"); ok {
		labels.Set("objuuid", obj)
	}
	for _, tag := range cnsTags {
		if val, ok := textLabel(fields, tag); ok {
			labels.Set(strings.ReplaceAll(tag, ".", "_"), val)
		}
	}

	out.Help("vmware_vsan_vscsi_io_total", "Total IOs seen by a VSCSI controller in a VM.")
	out.Help("vmware_vsan_vscsi_io_bytes_total", "Total bytes seen by a VSCSI controller in a VM.")
	out.Help("vmware_vsan_vscsi_io_duration_seconds_total", "Sum total of duration of IO seen by a VSCSI controller in a VM.")

	r := newReader(fields)
	for _, key := range []string{"Read", "Write"} {
		l := labels.With("io_type", strings.ToLower(key))
		out.Add("vmware_vsan_vscsi_io_total", r.num("num"+key+"s"), l)
		out.Add("vmware_vsan_vscsi_io_bytes_total", r.num("bytes"+key), l)
		out.Add("vmware_vsan_vscsi_io_duration_seconds_total", r.num("latency"+key+"s")/microsPerSecond, l)
	}
	return r.Err()
}

// convertVirtualDisk handles /vmkModules/vsan/dom/topclients.
func convertVirtualDisk(out *Batch, _, _, entity string, fields Fields) error {
	labels := NewLabels("objpath", entity)
	if obj, ok := textLabel(fields, "objUuid"); ok {
		labels.Set("objuuid", obj)
	}
	r := newReader(fields)

	out.Help("vmware_vsan_vdisk_normalizedio_total", "Total normalized IOs of a virtual disk.")
	for _, key := range []string{"Read", "ReadDelay", "Write", "WriteDelay"} {
		out.Add("vmware_vsan_vdisk_normalizedio_total", r.num("normalized"+key+"Count"), labels.With("io_type", strings.ToLower(key)))
	}

	out.Help("vmware_vsan_vdisk_iopslimit", "IOPS limit number of a virtual disk.")
	out.Add("vmware_vsan_vdisk_iopslimit", r.num("objIopsLimit"), labels)
	return r.Err()
}
