package stats

import (
	"fmt"
)

// convertNetwork handles /net/nics. The node mixes VMkernel NIC and physical
// NIC entities, told apart by the "type" field.
func convertNetwork(out *Batch, _, _, entity string, fields Fields) error {
	nicType, _ := fields.Text("type")
	switch nicType {
	case "vnic":
		nic, err := parseVmknicEntity(entity)
		if err != nil {
			return err
		}
		return convertVmknic(out, nic, fields)
	case "pnic":
		nic, err := parsePnicEntity(entity)
		if err != nil {
			return err
		}
		return convertPnic(out, nic, fields)
	}
	return fmt.Errorf("%w: nic type %q for %q", ErrUnrecognizedEntity, nicType, entity)
}

var vmknicCounters = []struct{ metric, field, help string }{
	{"vmware_esx_vmknic_tcppkt_rcvduppack_total", "rcvduppack", "Total received duplicate packets by ESX VMkernel NIC TCP since boot."},
	{"vmware_esx_vmknic_tcppkt_rcvdupack_total", "rcvdupack", "Total received duplicate ACKs by ESX VMkernel NIC TCP since boot."},
	{"vmware_esx_vmknic_tcppkt_sack_rcv_blocks_total", "sack_rcv_blocks", "Total received SACK asks for blocks by ESX VMkernel NIC TCP since boot."},
	{"vmware_esx_vmknic_tcppkt_sack_send_blocks_total", "sack_send_blocks", "Total requested SACK retransmit of blocks by ESX VMkernel NIC TCP since boot."},
	{"vmware_esx_vmknic_tcppkt_sack_rexmits_total", "sack_rexmits", "Total sent SACK asks for blocks by ESX VMkernel NIC TCP since boot."},
	{"vmware_esx_vmknic_tcppkt_sndrexmitpack_total", "rexmits", "Total retransmitted packets by ESX VMkernel NIC TCP since boot."},
	{"vmware_esx_vmknic_tcppkt_rcvoopack_total", "rcvoopack", "Total received out-of-order packets by ESX VMkernel NIC TCP since boot."},
}

func convertVmknic(out *Batch, nic vmknicEntity, fields Fields) error {
	labels := NewLabels("host_uuid", nic.hostUUID, "stack", nic.stack, "vmknic", nic.vmknic)
	r := newReader(fields)

	out.Help("vmware_esx_vmknic_tcppkt_total", "Total Packets processed by ESX VMkernel NIC TCP since boot.")
	out.Help("vmware_esx_vmknic_tcppkt_bytes_total", "Total Bytes processed by ESX VMkernel NIC TCP since boot.")
	for _, c := range vmknicCounters {
		out.Help(c.metric, c.help)
	}

	for _, dir := range []struct{ ioType, short string }{{"rx", "rcv"}, {"tx", "snd"}} {
		l := labels.With("io_type", dir.ioType)
		out.Add("vmware_esx_vmknic_tcppkt_total", r.num("tcp"+dir.ioType+"pkts"), l)
		out.Add("vmware_esx_vmknic_tcppkt_bytes_total", r.num(dir.short+"byte"), l)
	}
	for _, c := range vmknicCounters {
		out.Add(c.metric, r.num(c.field), labels)
	}
	return r.Err()
}

func convertPnic(out *Batch, nic pnicEntity, fields Fields) error {
	labels := NewLabels("host_uuid", nic.hostUUID, "vmnic", nic.vmnic)
	r := newReader(fields)

	out.Help("vmware_esx_pnic_pkt_total", "Total Packets processed by ESX physical NIC since boot.")
	out.Help("vmware_esx_pnic_pkt_bytes_total", "Total Bytes processed by ESX physical NIC since boot.")

	for _, dir := range []string{"rx", "tx"} {
		l := labels.With("io_type", dir)
		out.Add("vmware_esx_pnic_pkt_total", r.num(dir+"pkt"), l)
		out.Add("vmware_esx_pnic_pkt_bytes_total", r.num(dir+"bytes"), l)
		out.Add("vmware_esx_pnic_pkt_err_total", r.num(dir+"toterr"), l)
	}
	return r.Err()
}
