package stats

// absentSentinel marks a field the host does not report. Negative values
// never reach the output.
const absentSentinel = -1

type nodeKey struct {
	path string
	node string
}

// MissingFields lists, per raw node, the fields that hosts older than 7.0 do
// not report.
type MissingFields map[nodeKey][]string

// Fill inserts the sentinel for every listed field absent from fields.
func (m MissingFields) Fill(path, node string, fields Fields) {
	for _, name := range m[nodeKey{path: path, node: node}] {
		if !fields.Has(name) {
			fields[name] = float64(absentSentinel)
		}
	}
}

// Lookup returns the fields listed for a raw node.
func (m MissingFields) Lookup(path, node string) []string {
	return m[nodeKey{path: path, node: node}]
}

var domUnmapFields = []string{"unmapCount", "unmapBytes", "unmapLatencySumUs", "unmapCongestionSum"}

func withUnmap(extra ...string) []string {
	out := make([]string, 0, len(domUnmapFields)+len(extra))
	out = append(out, domUnmapFields...)
	return append(out, extra...)
}

// Pre70MissingFields returns the compensation table for pre-7.0 hosts.
func Pre70MissingFields() MissingFields {
	originFields := []string{"sumBytesToSync"}
	return MissingFields{
		{"/vmkModules/vsan/dom", "clientStats"}: withUnmap(),
		{"/vmkModules/vsan/dom", "ownerStats"}: withUnmap(
			"writeLeafOwnerCount", "writeLeafOwnerLatencySumUs",
			"readLeafOwnerCount", "readLeafOwnerLatencySumUs",
			"unmapLeafOwnerCount", "unmapLeafOwnerLatencySumUs",
			"recoveryWriteLeafOwnerCount", "recoveryWriteLeafOwnerLatencySumUs",
			"recoveryUnmapLeafOwnerCount", "recoveryUnmapLeafOwnerLatencySumUs",
		),
		{"/vmkModules/vsan/dom", "compmgrStats"}: withUnmap("recoveryWriteBytes"),
		{"/vmkModules/vsan/dom/compSchedulers", "%s/stats"}: {
			"writeCount", "writeBytes", "writeLatencySumUs", "numOIOSumWrite",
			"readCount", "readBytes", "readLatencySumUs", "numOIOSumRead",
			"unmapCount", "unmapBytes", "unmapLatencySumUs", "numOIOSumUnmap",
			"recoveryWriteCount",
			"recoveryWriteBytes", "recoveryWriteLatencySumUs",
			"numOIOSumRecoveryWrite", "numOIOSumRecoveryUnmap",
			"recoveryUnmapCount", "recoveryUnmapBytes", "recoveryUnmapLatencySumUs",
		},
		{"/vmkModules/vsan/dom/compSchedulers", "%s/OriginStatsDecom"}:         originFields,
		{"/vmkModules/vsan/dom/compSchedulers", "%s/OriginStatsFixCompliance"}: originFields,
		{"/vmkModules/vsan/dom/compSchedulers", "%s/OriginStatsPolicyChange"}:  originFields,
		{"/vmkModules/vsan/dom/compSchedulers", "%s/OriginStatsRebalance"}:     originFields,
		{"/vmkModules/plog/devices", "%r/info|elevStats:./%s/info[deviceUUID]"}: {
			"memP", "dataP", "ssdP", "maxP", "zeroP", "logP",
		},
		{"/vmkModules/plog/devices", "%r/info|dedupStats:./%s/info[deviceUUID]"}: {
			"txnReplayHashmapTime", "txnReplayBitmapTime", "txnReplayXmapTime",
			"txnReplayBgWriteIOs", "txnReplayFgWriteIOs", "txnWrites",
			"cacheMissesBmap", "cacheMissesXmap", "cacheMissesHmap",
			"cacheHitsBmap", "cacheHitsXmap", "cacheHitsHmap",
			"pendingTxnReplayYields", "txnReplayReadIOHits",
		},
		{"/net/nics", "$getVsanNetworkStats"}: {
			"rcvbyte", "sndbyte", "rcvduppack", "rcvdupack",
			"sack_rcv_blocks", "sack_send_blocks",
			"sack_rexmits", "rcvoopack",
		},
	}
}
