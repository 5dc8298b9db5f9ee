package stats

// Converter turns one raw entity into samples on out.
type Converter func(out *Batch, path, node, entity string, fields Fields) error

// PathSpec binds a raw statistics location to its converter. Node names may
// carry the provider's placeholders (%s, %r, %v); they are matched literally
// against the keys of the statistics document.
type PathSpec struct {
	Path    string
	Nodes   []string
	Convert Converter
}

// DefaultPaths returns the registry in priority order. When two entries
// describe the same metric, the earlier entry's help text is kept.
func DefaultPaths() []PathSpec {
	return []PathSpec{
		{
			Path:    "/sched/Vcpus",
			Nodes:   []string{"$getLsomWorldInformation", "$getDomWorldInformation", "$getNicWorldInformation", "$getCmmdsWorldInformation"},
			Convert: convertWorld,
		},
		{
			Path:    "/vmkModules/vsan/dom",
			Nodes:   []string{"clientStats", "ownerStats", "compmgrStats"},
			Convert: convertDomRole,
		},
		{
			Path:    "/vmkModules/vsan/dom/compSchedulers",
			Nodes:   []string{"%s/stats"},
			Convert: convertDomDiskGroup,
		},
		{
			Path:    "/vmkModules/vsan/dom",
			Nodes:   []string{"clientCacheStats"},
			Convert: convertDomClientCache,
		},
		{
			Path:    "/vmkModules/lsom/disks",
			Nodes:   []string{"%s/info"},
			Convert: convertLsomDisk,
		},
		{
			Path:    "/vmkModules/lsom/disks",
			Nodes:   []string{"%s/blkattrInfo"},
			Convert: convertLsomBlkattr,
		},
		{
			Path:    "/vmkModules/plog/devices",
			Nodes:   []string{"%r/info|stats:./%s/info[deviceUUID]"},
			Convert: convertPlogDrain,
		},
		{
			Path:    "/vmkModules/plog/devices",
			Nodes:   []string{"%r/info|elevStats:./%s/info[deviceUUID]"},
			Convert: convertPlogElevator,
		},
		{
			Path:    "/vmkModules/plog/devices",
			Nodes:   []string{"%r/info|dedupStats:./%s/info[deviceUUID]"},
			Convert: convertPlogDedup,
		},
		{
			Path:    "/vmkModules/plog/devices",
			Nodes:   []string{"%r/info|info:./%s/info[deviceUUID]"},
			Convert: convertPlogRecovery,
		},
		{
			Path:    "/system/heaps",
			Nodes:   []string{"$getHeapInformation"},
			Convert: convertHeap,
		},
		{
			Path:    "/storage/scsifw/devices",
			Nodes:   []string{"%r/info|stats:/vmkModules/plog/devices/%s/info[deviceUUID]"},
			Convert: convertPsaDevice,
		},
		{
			Path:    "/vmkModules/vsanutil/slabs",
			Nodes:   []string{"$getSlabInformation"},
			Convert: convertSlab,
		},
		{
			Path:    "/net/nics",
			Nodes:   []string{"$getVsanNetworkStats"},
			Convert: convertNetwork,
		},
		{
			Path: "/vmkModules/vsan/dom/compSchedulers",
			Nodes: []string{"%s/OriginStatsPolicyChange", "%s/OriginStatsDecom",
				"%s/OriginStatsRebalance", "%s/OriginStatsFixCompliance"},
			Convert: convertDomOrigin,
		},
		{
			Path:    "/sched/pcpus",
			Nodes:   []string{"$getHostCpuInformation"},
			Convert: convertHostCPU,
		},
		{
			Path:    "/worldGroups",
			Nodes:   []string{"%v/vscsi/%v/stats/ioStats"},
			Convert: convertVscsi,
		},
		{
			Path:    "/vmkModules/vsan/dom/topclients",
			Nodes:   []string{"$getVirtualDiskStats"},
			Convert: convertVirtualDisk,
		},
	}
}
