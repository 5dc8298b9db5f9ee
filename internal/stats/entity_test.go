package stats

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorldEntity(t *testing.T) {
	tests := []struct {
		name   string
		node   string
		entity string
		want   map[string]string
	}{
		{
			name:   "LSOM disk world with world id",
			node:   "$getLsomWorldInformation",
			entity: "h1|PLOG-aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee-foo|3",
			want: map[string]string{
				"subsystem": "PLOG",
				"host_uuid": "h1",
				"disk_uuid": "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
				"name":      "foo",
				"world_id":  "3",
			},
		},
		{
			name:   "LSOM disk world without world id",
			node:   "$getLsomWorldInformation",
			entity: "h1|DDP-aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee-bar",
			want: map[string]string{
				"subsystem": "DDP",
				"host_uuid": "h1",
				"disk_uuid": "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
				"name":      "bar",
			},
		},
		{
			name:   "LSOM module world",
			node:   "$getLsomWorldInformation",
			entity: "h1|VSAN_0x4302_LSOM",
			want: map[string]string{
				"subsystem": "LSOM",
				"host_uuid": "h1",
				"name":      "VSAN_0x4302_LSOM",
			},
		},
		{
			name:   "DOM world",
			node:   "$getDomWorldInformation",
			entity: "h1|VSAN_0x1_Owner|12",
			want: map[string]string{
				"subsystem": "DOM",
				"host_uuid": "h1",
				"world_id":  "12",
				"role":      "Owner",
			},
		},
		{
			name:   "NIC world",
			node:   "$getNicWorldInformation",
			entity: "h1|vmnic0-pollWorld-0",
			want: map[string]string{
				"subsystem": "Network",
				"host_uuid": "h1",
				"name":      "vmnic0-pollWorld-0",
			},
		},
		{
			name:   "CMMDS world with plain role",
			node:   "$getCmmdsWorldInformation",
			entity: "h1|cmmdsTimer|7",
			want: map[string]string{
				"subsystem": "CMMDS",
				"host_uuid": "h1",
				"world_id":  "7",
				"role":      "cmmdsTimer",
			},
		},
		{
			name:   "CMMDS world with encoded role",
			node:   "$getCmmdsWorldInformation",
			entity: "h1|VSAN_0x2_Master|8",
			want: map[string]string{
				"subsystem": "CMMDS",
				"host_uuid": "h1",
				"world_id":  "8",
				"role":      "Master",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := parseWorldEntity(tt.node, tt.entity)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, w.labels().Map()); diff != "" {
				t.Errorf("labels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseWorldEntityRejectsUnknownShapes(t *testing.T) {
	tests := []struct {
		name   string
		node   string
		entity string
	}{
		{"LSOM world without pattern", "$getLsomWorldInformation", "h1|something-else|3"},
		{"LSOM world without delimiter", "$getLsomWorldInformation", "h1"},
		{"DOM world too short", "$getDomWorldInformation", "h1|VSAN_0x1_Owner"},
		{"DOM world role not encoded", "$getDomWorldInformation", "h1|owner|3"},
		{"CMMDS world with two part role", "$getCmmdsWorldInformation", "h1|a_b|3"},
		{"unknown node", "$getSomethingElse", "h1|x|3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseWorldEntity(tt.node, tt.entity)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnrecognizedEntity))
		})
	}
}

func TestParseHeapEntity(t *testing.T) {
	h, err := parseHeapEntity("h1|dom-client-0x43a1")
	require.NoError(t, err)
	assert.Equal(t, "h1", h.hostUUID)
	assert.Equal(t, "dom-client", h.name)
	assert.Equal(t, "0x43a1", h.id)

	_, err = parseHeapEntity("h1|noid")
	assert.ErrorIs(t, err, ErrUnrecognizedEntity)
}

func TestParseSlabEntity(t *testing.T) {
	s, err := parseSlabEntity("h1|PLOGSlab")
	require.NoError(t, err)
	assert.Equal(t, slabEntity{hostUUID: "h1", name: "PLOGSlab"}, s)

	_, err = parseSlabEntity("h1|a|b")
	assert.ErrorIs(t, err, ErrUnrecognizedEntity)
	_, err = parseSlabEntity("h1")
	assert.ErrorIs(t, err, ErrUnrecognizedEntity)
}

func TestParseVscsiEntity(t *testing.T) {
	v, err := parseVscsiEntity("5001-abc|scsi0:0")
	require.NoError(t, err)
	assert.Equal(t, "5001-abc", v.vmInstanceUUID)
	assert.Equal(t, "scsi0:0", v.name)

	_, err = parseVscsiEntity("5001-abc")
	assert.ErrorIs(t, err, ErrUnrecognizedEntity)
}

func TestSubsystemClassification(t *testing.T) {
	assert.Equal(t, "DOM", heapSubsystem("dom-client-0x1"))
	assert.Equal(t, "LSOM", heapSubsystem("LSOMHeap-0x1"))
	assert.Equal(t, "RDT", heapSubsystem("RDT_dom-0x1"), "later rules take precedence")
	assert.Equal(t, "system", heapSubsystem("misc-0x1"))

	assert.Equal(t, "DOM", slabSubsystem("domObjects"))
	assert.Equal(t, "CMMDS", slabSubsystem("CmmdsSlab"))
	assert.Equal(t, "LSOM", slabSubsystem("BL_Slab"))
	assert.Equal(t, "LSOM", slabSubsystem("IORetrySlab"))
	assert.Equal(t, "VSANSparse", slabSubsystem("VsanSparseSlab"))
	assert.Equal(t, "system", slabSubsystem("genericSlab"))
}
