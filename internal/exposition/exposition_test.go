package exposition

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsanmetrics/vsan-exporter/internal/stats"
)

func testAccumulator() *stats.Accumulator {
	acc := stats.NewAccumulator()

	heap := stats.NewBatch("/system/heaps", "$getHeapInformation", "h1|dom-0x1")
	heap.Help("vmware_esx_heap_usage_ratio", "Usage of heap.")
	heap.Add("vmware_esx_heap_usage_ratio", 0.5, stats.NewLabels("subsystem", "DOM", "host_uuid", "h1"))
	acc.Commit(heap)

	slab := stats.NewBatch("/vmkModules/vsanutil/slabs", "$getSlabInformation", "h1|s")
	slab.Help("vmware_esx_slab_alloc_count", "Allocated objects.")
	slab.Add("vmware_esx_slab_alloc_count", 12, stats.NewLabels("host_uuid", "h1", "slab", "s"))
	acc.Commit(slab)
	return acc
}

func TestWritePrometheus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePrometheus(&buf, testAccumulator()))

	want := strings.Join([]string{
		"# HELP vmware_esx_heap_usage_ratio Usage of heap. [from /system/heaps $getHeapInformation]",
		`vmware_esx_heap_usage_ratio{subsystem="DOM",host_uuid="h1"} 0.500000`,
		"",
		"# HELP vmware_esx_slab_alloc_count Allocated objects. [from /vmkModules/vsanutil/slabs $getSlabInformation]",
		`vmware_esx_slab_alloc_count{host_uuid="h1",slab="s"} 12.000000`,
		"",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestWritePrometheusIsRepeatable(t *testing.T) {
	acc := testAccumulator()
	var first, second bytes.Buffer
	require.NoError(t, WritePrometheus(&first, acc))
	require.NoError(t, WritePrometheus(&second, acc))
	assert.Equal(t, first.String(), second.String())
}

func TestWritePrometheusJoinsNodes(t *testing.T) {
	acc := stats.NewAccumulator()
	acc.Describe("m", "help", "/vmkModules/vsan/dom", "clientStats")
	acc.Describe("m", "other", "/vmkModules/vsan/dom", "ownerStats")

	var buf bytes.Buffer
	require.NoError(t, WritePrometheus(&buf, acc))
	assert.Equal(t, "# HELP m help [from /vmkModules/vsan/dom clientStats,ownerStats]\n\n", buf.String())
}

func TestWritePrometheusEscapesLabelValues(t *testing.T) {
	acc := stats.NewAccumulator()
	acc.Add("m", 1, stats.NewLabels("objpath", `a"b\c`), stats.EntityRef{})

	var buf bytes.Buffer
	require.NoError(t, WritePrometheus(&buf, acc))
	assert.Equal(t, "m{objpath=\"a\\\"b\\\\c\"} 1.000000\n\n", buf.String())
}

func TestRenderersTolerateEmptyAccumulator(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePrometheus(&buf, stats.NewAccumulator()))
	require.NoError(t, WritePrometheus(&buf, nil))
	require.NoError(t, WriteWavefront(&buf, stats.NewAccumulator(), WavefrontQuery{}, time.Now()))
	require.NoError(t, WriteWavefront(&buf, nil, WavefrontQuery{Timestamp: true}, time.Now()))
	assert.Empty(t, buf.String())
}

func TestWriteWavefrontMetricAllowList(t *testing.T) {
	q := DecodeWavefrontQuery(`{"metrics": ["vmware.esx.heap.usage.ratio"]}`)

	var buf bytes.Buffer
	require.NoError(t, WriteWavefront(&buf, testAccumulator(), q, time.Now()))

	assert.Equal(t,
		"vmware.esx.heap.usage.ratio 0.500000 source=vsan-h1 subsystem=\"DOM\" host_uuid=\"h1\"\n\n",
		buf.String())
}

func TestWriteWavefrontEmptyAllowListDropsEverything(t *testing.T) {
	q := DecodeWavefrontQuery(`{"metrics": []}`)
	require.NotNil(t, q.Metrics)

	var buf bytes.Buffer
	require.NoError(t, WriteWavefront(&buf, testAccumulator(), q, time.Now()))
	assert.Empty(t, buf.String())
}

func TestWriteWavefrontOptions(t *testing.T) {
	q := DecodeWavefrontQuery(`{
		"source": "lab",
		"metricPrefix": "corp",
		"timestamp": true,
		"labels": {"subsystem": "override", "dc": "east"}
	}`)
	now := time.Unix(1700000000, 250000000)

	acc := testAccumulator()
	var buf bytes.Buffer
	require.NoError(t, WriteWavefront(&buf, acc, q, now))

	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t,
		`corp.vmware.esx.heap.usage.ratio 0.500000 1700000000.250 source=lab subsystem="override" host_uuid="h1" dc="east"`,
		lines[0])
	assert.Equal(t,
		`corp.vmware.esx.slab.alloc.count 12.000000 1700000000.250 source=lab host_uuid="h1" slab="s" dc="east" subsystem="override"`,
		lines[2])

	// the accumulator is left untouched
	r, _ := acc.Get("vmware_esx_heap_usage_ratio")
	v, _ := r.Values[0].Labels.Get("subsystem")
	assert.Equal(t, "DOM", v)
	assert.False(t, r.Values[0].Labels.Has("dc"))
}

func TestDecodeWavefrontQuery(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  WavefrontQuery
	}{
		{name: "empty", input: "", want: WavefrontQuery{}},
		{name: "invalid json", input: "{nope", want: WavefrontQuery{}},
		{name: "not an object", input: `["a"]`, want: WavefrontQuery{}},
		{name: "bad metrics type", input: `{"metrics": "a"}`, want: WavefrontQuery{}},
		{
			name:  "numeric label values",
			input: `{"labels": {"rack": 4}, "metrics": null}`,
			want:  WavefrontQuery{Labels: map[string]string{"rack": "4"}},
		},
		{
			name:  "all options",
			input: `{"source": "s", "metricPrefix": "p", "timestamp": true, "metrics": ["a.b"]}`,
			want:  WavefrontQuery{Source: "s", MetricPrefix: "p", Timestamp: true, Metrics: []string{"a.b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeWavefrontQuery(tt.input))
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatPrometheus, f)

	f, err = ParseFormat("Wavefront")
	require.NoError(t, err)
	assert.Equal(t, FormatWavefront, f)
	assert.Equal(t, "text/plain; charset=utf-8", f.ContentType())

	_, err = ParseFormat("influx")
	assert.Error(t, err)
}

func TestNewRenderer(t *testing.T) {
	now := func() time.Time { return time.Unix(10, 0) }

	var buf bytes.Buffer
	r := NewRenderer(FormatWavefront, WavefrontQuery{Timestamp: true, Metrics: []string{"vmware.esx.slab.alloc.count"}}, now)
	require.NoError(t, r.Render(&buf, testAccumulator()))
	assert.Equal(t, "vmware.esx.slab.alloc.count 12.000000 10.000 source=vsan-h1 host_uuid=\"h1\" slab=\"s\"\n\n", buf.String())

	buf.Reset()
	r = NewRenderer(FormatPrometheus, WavefrontQuery{}, now)
	require.NoError(t, r.Render(&buf, testAccumulator()))
	assert.Contains(t, buf.String(), "# HELP vmware_esx_slab_alloc_count")
}
