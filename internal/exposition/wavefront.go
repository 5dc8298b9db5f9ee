package exposition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/vsanmetrics/vsan-exporter/internal/stats"
)

// DefaultSourcePrefix is prepended to the host uuid to form the default
// Wavefront source.
const DefaultSourcePrefix = "vsan"

// WavefrontQuery customizes Wavefront output.
type WavefrontQuery struct {
	// Source overrides the per-sample source.
	Source string `json:"source,omitempty"`
	// MetricPrefix is prepended to every metric name with a dot.
	MetricPrefix string `json:"metricPrefix,omitempty"`
	// Timestamp adds the render time to every line.
	Timestamp bool `json:"timestamp,omitempty"`
	// Labels are merged into every label set, replacing existing values.
	Labels map[string]string `json:"labels,omitempty"`
	// Metrics, when non-nil, is the allow-list of dotted metric names.
	Metrics []string `json:"metrics,omitempty"`
}

type wavefrontQueryJSON struct {
	Source       string          `json:"source"`
	MetricPrefix string          `json:"metricPrefix"`
	Timestamp    bool            `json:"timestamp"`
	Labels       map[string]any  `json:"labels"`
	Metrics      json.RawMessage `json:"metrics"`
}

// DecodeWavefrontQuery parses the JSON query object. Anything that does not
// decode yields the empty query.
func DecodeWavefrontQuery(s string) WavefrontQuery {
	if strings.TrimSpace(s) == "" {
		return WavefrontQuery{}
	}
	var raw wavefrontQueryJSON
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&raw); err != nil {
		return WavefrontQuery{}
	}

	q := WavefrontQuery{
		Source:       raw.Source,
		MetricPrefix: raw.MetricPrefix,
		Timestamp:    raw.Timestamp,
	}
	if len(raw.Labels) > 0 {
		q.Labels = make(map[string]string, len(raw.Labels))
		for k, v := range raw.Labels {
			q.Labels[k] = fmt.Sprint(v)
		}
	}
	if len(raw.Metrics) > 0 && !bytes.Equal(raw.Metrics, []byte("null")) {
		metrics := []string{}
		if err := json.Unmarshal(raw.Metrics, &metrics); err != nil {
			return WavefrontQuery{}
		}
		q.Metrics = metrics
	}
	return q
}

func (q WavefrontQuery) allows(metric string) bool {
	if q.Metrics == nil {
		return true
	}
	for _, m := range q.Metrics {
		if m == metric {
			return true
		}
	}
	return false
}

func (q WavefrontQuery) labelKeys() []string {
	keys := make([]string, 0, len(q.Labels))
	for k := range q.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type wavefrontRenderer struct {
	query WavefrontQuery
	now   func() time.Time
}

func (r *wavefrontRenderer) Render(w io.Writer, acc *stats.Accumulator) error {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	return WriteWavefront(w, acc, r.query, now())
}

// WriteWavefront renders acc in the Wavefront data format:
//
//	<metric.name> <value> [<timestamp>] source=<source> k="v" ...
//
// Metric names use dots instead of underscores. The allow-list is matched
// against the dotted name before the prefix is applied. acc is not modified.
func WriteWavefront(w io.Writer, acc *stats.Accumulator, q WavefrontQuery, now time.Time) error {
	ts := ""
	if q.Timestamp {
		ts = fmt.Sprintf("%.3f ", float64(now.Unix())+float64(now.Nanosecond())/1e9)
	}
	extra := q.labelKeys()

	ew := &errWriter{w: w}
	for _, r := range acc.Records() {
		metric := strings.ReplaceAll(r.Name, "_", ".")
		if !q.allows(metric) {
			continue
		}
		if q.MetricPrefix != "" {
			metric = q.MetricPrefix + "." + metric
		}
		for _, s := range r.Values {
			labels := s.Labels.Clone()
			for _, k := range extra {
				labels.Set(k, q.Labels[k])
			}
			source := q.Source
			if source == "" {
				host, _ := labels.Get("host_uuid")
				source = DefaultSourcePrefix + "-" + host
			}
			ew.printf("%s %f %ssource=%s%s\n", metric, s.Value, ts, source, pointTags(labels))
		}
		ew.writeString("\n")
		if ew.err != nil {
			return ew.err
		}
	}
	return ew.err
}

func pointTags(l stats.Labels) string {
	var sb strings.Builder
	for _, lbl := range l {
		sb.WriteByte(' ')
		sb.WriteString(lbl.Name)
		sb.WriteString(`="`)
		sb.WriteString(escapeLabelValue(lbl.Value))
		sb.WriteByte('"')
	}
	return sb.String()
}
