package exposition

import (
	"io"
	"strings"

	"github.com/vsanmetrics/vsan-exporter/internal/stats"
)

type prometheusRenderer struct{}

func (prometheusRenderer) Render(w io.Writer, acc *stats.Accumulator) error {
	return WritePrometheus(w, acc)
}

// WritePrometheus renders acc in the Prometheus text format. Every family
// with a description gets a HELP line carrying its provenance, samples
// follow with labels in insertion order and values in fixed-point notation,
// and a blank line closes the family.
func WritePrometheus(w io.Writer, acc *stats.Accumulator) error {
	ew := &errWriter{w: w}
	for _, r := range acc.Records() {
		if r.Help != "" {
			ew.printf("# HELP %s %s [from %s %s]\n", r.Name, r.Help, r.Origin.Path, strings.Join(r.Origin.Nodes, ","))
		}
		for _, s := range r.Values {
			ew.printf("%s{%s} %f\n", r.Name, promLabels(s.Labels), s.Value)
		}
		ew.writeString("\n")
		if ew.err != nil {
			return ew.err
		}
	}
	return ew.err
}

func promLabels(l stats.Labels) string {
	var sb strings.Builder
	for i, lbl := range l {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(lbl.Name)
		sb.WriteString(`="`)
		sb.WriteString(escapeLabelValue(lbl.Value))
		sb.WriteByte('"')
	}
	return sb.String()
}
