// Package exposition renders accumulated vSAN metric families as Prometheus
// text exposition or Wavefront data format lines.
package exposition

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vsanmetrics/vsan-exporter/internal/stats"
)

// Format selects the output renderer.
type Format string

const (
	FormatPrometheus Format = "prometheus"
	FormatWavefront  Format = "wavefront"
)

// ParseFormat maps a query parameter to a Format. The empty string selects
// Prometheus.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatPrometheus:
		return FormatPrometheus, nil
	case FormatWavefront:
		return FormatWavefront, nil
	}
	return "", fmt.Errorf("unsupported output format %q", s)
}

// ContentType returns the HTTP content type of the format.
func (f Format) ContentType() string {
	if f == FormatWavefront {
		return "text/plain; charset=utf-8"
	}
	return "text/plain; version=0.0.4; charset=utf-8"
}

// Renderer writes one host's metric families.
type Renderer interface {
	Render(w io.Writer, acc *stats.Accumulator) error
}

// NewRenderer returns the renderer for f. The query only applies to the
// Wavefront format.
func NewRenderer(f Format, q WavefrontQuery, now func() time.Time) Renderer {
	if f == FormatWavefront {
		return &wavefrontRenderer{query: q, now: now}
	}
	return prometheusRenderer{}
}

// errWriter keeps the first write error so renderers can check once.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func (e *errWriter) writeString(s string) {
	if e.err != nil {
		return
	}
	_, e.err = io.WriteString(e.w, s)
}

var labelValueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabelValue(v string) string {
	return labelValueEscaper.Replace(v)
}
