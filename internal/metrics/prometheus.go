package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics describing the exporter itself
var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsan_exporter_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vsan_exporter_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)

	// vSphere API call metrics
	vsphereRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsan_exporter_vsphere_requests_total",
			Help: "Total number of requests to vCenter and ESX hosts",
		},
		[]string{"operation", "status"},
	)

	vsphereRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vsan_exporter_vsphere_request_duration_seconds",
			Help:    "vCenter and ESX host request duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation", "status"},
	)

	// Collection metrics
	hostFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vsan_exporter_host_fetch_duration_seconds",
			Help:    "Duration of raw statistics retrieval per host",
			Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}, // 100ms to 30s
		},
		[]string{"host"},
	)

	hostFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsan_exporter_host_fetch_errors_total",
			Help: "Total number of failed raw statistics retrievals",
		},
		[]string{"host"},
	)

	conversionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsan_exporter_conversion_errors_total",
			Help: "Total number of raw entities that could not be converted",
		},
		[]string{"path", "node"},
	)

	labelMismatchTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vsan_exporter_label_mismatch_total",
			Help: "Total number of entities dropped because their host_uuid label disagreed with the host",
		},
	)

	connectedHosts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vsan_exporter_connected_hosts",
			Help: "Number of hosts currently connected",
		},
	)

	reconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsan_exporter_host_reconciliations_total",
			Help: "Total number of host membership reconciliations",
		},
		[]string{"status"},
	)

	hostMembershipChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsan_exporter_host_membership_changes_total",
			Help: "Total number of hosts added to or evicted from the connection list",
		},
		[]string{"change"},
	)

	// Discovery consumers
	discoveryPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsan_discovery_polls_total",
			Help: "Total number of service discovery endpoint polls",
		},
		[]string{"status"},
	)

	discoveryWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vsan_discovery_file_writes_total",
			Help: "Total number of server list file rewrites",
		},
	)

	// Kubernetes API call metrics
	kubernetesRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsan_operator_kubernetes_requests_total",
			Help: "Total number of requests to Kubernetes API",
		},
		[]string{"resource", "verb", "status"},
	)
)

// RecordHTTPRequest records metrics for HTTP requests
func RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	labels := prometheus.Labels{
		"method":      method,
		"path":        path,
		"status_code": strconv.Itoa(statusCode),
	}

	httpRequestsTotal.With(labels).Inc()
	httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordVsphereRequest records metrics for vCenter and host API calls
func RecordVsphereRequest(operation string, duration time.Duration, err error) {
	labels := prometheus.Labels{
		"operation": operation,
		"status":    status(err),
	}

	vsphereRequestsTotal.With(labels).Inc()
	vsphereRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordHostFetch records raw statistics retrieval metrics
func RecordHostFetch(host string, duration time.Duration, hasError bool) {
	hostFetchDuration.With(prometheus.Labels{"host": host}).Observe(duration.Seconds())

	if hasError {
		hostFetchErrors.With(prometheus.Labels{"host": host}).Inc()
	}
}

// RecordConversionError counts an entity dropped during conversion
func RecordConversionError(path, node string) {
	conversionErrorsTotal.With(prometheus.Labels{"path": path, "node": node}).Inc()
}

// RecordLabelMismatch counts entities dropped during label augmentation
func RecordLabelMismatch(count int) {
	if count > 0 {
		labelMismatchTotal.Add(float64(count))
	}
}

// SetConnectedHosts updates the connected host gauge
func SetConnectedHosts(n int) {
	connectedHosts.Set(float64(n))
}

// RecordReconciliation records a membership check and its outcome
func RecordReconciliation(added, evicted int, err error) {
	reconciliationsTotal.With(prometheus.Labels{"status": status(err)}).Inc()

	if added > 0 {
		hostMembershipChanges.With(prometheus.Labels{"change": "added"}).Add(float64(added))
	}
	if evicted > 0 {
		hostMembershipChanges.With(prometheus.Labels{"change": "evicted"}).Add(float64(evicted))
	}
}

// RecordDiscoveryPoll records a poll of the service discovery endpoint
func RecordDiscoveryPoll(err error) {
	discoveryPollsTotal.With(prometheus.Labels{"status": status(err)}).Inc()
}

// RecordDiscoveryWrite records a rewrite of the server list file
func RecordDiscoveryWrite() {
	discoveryWritesTotal.Inc()
}

// RecordKubernetesRequest records metrics for Kubernetes API requests
func RecordKubernetesRequest(resource, verb string, err error) {
	kubernetesRequestsTotal.With(prometheus.Labels{
		"resource": resource,
		"verb":     verb,
		"status":   status(err),
	}).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
