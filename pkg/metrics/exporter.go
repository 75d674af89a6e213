// Package metrics exports Prometheus metrics for vmd. Custom text metrics
// derived from the catalog are written first, then the default registry is
// gathered and appended so instrumented counters share the same endpoint.
package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/vmdemo/vm-provisioner/pkg/store"
)

var (
	// RequestsTotal counts handled HTTP requests by method, route and status.
	RequestsTotal = promauto.NewCounterVec(promclient.CounterOpts{
		Name: "vmd_http_requests_total",
		Help: "Total HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	// RequestDuration observes request latency by route.
	RequestDuration = promauto.NewHistogramVec(promclient.HistogramOpts{
		Name:    "vmd_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: promclient.DefBuckets,
	}, []string{"route"})

	// ProviderOpsTotal counts provider gateway calls by operation and result.
	ProviderOpsTotal = promauto.NewCounterVec(promclient.CounterOpts{
		Name: "vmd_provider_ops_total",
		Help: "Total provider operations by op and result",
	}, []string{"op", "result"})
)

// Exporter serves Prometheus-compatible metrics at /metrics
type Exporter struct {
	store     store.Store
	startTime time.Time
}

// NewExporter creates a metrics exporter over the catalog
func NewExporter(s store.Store) *Exporter {
	return &Exporter{
		store:     s,
		startTime: time.Now(),
	}
}

// ServeHTTP serves the metrics endpoint
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	// Catalog size; list with take=0 returns only the total
	_, total, err := e.store.ListVMs(0, 0)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error collecting catalog metrics: %v", err), http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "# HELP vmd_vms_total Number of VMs in the catalog\n")
	fmt.Fprintf(w, "# TYPE vmd_vms_total gauge\n")
	fmt.Fprintf(w, "vmd_vms_total %d\n", total)

	fmt.Fprintf(w, "\n# HELP vmd_uptime_seconds Service uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE vmd_uptime_seconds gauge\n")
	fmt.Fprintf(w, "vmd_uptime_seconds %.0f\n", time.Since(e.startTime).Seconds())

	fmt.Fprintf(w, "\n# HELP vmd_store_healthy Whether the catalog backend responds to pings\n")
	fmt.Fprintf(w, "# TYPE vmd_store_healthy gauge\n")
	healthy := 1
	if err := e.store.HealthCheck(); err != nil {
		healthy = 0
	}
	fmt.Fprintf(w, "vmd_store_healthy %d\n", healthy)

	fmt.Fprintf(w, "\n")

	// Append metrics from the Prometheus default registry
	metricFamilies, err := promclient.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering Prometheus metrics: %v\n", err)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}

	w.Write(buf.Bytes())
}
