package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"aimw.dev/aimw/internal/registry"
)

// Collector adapts the monitor's per-endpoint summaries into Prometheus
// gauges on each scrape, following the teacher's internal/cache/metrics.go
// pattern of aggregating sub-component counters into one exported summary,
// here fanned out per registered endpoint instead of per cache tier.
type Collector struct {
	monitor *Monitor
	reg     *registry.Registry

	latency      *prometheus.Desc
	errorRate    *prometheus.Desc
	availability *prometheus.Desc
	throughput   *prometheus.Desc
	healthy      *prometheus.Desc
}

// NewCollector builds a Collector reading from monitor and reg at scrape time.
func NewCollector(monitor *Monitor, reg *registry.Registry) *Collector {
	return &Collector{
		monitor: monitor,
		reg:     reg,
		latency: prometheus.NewDesc(
			"aimw_endpoint_avg_latency_ms", "Average latency over the 5m window.",
			[]string{"endpoint", "provider"}, nil),
		errorRate: prometheus.NewDesc(
			"aimw_endpoint_error_rate", "Error rate over the 5m window.",
			[]string{"endpoint", "provider"}, nil),
		availability: prometheus.NewDesc(
			"aimw_endpoint_availability", "Availability over the 5m window.",
			[]string{"endpoint", "provider"}, nil),
		throughput: prometheus.NewDesc(
			"aimw_endpoint_throughput_rps", "Requests per second over the 5m window.",
			[]string{"endpoint", "provider"}, nil),
		healthy: prometheus.NewDesc(
			"aimw_endpoint_healthy", "1 if the endpoint's health check currently passes.",
			[]string{"endpoint", "provider"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.latency
	ch <- c.errorRate
	ch <- c.availability
	ch <- c.throughput
	ch <- c.healthy
}

// Collect implements prometheus.Collector, reading a fresh summary per
// active endpoint on every scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, e := range c.reg.ListActive() {
		summary := c.monitor.GetModelPerformance(e.ID, Window5m)
		health := c.monitor.GetHealth(e.ID)

		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, summary.AvgLatencyMs, e.ID, e.Provider)
		ch <- prometheus.MustNewConstMetric(c.errorRate, prometheus.GaugeValue, summary.ErrorRate, e.ID, e.Provider)
		ch <- prometheus.MustNewConstMetric(c.availability, prometheus.GaugeValue, summary.Availability, e.ID, e.Provider)
		ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, summary.Throughput, e.ID, e.Provider)

		healthy := 0.0
		if health.Healthy {
			healthy = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, healthy, e.ID, e.Provider)
	}
}
