package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Sample is the latest snapshot a worker reported, labelled with the
// worker's identity.
type Sample struct {
	Worker   string
	Pid      int
	Snapshot Snapshot
}

// Exporter publishes worker samples as Prometheus metrics.  Samples are
// pulled from source on every scrape, so the exporter holds no state of
// its own.
type Exporter struct {
	source func() []Sample

	up          *prometheus.Desc
	uptime      *prometheus.Desc
	active      *prometheus.Desc
	connections *prometheus.Desc
	requests    *prometheus.Desc
	bytesIn     *prometheus.Desc
	bytesOut    *prometheus.Desc
	errors      *prometheus.Desc
}

// NewExporter returns an exporter under the given namespace.
func NewExporter(namespace string, source func() []Sample) *Exporter {
	if namespace == "" {
		namespace = "forkhost"
	}
	labels := []string{"worker", "pid"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "worker", name), help, labels, nil)
	}
	return &Exporter{
		source:      source,
		up:          prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "workers"), "Number of tracked worker processes.", nil, nil),
		uptime:      desc("uptime_seconds", "Seconds since the worker started."),
		active:      desc("connections_active", "Sessions currently open."),
		connections: desc("connections_total", "Sessions accepted since start."),
		requests:    desc("requests_total", "Requests dispatched to an application."),
		bytesIn:     desc("received_bytes_total", "Bytes read from clients."),
		bytesOut:    desc("sent_bytes_total", "Bytes written to clients."),
		errors:      desc("errors_total", "Connection-level errors."),
	}
}

// Describe implements [prometheus.Collector].
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.up
	ch <- e.uptime
	ch <- e.active
	ch <- e.connections
	ch <- e.requests
	ch <- e.bytesIn
	ch <- e.bytesOut
	ch <- e.errors
}

// Collect implements [prometheus.Collector].
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	samples := e.source()
	ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, float64(len(samples)))

	for _, s := range samples {
		lv := []string{s.Worker, strconv.Itoa(s.Pid)}
		snap := s.Snapshot
		ch <- prometheus.MustNewConstMetric(e.uptime, prometheus.GaugeValue, snap.UptimeSeconds, lv...)
		ch <- prometheus.MustNewConstMetric(e.active, prometheus.GaugeValue, float64(snap.ConnectionsActive), lv...)
		ch <- prometheus.MustNewConstMetric(e.connections, prometheus.CounterValue, float64(snap.ConnectionsTotal), lv...)
		ch <- prometheus.MustNewConstMetric(e.requests, prometheus.CounterValue, float64(snap.RequestsTotal), lv...)
		ch <- prometheus.MustNewConstMetric(e.bytesIn, prometheus.CounterValue, float64(snap.BytesIn), lv...)
		ch <- prometheus.MustNewConstMetric(e.bytesOut, prometheus.CounterValue, float64(snap.BytesOut), lv...)
		ch <- prometheus.MustNewConstMetric(e.errors, prometheus.CounterValue, float64(snap.ErrorsTotal), lv...)
	}
}
