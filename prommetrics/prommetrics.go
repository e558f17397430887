// Package prommetrics exports topology events as Prometheus metrics.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/hwtopo"
)

var _ hwtopo.MetricsCollector = (*Collector)(nil)

// Collector implements hwtopo.MetricsCollector on top of a Prometheus
// registry.
type Collector struct {
	opLatency   *prometheus.HistogramVec
	loads       *prometheus.CounterVec
	loadObjects prometheus.Gauge
	binds       *prometheus.CounterVec
	commits     *prometheus.CounterVec
	groups      prometheus.Counter
	exports     *prometheus.CounterVec
	exportBytes *prometheus.CounterVec
}

// New creates a Collector and registers its metrics with reg. An empty
// namespace defaults to "hwtopo".
func New(reg prometheus.Registerer, namespace string) (*Collector, error) {
	if namespace == "" {
		namespace = "hwtopo"
	}
	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of topology operations",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"op", "status"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Topology loads by discovery source",
		}, []string{"source", "status"}),
		loadObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "objects",
			Help:      "Number of objects in the last loaded topology",
		}),
		binds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "binding_requests_total",
			Help:      "CPU and memory binding requests",
		}, []string{"op", "status"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distances_commits_total",
			Help:      "Distance matrix commits",
		}, []string{"status"}),
		groups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_inserted_total",
			Help:      "Group objects inserted from distance matrices",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Topology exports by format",
		}, []string{"format", "status"}),
		exportBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_bytes_total",
			Help:      "Bytes written by exports",
		}, []string{"format"}),
	}

	for _, m := range []prometheus.Collector{
		c.opLatency, c.loads, c.loadObjects, c.binds,
		c.commits, c.groups, c.exports, c.exportBytes,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on registration errors.
func MustNew(reg prometheus.Registerer, namespace string) *Collector {
	c, err := New(reg, namespace)
	if err != nil {
		panic(err)
	}
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordLoad implements hwtopo.MetricsCollector.
func (c *Collector) RecordLoad(source string, objects int, d time.Duration, err error) {
	s := status(err)
	c.opLatency.WithLabelValues("load", s).Observe(d.Seconds())
	c.loads.WithLabelValues(source, s).Inc()
	if err == nil {
		c.loadObjects.Set(float64(objects))
	}
}

// RecordRestrict implements hwtopo.MetricsCollector.
func (c *Collector) RecordRestrict(d time.Duration, err error) {
	c.opLatency.WithLabelValues("restrict", status(err)).Observe(d.Seconds())
}

// RecordBind implements hwtopo.MetricsCollector.
func (c *Collector) RecordBind(op string, d time.Duration, err error) {
	s := status(err)
	c.opLatency.WithLabelValues(op, s).Observe(d.Seconds())
	c.binds.WithLabelValues(op, s).Inc()
}

// RecordDistancesCommit implements hwtopo.MetricsCollector.
func (c *Collector) RecordDistancesCommit(_ int, groups int, err error) {
	c.commits.WithLabelValues(status(err)).Inc()
	if err == nil {
		c.groups.Add(float64(groups))
	}
}

// RecordExport implements hwtopo.MetricsCollector.
func (c *Collector) RecordExport(format string, bytes int, d time.Duration, err error) {
	s := status(err)
	c.opLatency.WithLabelValues("export_"+format, s).Observe(d.Seconds())
	c.exports.WithLabelValues(format, s).Inc()
	if err == nil {
		c.exportBytes.WithLabelValues(format).Add(float64(bytes))
	}
}
