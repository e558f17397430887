package hwtopo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational events from a Topology.
// Implement it to feed a monitoring system; the prommetrics package provides
// a Prometheus implementation.
type MetricsCollector interface {
	// RecordLoad is called after each load. source names the discovery
	// backend ("synthetic", "xml", "linux", ...).
	RecordLoad(source string, objects int, duration time.Duration, err error)

	// RecordRestrict is called after each restrict or refresh.
	RecordRestrict(duration time.Duration, err error)

	// RecordBind is called after each binding request. op is "cpubind",
	// "membind", "area_membind" or "alloc".
	RecordBind(op string, duration time.Duration, err error)

	// RecordDistancesCommit is called when pending distance matrices are
	// committed. groups is the number of Group objects inserted.
	RecordDistancesCommit(matrices, groups int, err error)

	// RecordExport is called after each XML, synthetic or snapshot export.
	RecordExport(format string, bytes int, duration time.Duration, err error)
}

// NoopMetricsCollector discards every event.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordLoad(string, int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordRestrict(time.Duration, error)            {}
func (NoopMetricsCollector) RecordBind(string, time.Duration, error)        {}
func (NoopMetricsCollector) RecordDistancesCommit(int, int, error)          {}
func (NoopMetricsCollector) RecordExport(string, int, time.Duration, error) {}

// BasicMetricsCollector counts events in memory.
type BasicMetricsCollector struct {
	LoadCount      atomic.Int64
	LoadErrors     atomic.Int64
	LoadTotalNanos atomic.Int64
	LoadObjects    atomic.Int64
	RestrictCount  atomic.Int64
	RestrictErrors atomic.Int64
	BindCount      atomic.Int64
	BindErrors     atomic.Int64
	CommitCount    atomic.Int64
	CommitErrors   atomic.Int64
	GroupsInserted atomic.Int64
	ExportCount    atomic.Int64
	ExportErrors   atomic.Int64
	ExportBytes    atomic.Int64
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(_ string, objects int, duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
		return
	}
	b.LoadObjects.Add(int64(objects))
}

// RecordRestrict implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRestrict(_ time.Duration, err error) {
	b.RestrictCount.Add(1)
	if err != nil {
		b.RestrictErrors.Add(1)
	}
}

// RecordBind implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBind(_ string, _ time.Duration, err error) {
	b.BindCount.Add(1)
	if err != nil {
		b.BindErrors.Add(1)
	}
}

// RecordDistancesCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDistancesCommit(_ int, groups int, err error) {
	b.CommitCount.Add(1)
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.GroupsInserted.Add(int64(groups))
}

// RecordExport implements MetricsCollector.
func (b *BasicMetricsCollector) RecordExport(_ string, bytes int, _ time.Duration, err error) {
	b.ExportCount.Add(1)
	if err != nil {
		b.ExportErrors.Add(1)
		return
	}
	b.ExportBytes.Add(int64(bytes))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		LoadCount:      b.LoadCount.Load(),
		LoadErrors:     b.LoadErrors.Load(),
		LoadObjects:    b.LoadObjects.Load(),
		RestrictCount:  b.RestrictCount.Load(),
		RestrictErrors: b.RestrictErrors.Load(),
		BindCount:      b.BindCount.Load(),
		BindErrors:     b.BindErrors.Load(),
		CommitCount:    b.CommitCount.Load(),
		CommitErrors:   b.CommitErrors.Load(),
		GroupsInserted: b.GroupsInserted.Load(),
		ExportCount:    b.ExportCount.Load(),
		ExportErrors:   b.ExportErrors.Load(),
		ExportBytes:    b.ExportBytes.Load(),
	}
	if s.LoadCount > 0 {
		s.LoadAvgNanos = b.LoadTotalNanos.Load() / s.LoadCount
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	LoadCount      int64
	LoadErrors     int64
	LoadAvgNanos   int64
	LoadObjects    int64
	RestrictCount  int64
	RestrictErrors int64
	BindCount      int64
	BindErrors     int64
	CommitCount    int64
	CommitErrors   int64
	GroupsInserted int64
	ExportCount    int64
	ExportErrors   int64
	ExportBytes    int64
}
