package prommetrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hwtopo"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg, "")
	require.NoError(t, err)

	topo, err := hwtopo.FromSynthetic(context.Background(), "pack:2 core:2 pu:1", hwtopo.WithMetricsCollector(c))
	require.NoError(t, err)
	defer topo.Destroy()

	desc, err := topo.ExportSynthetic(0)
	require.NoError(t, err)
	data, err := topo.ExportXMLBuffer(0)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.loads.WithLabelValues("synthetic", "success")))
	assert.Greater(t, testutil.ToFloat64(c.loadObjects), 4.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.exports.WithLabelValues("xml", "success")))
	assert.Equal(t, float64(len(data)), testutil.ToFloat64(c.exportBytes.WithLabelValues("xml")))
	assert.Equal(t, float64(len(desc)), testutil.ToFloat64(c.exportBytes.WithLabelValues("synthetic")))

	count, err := testutil.GatherAndCount(reg, "hwtopo_operation_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "load, export_synthetic and export_xml series")
}

func TestCollectorEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := MustNew(reg, "node")
	boom := errors.New("boom")

	c.RecordBind("cpubind", time.Millisecond, nil)
	c.RecordBind("cpubind", time.Millisecond, boom)
	c.RecordDistancesCommit(1, 2, nil)
	c.RecordDistancesCommit(1, 5, boom)
	c.RecordRestrict(time.Millisecond, nil)
	c.RecordLoad("xml", 10, time.Millisecond, boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.binds.WithLabelValues("cpubind", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.binds.WithLabelValues("cpubind", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.groups))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commits.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loads.WithLabelValues("xml", "error")))
	assert.Zero(t, testutil.ToFloat64(c.loadObjects))

	count, err := testutil.GatherAndCount(reg, "node_groups_inserted_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, "dup")
	require.NoError(t, err)

	_, err = New(reg, "dup")
	assert.Error(t, err)
	assert.Panics(t, func() { MustNew(reg, "dup") })
}
