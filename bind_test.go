package hwtopo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hwtopo"
	"github.com/hupe1980/hwtopo/binding"
	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

// emulated loads "node:2 core:2 pu:2" with an in-memory binding backend.
func emulated(t *testing.T, opts ...hwtopo.Option) (*hwtopo.Topology, *hwtopo.BasicMetricsCollector) {
	t.Helper()
	metrics := &hwtopo.BasicMetricsCollector{}
	be := binding.NewEmulated(bitmap.MustFromSequence(0, 1, 2, 3, 4, 5, 6, 7), bitmap.MustFromSequence(0, 1))
	opts = append([]hwtopo.Option{hwtopo.WithBinder(be), hwtopo.WithMetricsCollector(metrics)}, opts...)
	return synthetic(t, "node:2 core:2 pu:2", opts...), metrics
}

func TestCPUBindingRoundTrip(t *testing.T) {
	ctx := context.Background()
	topo, metrics := emulated(t)

	prev, err := topo.CPUBinding(ctx, hwtopo.Self(), model.CPUBindThread)
	require.NoError(t, err)
	assert.True(t, prev.Equal(topo.CPUSet()))

	require.NoError(t, topo.SetCPUBinding(ctx, hwtopo.CPUs(0), hwtopo.Self(), model.CPUBindThread))
	got, err := topo.CPUBinding(ctx, hwtopo.Self(), model.CPUBindThread)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Weight())
	assert.True(t, got.Contains(0))

	last, err := topo.LastCPULocation(ctx, hwtopo.Self(), model.CPUBindThread)
	require.NoError(t, err)
	assert.True(t, last.IsSubsetOf(got))

	require.NoError(t, topo.SetCPUBinding(ctx, hwtopo.Set(prev), hwtopo.Self(), model.CPUBindThread))
	got, err = topo.CPUBinding(ctx, hwtopo.Self(), model.CPUBindThread)
	require.NoError(t, err)
	assert.True(t, got.Equal(prev))

	stats := metrics.GetStats()
	assert.Equal(t, int64(6), stats.BindCount)
	assert.Zero(t, stats.BindErrors)
}

func TestCPUBindingTargets(t *testing.T) {
	ctx := context.Background()
	topo, _ := emulated(t)

	core, ok := topo.NthOfType(model.TypeCore, 3)
	require.True(t, ok)
	require.NoError(t, topo.SetCPUBinding(ctx, core, hwtopo.Process(42), 0))
	got, err := topo.CPUBinding(ctx, hwtopo.Process(42), 0)
	require.NoError(t, err)
	assert.True(t, got.Equal(core.CPUSet()))

	// Infinite sets are clipped to the machine.
	full := bitmap.New()
	full.Fill()
	require.NoError(t, topo.SetCPUBinding(ctx, hwtopo.Set(full), hwtopo.Process(42), 0))
	got, err = topo.CPUBinding(ctx, hwtopo.Process(42), 0)
	require.NoError(t, err)
	assert.True(t, got.Equal(topo.CompleteCPUSet()))

	tests := []struct {
		name   string
		target hwtopo.BindTarget
		want   error
	}{
		{"empty set", hwtopo.Set(bitmap.New()), hwtopo.ErrInvalidArgument},
		{"nil set", hwtopo.Set(nil), hwtopo.ErrInvalidArgument},
		{"negative index", hwtopo.CPUs(-1), hwtopo.ErrInvalidArgument},
		{"outside machine", hwtopo.CPUs(64), hwtopo.ErrInvalidArgument},
		{"nil target", nil, hwtopo.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := topo.SetCPUBinding(ctx, tt.target, hwtopo.Self(), 0)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMemBinding(t *testing.T) {
	ctx := context.Background()
	topo, _ := emulated(t)

	nodes, policy, err := topo.MemBinding(ctx, hwtopo.Self(), model.MemBindByNodeSet)
	require.NoError(t, err)
	assert.Equal(t, model.MemBindDefault, policy)
	assert.True(t, nodes.Equal(topo.NodeSet()))

	numa, ok := topo.NUMANodeByOSIndex(1)
	require.True(t, ok)
	require.NoError(t, topo.SetMemBinding(ctx, numa, hwtopo.Self(), model.MemBindBind, 0))

	nodes, policy, err = topo.MemBinding(ctx, hwtopo.Self(), model.MemBindByNodeSet)
	require.NoError(t, err)
	assert.Equal(t, model.MemBindBind, policy)
	assert.True(t, nodes.Equal(bitmap.MustFromSequence(1)))

	cpus, _, err := topo.MemBinding(ctx, hwtopo.Self(), 0)
	require.NoError(t, err)
	assert.True(t, cpus.Equal(bitmap.MustFromSequence(4, 5, 6, 7)))

	// A cpuset target is converted to its local nodes.
	require.NoError(t, topo.SetMemBinding(ctx, hwtopo.CPUs(0, 1), hwtopo.Self(), model.MemBindInterleave, 0))
	nodes, policy, err = topo.MemBinding(ctx, hwtopo.Self(), model.MemBindByNodeSet)
	require.NoError(t, err)
	assert.Equal(t, model.MemBindInterleave, policy)
	assert.True(t, nodes.Equal(bitmap.MustFromSequence(0)))

	err = topo.SetMemBinding(ctx, hwtopo.Set(bitmap.MustFromSequence(5)), hwtopo.Self(), model.MemBindBind, model.MemBindByNodeSet)
	assert.ErrorIs(t, err, hwtopo.ErrInvalidArgument)
}

func TestAreaBinding(t *testing.T) {
	ctx := context.Background()
	topo, _ := emulated(t)

	area, err := topo.AllocBound(ctx, 4096, hwtopo.Set(bitmap.MustFromSequence(1)), model.MemBindBind, model.MemBindByNodeSet)
	require.NoError(t, err)
	require.Len(t, area, 4096)

	nodes, policy, err := topo.AreaMemBinding(ctx, area, model.MemBindByNodeSet)
	require.NoError(t, err)
	assert.Equal(t, model.MemBindBind, policy)
	assert.True(t, nodes.Equal(bitmap.MustFromSequence(1)))

	loc, err := topo.AreaMemLocation(ctx, area, model.MemBindByNodeSet)
	require.NoError(t, err)
	assert.True(t, loc.Equal(bitmap.MustFromSequence(1)))

	require.NoError(t, topo.SetAreaMemBinding(ctx, area, hwtopo.Set(bitmap.MustFromSequence(0, 1)), model.MemBindInterleave, model.MemBindByNodeSet))
	loc, err = topo.AreaMemLocation(ctx, area, model.MemBindByNodeSet)
	require.NoError(t, err)
	assert.True(t, loc.Equal(bitmap.MustFromSequence(0, 1)))

	require.NoError(t, topo.FreeBound(area))

	_, err = topo.AllocBound(ctx, 0, hwtopo.CPUs(0), model.MemBindBind, 0)
	assert.ErrorIs(t, err, hwtopo.ErrInvalidArgument)
	_, _, err = topo.AreaMemBinding(ctx, nil, 0)
	assert.ErrorIs(t, err, hwtopo.ErrInvalidArgument)
}

func TestBindingNotSupported(t *testing.T) {
	ctx := context.Background()

	t.Run("no backend", func(t *testing.T) {
		topo := synthetic(t, "node:2 core:2 pu:2")
		assert.False(t, topo.Support().CPU.SetThisThread)
		assert.ErrorIs(t, topo.SetCPUBinding(ctx, hwtopo.CPUs(0), hwtopo.Self(), 0), hwtopo.ErrNotSupported)
		_, err := topo.CPUBinding(ctx, hwtopo.Self(), 0)
		assert.ErrorIs(t, err, hwtopo.ErrNotSupported)
		_, err = topo.AllocBound(ctx, 64, hwtopo.CPUs(0), model.MemBindBind, 0)
		assert.ErrorIs(t, err, hwtopo.ErrNotSupported)
	})

	t.Run("dont change binding", func(t *testing.T) {
		topo, _ := emulated(t, hwtopo.WithFlags(model.FlagDontChangeBinding))
		assert.ErrorIs(t, topo.SetCPUBinding(ctx, hwtopo.CPUs(0), hwtopo.Self(), 0), hwtopo.ErrNotSupported)
		assert.ErrorIs(t, topo.SetMemBinding(ctx, hwtopo.CPUs(0), hwtopo.Self(), model.MemBindBind, 0), hwtopo.ErrNotSupported)

		// Reading is still allowed.
		_, err := topo.CPUBinding(ctx, hwtopo.Self(), 0)
		assert.NoError(t, err)
	})

	t.Run("restricted support", func(t *testing.T) {
		sup := binding.FullSupport
		sup.Mem.Interleave = false
		be := binding.NewEmulated(bitmap.MustFromSequence(0, 1, 2, 3, 4, 5, 6, 7), bitmap.MustFromSequence(0, 1), binding.WithSupport(sup))
		topo := synthetic(t, "node:2 core:2 pu:2", hwtopo.WithBinder(be))

		err := topo.SetMemBinding(ctx, hwtopo.CPUs(0), hwtopo.Self(), model.MemBindInterleave, 0)
		assert.ErrorIs(t, err, hwtopo.ErrNotSupported)
		assert.NoError(t, topo.SetMemBinding(ctx, hwtopo.CPUs(0), hwtopo.Self(), model.MemBindBind, 0))
	})
}
