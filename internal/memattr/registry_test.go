package memattr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

func TestBuiltins(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, model.NumBuiltinMemAttrs, r.Len())

	tests := []struct {
		id        model.MemAttrID
		name      string
		initiator bool
		higher    bool
	}{
		{model.MemAttrCapacity, "Capacity", false, true},
		{model.MemAttrLocality, "Locality", false, false},
		{model.MemAttrBandwidth, "Bandwidth", true, true},
		{model.MemAttrLatency, "Latency", true, false},
		{model.MemAttrReadBandwidth, "ReadBandwidth", true, true},
		{model.MemAttrWriteLatency, "WriteLatency", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := r.ByName(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.id, a.ID)
			assert.Equal(t, tt.initiator, a.NeedsInitiator())
			assert.Equal(t, tt.higher, a.Better(2, 1))

			b, err := r.ByID(tt.id)
			require.NoError(t, err)
			assert.Same(t, a, b)
		})
	}

	_, err := r.ByName("Nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.ByID(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegister(t *testing.T) {
	r := NewRegistry()

	a, err := r.Register("Custom", model.MemAttrHigherFirst)
	require.NoError(t, err)
	assert.Equal(t, model.MemAttrID(model.NumBuiltinMemAttrs), a.ID)

	_, err = r.Register("Custom", model.MemAttrLowerFirst)
	assert.ErrorIs(t, err, ErrExists)
	_, err = r.Register("Latency", model.MemAttrLowerFirst)
	assert.ErrorIs(t, err, ErrExists)
	_, err = r.Register("Both", model.MemAttrHigherFirst|model.MemAttrLowerFirst)
	assert.ErrorIs(t, err, ErrFlags)
	_, err = r.Register("Neither", model.MemAttrNeedInitiator)
	assert.ErrorIs(t, err, ErrFlags)
}

func TestComputed(t *testing.T) {
	r := NewRegistry()
	r.Refresh([]Node{
		{GP: 10, LocalMemory: 4 << 30, CPUSet: bitmap.MustFromSequence(0, 1)},
		{GP: 11, LocalMemory: 8 << 30, CPUSet: bitmap.MustFromSequence(2, 3, 4, 5)},
	})

	capacity, _ := r.ByID(model.MemAttrCapacity)
	v, err := capacity.Value(11, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(8<<30), v)

	best, err := capacity.BestTarget(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), best.Target)

	locality, _ := r.ByID(model.MemAttrLocality)
	best, err = locality.BestTarget(nil)
	require.NoError(t, err)
	assert.Equal(t, TargetValue{Target: 10, Value: 2}, best)

	assert.ErrorIs(t, capacity.SetValue(10, nil, 1), ErrReadOnly)
}

func TestInitiatorValues(t *testing.T) {
	r := NewRegistry()
	lat, _ := r.ByID(model.MemAttrLatency)

	pkg0 := ObjectInitiator(1, bitmap.MustFromSequence(0, 1, 2, 3))
	cpus := CPUSetInitiator(bitmap.MustFromSequence(4, 5))

	assert.ErrorIs(t, lat.SetValue(10, nil, 5), ErrNeedInitiator)
	_, err := lat.Value(10, nil)
	assert.ErrorIs(t, err, ErrNeedInitiator)

	require.NoError(t, lat.SetValue(10, &pkg0, 100))
	require.NoError(t, lat.SetValue(11, &pkg0, 200))
	require.NoError(t, lat.SetValue(10, &cpus, 300))
	require.NoError(t, lat.SetValue(11, &cpus, 150))

	v, err := lat.Value(10, &pkg0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), v)

	// An object matches a cpuset initiator with the same set.
	same := ObjectInitiator(7, bitmap.MustFromSequence(4, 5))
	v, err = lat.Value(11, &same)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), v)

	best, err := lat.BestTarget(&pkg0)
	require.NoError(t, err)
	assert.Equal(t, TargetValue{Target: 10, Value: 100}, best)
	best, err = lat.BestTarget(&cpus)
	require.NoError(t, err)
	assert.Equal(t, TargetValue{Target: 11, Value: 150}, best)

	bi, err := lat.BestInitiator(11)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), bi.Value)
	assert.False(t, bi.Initiator.Object)

	ivs, err := lat.Initiators(10)
	require.NoError(t, err)
	assert.Len(t, ivs, 2)

	assert.Equal(t, []TargetValue{{10, 100}, {11, 200}}, lat.Targets(&pkg0))
	assert.Equal(t, []TargetValue{{10, 100}, {11, 150}}, lat.Targets(nil), "best value per target")

	require.NoError(t, lat.SetValue(10, &pkg0, 90))
	v, _ = lat.Value(10, &pkg0)
	assert.Equal(t, uint64(90), v, "overwritten")
}

func TestBestTargetCovering(t *testing.T) {
	r := NewRegistry()
	bw, _ := r.ByID(model.MemAttrBandwidth)
	wide := CPUSetInitiator(bitmap.MustFromSequence(0, 1, 2, 3))
	narrow := CPUSetInitiator(bitmap.MustFromSequence(0, 1))
	require.NoError(t, bw.SetValue(10, &wide, 1000))
	require.NoError(t, bw.SetValue(10, &narrow, 2000))
	require.NoError(t, bw.SetValue(11, &wide, 1500))

	one := CPUSetInitiator(bitmap.MustFromSequence(1))
	best, err := bw.BestTarget(&one)
	require.NoError(t, err)
	assert.Equal(t, TargetValue{Target: 10, Value: 2000}, best)

	other := CPUSetInitiator(bitmap.MustFromSequence(9))
	_, err = bw.BestTarget(&other)
	assert.ErrorIs(t, err, ErrNoValue)
}

func TestRestrictAndClone(t *testing.T) {
	r := NewRegistry()
	lat, _ := r.ByID(model.MemAttrLatency)
	obj := ObjectInitiator(1, bitmap.MustFromSequence(0, 1))
	cpus := CPUSetInitiator(bitmap.MustFromSequence(2, 3))
	require.NoError(t, lat.SetValue(10, &obj, 1))
	require.NoError(t, lat.SetValue(10, &cpus, 2))
	require.NoError(t, lat.SetValue(11, &cpus, 3))

	c := r.Clone()

	r.Restrict(func(gp uint64) bool { return gp != 1 && gp != 11 }, bitmap.MustFromSequence(0, 1, 2))
	assert.Equal(t, []TargetValue{{10, 2}}, lat.Targets(nil))
	ivs, err := lat.Initiators(10)
	require.NoError(t, err)
	require.Len(t, ivs, 1)
	assert.Equal(t, "2", ivs[0].Initiator.CPUSet.ListString())

	clat, _ := c.ByID(model.MemAttrLatency)
	assert.Len(t, clat.Targets(nil), 2, "clone unaffected")
}
