package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hwtopo/codec"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/internal/synthetic"
	"github.com/hupe1980/hwtopo/internal/tree"
	"github.com/hupe1980/hwtopo/model"
)

func exported(t testing.TB, desc string) *discovery.Result {
	t.Helper()
	r, err := synthetic.Parse(desc)
	require.NoError(t, err)
	tr, err := tree.Build(r, discovery.DefaultConfig().Filters)
	require.NoError(t, err)
	out := tr.Export()
	numa := tr.ObjectsByType(model.TypeNUMANode)
	out.Distances = []discovery.Distances{{
		Name:    "NUMALatency",
		Kind:    model.DistancesFromUser | model.DistancesMeansLatency,
		Objects: []uint64{tr.Node(numa[0]).GPIndex, tr.Node(numa[1]).GPIndex},
		Values:  []uint64{10, 20, 20, 10},
	}}
	return out
}

func TestRoundTrip(t *testing.T) {
	orig := exported(t, "pack:2 [numa] core:8 pu:2")
	want, err := Encode(orig, Options{Format: FormatXML, Raw: true})
	require.NoError(t, err)

	for _, format := range []Format{FormatXML, FormatJSON} {
		for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
			t.Run(format.String()+"/"+c.String(), func(t *testing.T) {
				data, err := Encode(orig, Options{Format: format, Compression: c})
				require.NoError(t, err)
				assert.Equal(t, "HWTS", string(data[:4]))

				res, info, err := Decode(data)
				require.NoError(t, err)
				assert.Equal(t, format, info.Format)
				assert.Equal(t, c, info.Compression)
				assert.False(t, info.Raw)
				if format == FormatJSON {
					assert.Equal(t, codec.Default.Name(), info.Codec)
				}

				// Compare through the XML rendering.
				got, err := Encode(res, Options{Format: FormatXML, Raw: true})
				require.NoError(t, err)
				assert.Equal(t, string(want), string(got))
			})
		}
	}
}

func TestCompressionShrinks(t *testing.T) {
	orig := exported(t, "pack:4 [numa] core:16 pu:2")
	plain, err := Encode(orig, Options{})
	require.NoError(t, err)
	packed, err := Encode(orig, Options{Compression: CompressionZstd})
	require.NoError(t, err)
	assert.Less(t, len(packed), len(plain))
}

func TestDecodeRawXML(t *testing.T) {
	orig := exported(t, "pack:2 [numa] pu:2")
	data, err := Encode(orig, OptionsFor("topo.xml"))
	require.NoError(t, err)
	assert.Equal(t, byte('<'), data[0])

	res, info, err := Decode(append([]byte("\n  "), data...))
	require.NoError(t, err)
	assert.True(t, info.Raw)
	assert.Equal(t, FormatXML, info.Format)
	require.NoError(t, res.Validate("test"))
}

func TestDecodeErrors(t *testing.T) {
	good, err := Encode(exported(t, "pack:2 [numa] pu:1"), Options{Compression: CompressionLZ4})
	require.NoError(t, err)

	flipped := append([]byte(nil), good...)
	flipped[len(flipped)-1] ^= 0xff

	badVersion := append([]byte(nil), good...)
	badVersion[4] = 9

	tests := []struct {
		name string
		data []byte
		kind discovery.Kind
	}{
		{"garbage", []byte("nope"), discovery.KindSyntax},
		{"short", good[:6], discovery.KindSyntax},
		{"truncated", good[:len(good)-3], discovery.KindSyntax},
		{"corrupt", flipped, discovery.KindSyntax},
		{"version", badVersion, discovery.KindSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.kind, discovery.KindOf(err))
		})
	}

	_, err = Encode(exported(t, "pack:2 [numa] pu:1"), Options{Compression: 7})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestOptionsFor(t *testing.T) {
	tests := []struct {
		name string
		want Options
	}{
		{"a.xml", Options{Format: FormatXML, Raw: true}},
		{"a.xml.zst", Options{Format: FormatXML, Compression: CompressionZstd}},
		{"a.json", Options{Format: FormatJSON}},
		{"dir/a.json.lz4", Options{Format: FormatJSON, Compression: CompressionLZ4}},
		{"a.hwts", Options{Format: FormatXML}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OptionsFor(tt.name))
		})
	}
}

func BenchmarkDecodeZstd(b *testing.B) {
	data, err := Encode(exported(b, "pack:2 [numa] l3:1 core:32 pu:2"), Options{Compression: CompressionZstd})
	require.NoError(b, err)
	for b.Loop() {
		_, _, _ = Decode(data)
	}
}
