package hwtopo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/hupe1980/hwtopo/blobstore"
	"github.com/hupe1980/hwtopo/codec"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/internal/distmat"
	"github.com/hupe1980/hwtopo/internal/memattr"
	"github.com/hupe1980/hwtopo/internal/snapshot"
	"github.com/hupe1980/hwtopo/internal/synthetic"
	"github.com/hupe1980/hwtopo/internal/xmlfmt"
	"github.com/hupe1980/hwtopo/model"
)

// exportResult converts the loaded state back into a discovery result.
func (t *Topology) exportResult() *discovery.Result {
	r := t.tree.Export()
	r.IsThisSystem = t.thisSystem
	for _, m := range t.dists.Find(func(*distmat.Matrix) bool { return true }) {
		r.Distances = append(r.Distances, discovery.Distances{
			Name:    m.Name,
			Kind:    m.Kind,
			Objects: slices.Clone(m.Objects),
			Values:  slices.Clone(m.Values),
		})
	}
	for _, a := range t.attrs.All() {
		if a.Computed() {
			continue
		}
		if ma := exportMemAttr(a); len(ma.Values) > 0 || int(a.ID) >= model.NumBuiltinMemAttrs {
			r.MemAttrs = append(r.MemAttrs, ma)
		}
	}
	for _, k := range t.kinds {
		r.CPUKinds = append(r.CPUKinds, discovery.CPUKind{
			CPUSet:     k.CPUSet.Clone(),
			Efficiency: k.Efficiency,
			Infos:      slices.Clone(k.Infos),
		})
	}
	return r
}

func exportMemAttr(a *memattr.Attr) discovery.MemAttr {
	ma := discovery.MemAttr{Name: a.Name, Flags: a.Flags}
	for _, tv := range a.Targets(nil) {
		if !a.NeedsInitiator() {
			ma.Values = append(ma.Values, discovery.MemAttrValue{Target: tv.Target, Value: tv.Value})
			continue
		}
		ivs, _ := a.Initiators(tv.Target)
		for _, iv := range ivs {
			v := discovery.MemAttrValue{Target: tv.Target, Initiator: iv.Initiator.CPUSet, Value: iv.Value}
			if iv.Initiator.Object {
				v.InitiatorGP = iv.Initiator.GP
			}
			ma.Values = append(ma.Values, v)
		}
	}
	return ma
}

// ExportXML writes the topology as XML to w.
func (t *Topology) ExportXML(w io.Writer, flags model.ExportXMLFlags) error {
	if err := t.loaded(); err != nil {
		return err
	}
	return translateError(xmlfmt.Encode(w, t.exportResult(), flags))
}

// ExportXMLBuffer returns the topology as an XML document.
func (t *Topology) ExportXMLBuffer(flags model.ExportXMLFlags) (data []byte, err error) {
	start := time.Now()
	defer func() {
		t.opts.metricsCollector.RecordExport("xml", len(data), time.Since(start), err)
		t.log.LogExport(context.Background(), "xml", "", len(data), err)
	}()
	var buf bytes.Buffer
	if err := t.ExportXML(&buf, flags); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportXMLFile writes the topology as XML to path. The file is replaced
// atomically.
func (t *Topology) ExportXMLFile(path string, flags model.ExportXMLFlags) (err error) {
	data, err := t.ExportXMLBuffer(flags)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return translateError(fileErr("xml", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return translateError(fileErr("xml", err))
	}
	return nil
}

// ExportSynthetic returns the synthetic description of the topology. It
// fails with ErrInvalidArgument when the topology is not symmetric enough to
// be described and with ErrNotSupported for objects the language cannot
// express.
func (t *Topology) ExportSynthetic(flags model.ExportSyntheticFlags) (desc string, err error) {
	if err := t.loaded(); err != nil {
		return "", err
	}
	start := time.Now()
	defer func() {
		t.opts.metricsCollector.RecordExport("synthetic", len(desc), time.Since(start), err)
	}()
	desc, err = synthetic.Export(t.tree, flags)
	if err != nil {
		return "", translateError(err)
	}
	return desc, nil
}

// ExportSyntheticTo writes the synthetic description into dst and returns
// the number of bytes written. When dst is too small it is filled as far as
// possible and io.ErrShortBuffer is returned together with the full length
// in n, so the caller can retry with a larger buffer.
func (t *Topology) ExportSyntheticTo(dst []byte, flags model.ExportSyntheticFlags) (n int, err error) {
	desc, err := t.ExportSynthetic(flags)
	if err != nil {
		return 0, err
	}
	copy(dst, desc)
	if len(dst) < len(desc) {
		return len(desc), io.ErrShortBuffer
	}
	return len(desc), nil
}

type snapshotOptions struct {
	opts snapshot.Options
	set  bool
}

// SnapshotOption configures SaveSnapshot.
type SnapshotOption func(*snapshotOptions)

// WithSnapshotFormat selects "xml" or "json".
func WithSnapshotFormat(format string) SnapshotOption {
	return func(o *snapshotOptions) {
		o.set = true
		switch format {
		case "json":
			o.opts.Format = snapshot.FormatJSON
		default:
			o.opts.Format = snapshot.FormatXML
		}
	}
}

// WithSnapshotCompression selects "none", "lz4" or "zstd".
func WithSnapshotCompression(compression string) SnapshotOption {
	return func(o *snapshotOptions) {
		o.set = true
		switch compression {
		case "lz4":
			o.opts.Compression = snapshot.CompressionLZ4
		case "zstd":
			o.opts.Compression = snapshot.CompressionZstd
		default:
			o.opts.Compression = snapshot.CompressionNone
		}
	}
}

// WithSnapshotCodec selects the JSON codec of JSON snapshots.
func WithSnapshotCodec(c codec.Codec) SnapshotOption {
	return func(o *snapshotOptions) {
		o.opts.Codec = c
	}
}

// SaveSnapshot stores the topology in store under name. Without format or
// compression options both derive from the name: ".json" selects JSON, and
// a ".zst" or ".lz4" suffix selects compression.
func (t *Topology) SaveSnapshot(ctx context.Context, store blobstore.Store, name string, opts ...SnapshotOption) (err error) {
	if err := t.loaded(); err != nil {
		return err
	}
	so := snapshotOptions{}
	for _, fn := range opts {
		fn(&so)
	}
	if !so.set {
		c := so.opts.Codec
		so.opts = snapshot.OptionsFor(name)
		so.opts.Codec = c
	}

	start := time.Now()
	size := 0
	format := "snapshot/" + so.opts.Format.String()
	defer func() {
		err = translateError(err)
		t.opts.metricsCollector.RecordExport(format, size, time.Since(start), err)
		t.log.LogExport(ctx, format, name, size, err)
	}()

	if err := blobstore.ValidateName(name); err != nil {
		return err
	}
	data, err := snapshot.Encode(t.exportResult(), so.opts)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, name, data); err != nil {
		return err
	}
	size = len(data)
	return nil
}

// WithSnapshot loads the topology from a snapshot held in a blob store.
func WithSnapshot(store blobstore.Store, name string) Option {
	return func(o *options) {
		o.source = "snapshot"
		o.backend = discovery.BackendFunc{
			BackendName: "snapshot",
			Fn: func(ctx context.Context, _ discovery.Config) (*discovery.Result, error) {
				data, err := blobstore.ReadAll(ctx, store, name)
				if err != nil {
					return nil, fmt.Errorf("snapshot %s: %w", name, err)
				}
				res, _, err := snapshot.Decode(data)
				return res, err
			},
		}
	}
}

// FromSnapshot loads a topology saved with SaveSnapshot.
func FromSnapshot(ctx context.Context, store blobstore.Store, name string, opts ...Option) (*Topology, error) {
	return load(ctx, append(opts, WithSnapshot(store, name)))
}
