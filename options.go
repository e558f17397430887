package hwtopo

import (
	"context"
	"fmt"
	"os"

	"github.com/hupe1980/hwtopo/binding"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/internal/distmat"
	"github.com/hupe1980/hwtopo/internal/snapshot"
	"github.com/hupe1980/hwtopo/internal/synthetic"
	"github.com/hupe1980/hwtopo/model"
)

// GroupingPolicy partitions the objects of a distance matrix into groups
// when a matrix is committed with DistancesAddGroup.
type GroupingPolicy = distmat.GroupingPolicy

// MinDistanceGrouping is the default GroupingPolicy. It groups objects
// whose mutual distance is the smallest off-diagonal value, transitively.
var MinDistanceGrouping GroupingPolicy = distmat.MinDistance{}

type options struct {
	backend          discovery.Backend
	source           string
	pid              int
	flags            model.TopologyFlags
	filters          [model.NumTypes]model.TypeFilter
	binder           binding.Backend
	grouping         GroupingPolicy
	metricsCollector MetricsCollector
	logger           *Logger
	err              error
}

// Option configures a Topology before it is loaded.
type Option func(*options)

// WithSynthetic discovers the topology from a synthetic description such as
// "node:2 core:2 pu:2".
func WithSynthetic(desc string) Option {
	return func(o *options) {
		o.source = "synthetic"
		o.backend = discovery.BackendFunc{
			BackendName: "synthetic",
			Fn: func(ctx context.Context, _ discovery.Config) (*discovery.Result, error) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return synthetic.Parse(desc)
			},
		}
	}
}

// WithXMLFile imports the topology from an exported XML file or snapshot
// envelope.
func WithXMLFile(path string) Option {
	return func(o *options) {
		o.source = "xml"
		o.backend = discovery.BackendFunc{
			BackendName: "xml",
			Fn: func(ctx context.Context, _ discovery.Config) (*discovery.Result, error) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return nil, fileErr("xml", err)
				}
				res, _, err := snapshot.Decode(data)
				return res, err
			},
		}
	}
}

// WithXMLBuffer imports the topology from an exported XML document or
// snapshot envelope held in memory.
func WithXMLBuffer(data []byte) Option {
	buf := append([]byte(nil), data...)
	return func(o *options) {
		o.source = "xml"
		o.backend = discovery.BackendFunc{
			BackendName: "xml",
			Fn: func(ctx context.Context, _ discovery.Config) (*discovery.Result, error) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				res, _, err := snapshot.Decode(buf)
				return res, err
			},
		}
	}
}

// WithBackend discovers the topology with a custom backend.
func WithBackend(b discovery.Backend) Option {
	return func(o *options) {
		o.backend = b
		if b != nil {
			o.source = b.Name()
		}
	}
}

// WithPID discovers the view of another process: its allowed resources and
// the target of process-scoped queries.
func WithPID(pid int) Option {
	return func(o *options) {
		if pid < 0 {
			o.err = fmt.Errorf("%w: negative pid %d", ErrInvalidArgument, pid)
			return
		}
		o.pid = pid
	}
}

// WithFlags sets the topology flags.
func WithFlags(flags model.TopologyFlags) Option {
	return func(o *options) {
		if !flags.Valid() {
			o.err = fmt.Errorf("%w: unknown topology flags %#x", ErrInvalidArgument, uint64(flags))
			return
		}
		o.flags = flags
	}
}

// WithTypeFilter sets the filter of one object type. Machine, PU and
// NUMANode objects cannot be filtered out.
func WithTypeFilter(t model.ObjType, f model.TypeFilter) Option {
	return func(o *options) {
		if err := checkFilter(t, f); err != nil {
			o.err = err
			return
		}
		o.filters[t] = f
	}
}

// WithAllTypesFilter sets the filter of every type that accepts it.
func WithAllTypesFilter(f model.TypeFilter) Option {
	return typesFilter(f, func(model.ObjType) bool { return true })
}

// WithIOTypesFilter sets the filter of Bridge, PCIDevice and OSDevice.
func WithIOTypesFilter(f model.TypeFilter) Option {
	return typesFilter(f, model.ObjType.IsIO)
}

// WithCacheTypesFilter sets the filter of data and unified caches.
func WithCacheTypesFilter(f model.TypeFilter) Option {
	return typesFilter(f, model.ObjType.IsDCache)
}

// WithICacheTypesFilter sets the filter of instruction caches.
func WithICacheTypesFilter(f model.TypeFilter) Option {
	return typesFilter(f, model.ObjType.IsICache)
}

func typesFilter(f model.TypeFilter, match func(model.ObjType) bool) Option {
	return func(o *options) {
		for i := range model.NumTypes {
			t := model.ObjType(i)
			if !match(t) || model.FilterIsFixed(t) {
				continue
			}
			if f == model.KeepImportant && !t.IsIO() {
				continue
			}
			o.filters[t] = f
		}
	}
}

func checkFilter(t model.ObjType, f model.TypeFilter) error {
	switch {
	case !t.Valid():
		return fmt.Errorf("%w: object type %d", ErrInvalidArgument, int(t))
	case f < model.KeepAll || f > model.KeepImportant:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, f)
	case model.FilterIsFixed(t) && f != model.KeepAll:
		return fmt.Errorf("%w: %s objects cannot be filtered", ErrInvalidArgument, t)
	case f == model.KeepImportant && !t.IsIO():
		return fmt.Errorf("%w: %s only applies to I/O objects", ErrInvalidArgument, f)
	}
	return nil
}

// WithBinder sets the binding backend. By default the native backend is
// used for the running system and no binding is supported otherwise.
func WithBinder(b binding.Backend) Option {
	return func(o *options) {
		o.binder = b
	}
}

// WithGroupingPolicy replaces the policy used to group objects when a
// distance matrix is committed with DistancesAddGroup.
func WithGroupingPolicy(p GroupingPolicy) Option {
	return func(o *options) {
		if p == nil {
			p = MinDistanceGrouping
		}
		o.grouping = p
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &hwtopo.BasicMetricsCollector{}
//	topo, _ := hwtopo.FromSynthetic(ctx, "node:2 core:2 pu:2", hwtopo.WithMetricsCollector(metrics))
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

func defaultOptions() options {
	o := options{
		source:           "linux",
		grouping:         MinDistanceGrouping,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	o.filters = discovery.DefaultConfig().Filters
	return o
}

func applyOptions(o *options, optFns []Option) error {
	for _, fn := range optFns {
		if fn != nil {
			fn(o)
		}
	}
	err := o.err
	o.err = nil
	return err
}

func fileErr(source string, err error) error {
	switch {
	case os.IsNotExist(err):
		return discovery.Wrap(discovery.KindNotFound, source, err)
	case os.IsPermission(err):
		return discovery.Wrap(discovery.KindPermission, source, err)
	default:
		return discovery.Wrap(discovery.KindIO, source, err)
	}
}
