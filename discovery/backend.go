package discovery

import (
	"context"

	"github.com/hupe1980/hwtopo/model"
)

// Config is what a Backend needs to know about the topology being loaded.
type Config struct {
	Flags   model.TopologyFlags
	Filters [model.NumTypes]model.TypeFilter
	// PID selects the process whose view is discovered; 0 means the caller.
	PID int
}

// Filter returns the filter configured for t.
func (c Config) Filter(t model.ObjType) model.TypeFilter {
	if !t.Valid() {
		return model.KeepAll
	}
	return c.Filters[t]
}

// DefaultConfig returns a Config with the default type filters.
func DefaultConfig() Config {
	var c Config
	for i := range model.NumTypes {
		c.Filters[i] = model.DefaultTypeFilter(model.ObjType(i))
	}
	return c
}

// Backend produces the raw topology for one load.
type Backend interface {
	// Name identifies the backend in errors and logs.
	Name() string
	Discover(ctx context.Context, cfg Config) (*Result, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc struct {
	BackendName string
	Fn          func(ctx context.Context, cfg Config) (*Result, error)
}

func (f BackendFunc) Name() string { return f.BackendName }

func (f BackendFunc) Discover(ctx context.Context, cfg Config) (*Result, error) {
	return f.Fn(ctx, cfg)
}

// Static returns a backend that always hands out a clone of r.
func Static(name string, r *Result) Backend {
	return BackendFunc{
		BackendName: name,
		Fn: func(ctx context.Context, _ Config) (*Result, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return r.Clone(), nil
		},
	}
}
