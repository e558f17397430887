package hwtopo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/hwtopo/model"
)

// Environment variables that override the discovery source.
const (
	EnvSynthetic  = "HWTOPO_SYNTHETIC"
	EnvXMLFile    = "HWTOPO_XMLFILE"
	EnvThisSystem = "HWTOPO_THISSYSTEM"
)

// Config is the file form of the topology options.
//
//	source: synthetic
//	synthetic: "pack:2 core:4 pu:2"
//	flags: [include_disallowed, no_distances]
//	filters:
//	  io: important
//	  l1icache: all
//	log_level: debug
type Config struct {
	// Source is "linux" (the default), "synthetic" or "xml".
	Source    string            `yaml:"source"`
	Synthetic string            `yaml:"synthetic"`
	XMLFile   string            `yaml:"xml_file"`
	PID       int               `yaml:"pid"`
	Flags     []string          `yaml:"flags"`
	Filters   map[string]string `yaml:"filters"`
	// LogLevel enables a text logger on stderr at that level. Empty keeps
	// logging off.
	LogLevel string `yaml:"log_level"`
}

var flagNames = map[string]model.TopologyFlags{
	"include_disallowed":            model.FlagIncludeDisallowed,
	"is_this_system":                model.FlagIsThisSystem,
	"this_system_allowed_resources": model.FlagThisSystemAllowedResources,
	"import_support":                model.FlagImportSupport,
	"restrict_to_cpubinding":        model.FlagRestrictToCPUBinding,
	"restrict_to_membinding":        model.FlagRestrictToMemBinding,
	"dont_change_binding":           model.FlagDontChangeBinding,
	"no_distances":                  model.FlagNoDistances,
	"no_memattrs":                   model.FlagNoMemAttrs,
	"no_cpukinds":                   model.FlagNoCPUKinds,
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, translateError(fileErr("config", err))
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration document.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: config: %w", ErrInvalidArgument, err)
	}
	if cfg.Source == "" {
		cfg.Source = "linux"
	}
	if _, err := cfg.Options(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Options converts the configuration into Options. Environment overrides
// apply on top.
func (c *Config) Options() ([]Option, error) {
	var opts []Option
	switch c.Source {
	case "", "linux":
	case "synthetic":
		if c.Synthetic == "" {
			return nil, fmt.Errorf("%w: config: synthetic source without a description", ErrInvalidArgument)
		}
		opts = append(opts, WithSynthetic(c.Synthetic))
	case "xml":
		if c.XMLFile == "" {
			return nil, fmt.Errorf("%w: config: xml source without xml_file", ErrInvalidArgument)
		}
		opts = append(opts, WithXMLFile(c.XMLFile))
	default:
		return nil, fmt.Errorf("%w: config: unknown source %q", ErrInvalidArgument, c.Source)
	}
	if c.PID != 0 {
		opts = append(opts, WithPID(c.PID))
	}

	var flags model.TopologyFlags
	for _, name := range c.Flags {
		f, ok := flagNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("%w: config: unknown flag %q", ErrInvalidArgument, name)
		}
		flags |= f
	}
	if flags != 0 {
		opts = append(opts, WithFlags(flags))
	}

	// Group filters first so per-type entries win.
	keys := make([]string, 0, len(c.Filters))
	for k := range c.Filters {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return groupRank(a) - groupRank(b)
	})
	for _, k := range keys {
		f, err := model.ParseTypeFilter(strings.ToLower(c.Filters[k]))
		if err != nil {
			return nil, fmt.Errorf("%w: config: filter %s: %w", ErrInvalidArgument, k, err)
		}
		switch strings.ToLower(k) {
		case "all":
			opts = append(opts, WithAllTypesFilter(f))
		case "io":
			opts = append(opts, WithIOTypesFilter(f))
		case "cache":
			opts = append(opts, WithCacheTypesFilter(f))
		case "icache":
			opts = append(opts, WithICacheTypesFilter(f))
		default:
			typ, err := model.ParseObjType(k)
			if err != nil {
				return nil, fmt.Errorf("%w: config: %w", ErrInvalidArgument, err)
			}
			if err := checkFilter(typ, f); err != nil {
				return nil, err
			}
			opts = append(opts, WithTypeFilter(typ, f))
		}
	}

	if c.LogLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return nil, fmt.Errorf("%w: config: log_level %q", ErrInvalidArgument, c.LogLevel)
		}
		opts = append(opts, WithLogger(NewTextLogger(os.Stderr, level)))
	}
	return append(opts, envOptions()...), nil
}

func groupRank(key string) int {
	switch strings.ToLower(key) {
	case "all":
		return 0
	case "io", "cache", "icache":
		return 1
	default:
		return 2
	}
}

// envOptions returns the overrides requested by the environment. An XML
// file wins over a synthetic description.
func envOptions() []Option {
	var opts []Option
	if desc := os.Getenv(EnvSynthetic); desc != "" {
		opts = append(opts, WithSynthetic(desc))
	}
	if path := os.Getenv(EnvXMLFile); path != "" {
		opts = append(opts, WithXMLFile(path))
	}
	if v := os.Getenv(EnvThisSystem); v == "1" || strings.EqualFold(v, "true") {
		opts = append(opts, func(o *options) { o.flags |= model.FlagIsThisSystem })
	}
	return opts
}

// FromEnv loads a topology from the source selected by HWTOPO_XMLFILE or
// HWTOPO_SYNTHETIC, or discovers the running machine when neither is set.
// HWTOPO_THISSYSTEM=1 marks an imported topology as the running system.
func FromEnv(ctx context.Context, opts ...Option) (*Topology, error) {
	return load(ctx, append(opts, envOptions()...))
}
