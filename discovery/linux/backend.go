package linux

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/model"
)

const source = "linux"

// Option configures a Backend.
type Option func(*Backend)

// WithFs reads sysfs and procfs from fsys instead of the host filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(b *Backend) { b.fs = fsys }
}

// WithRoots changes where sysfs and procfs are mounted.
func WithRoots(sys, proc string) Option {
	return func(b *Backend) { b.sys, b.proc = sys, proc }
}

// WithLogger reports skipped entries.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// WithConcurrency bounds parallel per-CPU and per-node reads.
func WithConcurrency(n int) Option {
	return func(b *Backend) { b.workers = n }
}

// Backend discovers the running Linux machine.
type Backend struct {
	fs      afero.Fs
	sys     string
	proc    string
	log     *slog.Logger
	workers int
}

// New returns a Backend reading /sys and /proc.
func New(opts ...Option) *Backend {
	b := &Backend{
		fs:      afero.NewOsFs(),
		sys:     "/sys",
		proc:    "/proc",
		log:     slog.New(slog.DiscardHandler),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return source }

func (b *Backend) cpuDir(parts ...string) string {
	return path.Join(append([]string{b.sys, "devices/system/cpu"}, parts...)...)
}

func (b *Backend) nodeDir(parts ...string) string {
	return path.Join(append([]string{b.sys, "devices/system/node"}, parts...)...)
}

func (b *Backend) readString(name string) (string, error) {
	data, err := afero.ReadFile(b.fs, name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (b *Backend) readInt(name string) (int, error) {
	s, err := b.readString(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

func (b *Backend) readList(name string) (*bitmap.Bitmap, error) {
	s, err := b.readString(name)
	if err != nil {
		return nil, err
	}
	return bitmap.ParseList(s)
}

func (b *Backend) exists(name string) bool {
	ok, _ := afero.Exists(b.fs, name)
	return ok
}

func readErr(name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return discovery.Wrap(discovery.KindPermission, source, fmt.Errorf("%s: %w", name, err))
	case errors.Is(err, fs.ErrNotExist):
		return discovery.Wrap(discovery.KindNotFound, source, fmt.Errorf("%s: %w", name, err))
	}
	return discovery.Wrap(discovery.KindIO, source, fmt.Errorf("%s: %w", name, err))
}

// Discover reads the machine.
func (b *Backend) Discover(ctx context.Context, cfg discovery.Config) (*discovery.Result, error) {
	online := b.cpuDir("online")
	if !b.exists(online) {
		return nil, discovery.Errorf(discovery.KindUnsupported, source, "%s missing, sysfs is not mounted", online)
	}
	cpus, err := b.readList(online)
	if err != nil {
		return nil, readErr(online, err)
	}
	if cpus.IsZero() {
		return nil, discovery.Errorf(discovery.KindInvalid, source, "no online CPU")
	}

	infos, err := b.readCPUs(ctx, cpus)
	if err != nil {
		return nil, err
	}
	nodes, err := b.readNodes(ctx)
	if err != nil {
		return nil, err
	}

	bld := discovery.NewBuilder(source, cpus)
	if err := b.insertCPUObjects(bld, cpus, infos, cfg); err != nil {
		return nil, err
	}

	res := bld.Result()
	numaByOS := make(map[int]*discovery.Object)
	if len(nodes) == 0 {
		// Kernels without NUMA support still have memory.
		n := discovery.NewObject(model.TypeNUMANode, 0)
		n.CPUSet = cpus.Clone()
		n.NodeSet = bitmap.MustFromSequence(0)
		n.Attr = model.NUMANodeAttr{LocalMemory: b.memTotal()}
		if err := bld.AttachMemory(n); err != nil {
			return nil, err
		}
		numaByOS[0] = n
	}
	for _, nd := range nodes {
		n := discovery.NewObject(model.TypeNUMANode, nd.id)
		n.CPUSet = nd.cpus.Intersect(cpus)
		n.NodeSet = bitmap.MustFromSequence(nd.id)
		n.Attr = model.NUMANodeAttr{LocalMemory: nd.memory, PageTypes: nd.pages}
		if err := bld.AttachMemory(n); err != nil {
			return nil, err
		}
		numaByOS[nd.id] = n
	}

	if cfg.Filter(model.TypePCIDevice) != model.KeepNone {
		if err := b.attachPCI(bld, cfg); err != nil {
			return nil, err
		}
	}

	root := res.Root
	root.Infos = append(root.Infos, model.Info{Name: "Backend", Value: "Linux"})
	if v, err := b.readString(path.Join(b.proc, "sys/kernel/osrelease")); err == nil {
		root.Infos = append(root.Infos, model.Info{Name: "OSRelease", Value: v})
	}

	if res.AllowedCPUSet, res.AllowedNodeSet, err = b.Allowed(cfg.PID); err != nil {
		b.log.Debug("allowed sets unavailable", slog.Any("error", err))
		res.AllowedCPUSet, res.AllowedNodeSet = nil, nil
	}
	res.IsThisSystem = true
	res.AssignGPIndexes()

	if cfg.Flags&model.FlagNoDistances == 0 {
		if d, ok := nodeDistances(nodes, numaByOS); ok {
			res.Distances = append(res.Distances, d)
		}
	}
	if cfg.Flags&model.FlagNoMemAttrs == 0 {
		res.MemAttrs = b.hmat(nodes, numaByOS)
	}
	if cfg.Flags&model.FlagNoCPUKinds == 0 {
		res.CPUKinds = b.cpuKinds(cpus, infos)
	}
	return res, nil
}

func (b *Backend) memTotal() uint64 {
	data, err := afero.ReadFile(b.fs, path.Join(b.proc, "meminfo"))
	if err != nil {
		return 0
	}
	return parseMemTotal(string(data))
}

// parseMemTotal returns the MemTotal line of a meminfo file in bytes.
func parseMemTotal(text string) uint64 {
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		// "MemTotal: 123 kB" in /proc, "Node 0 MemTotal: 123 kB" per node.
		for i := 0; i+1 < len(fields); i++ {
			if fields[i] != "MemTotal:" {
				continue
			}
			v, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				return 0
			}
			return v * 1024
		}
	}
	return 0
}

// Allowed reads the cpuset and nodeset process pid may use; 0 means the
// caller. Either set is nil when the kernel does not report it.
func (b *Backend) Allowed(pid int) (*bitmap.Bitmap, *bitmap.Bitmap, error) {
	dir := "self"
	if pid != 0 {
		dir = strconv.Itoa(pid)
	}
	name := path.Join(b.proc, dir, "status")
	data, err := afero.ReadFile(b.fs, name)
	if err != nil {
		return nil, nil, readErr(name, err)
	}
	var cpus, mems *bitmap.Bitmap
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "Cpus_allowed_list":
			cpus, err = bitmap.ParseList(value)
		case "Mems_allowed_list":
			mems, err = bitmap.ParseList(value)
		}
		if err != nil {
			return nil, nil, discovery.Wrap(discovery.KindSyntax, source, err)
		}
	}
	return cpus, mems, nil
}

// parallel runs fn for every index with at most b.workers in flight.
func (b *Backend) parallel(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if b.workers > 0 {
		g.SetLimit(b.workers)
	}
	for i := range n {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i)
		})
	}
	return g.Wait()
}

// parseCacheSize reads sysfs sizes such as "32K" or "1024K", which are
// binary multiples.
func parseCacheSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if last := s[len(s)-1]; last >= 'A' && last <= 'Z' {
		s += "iB"
	}
	return humanize.ParseBytes(s)
}
