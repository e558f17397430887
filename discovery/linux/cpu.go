package linux

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/model"
)

type cacheInfo struct {
	level  int
	kind   model.CacheKind
	size   uint64
	line   int
	ways   int
	shared *bitmap.Bitmap
}

type cpuInfo struct {
	id      int
	pkg     int
	die     int
	core    int
	thread  *bitmap.Bitmap
	pkgCPUs *bitmap.Bitmap
	dieCPUs *bitmap.Bitmap
	caches  []cacheInfo
	maxFreq uint64
}

func (b *Backend) readCPUs(ctx context.Context, cpus *bitmap.Bitmap) ([]cpuInfo, error) {
	ids := make([]int, 0, cpus.Weight())
	for i := range cpus.All() {
		ids = append(ids, i)
	}
	infos := make([]cpuInfo, len(ids))
	err := b.parallel(ctx, len(ids), func(_ context.Context, i int) error {
		info, err := b.readCPU(ids[i])
		if err != nil {
			return err
		}
		infos[i] = info
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func (b *Backend) readCPU(id int) (cpuInfo, error) {
	self := bitmap.MustFromSequence(id)
	info := cpuInfo{id: id, pkg: -1, die: -1, core: -1, thread: self, pkgCPUs: self, dieCPUs: nil}
	dir := b.cpuDir("cpu" + strconv.Itoa(id))

	topo := path.Join(dir, "topology")
	if v, err := b.readInt(path.Join(topo, "physical_package_id")); err == nil && v >= 0 {
		info.pkg = v
	}
	if v, err := b.readInt(path.Join(topo, "die_id")); err == nil && v >= 0 {
		info.die = v
	}
	if v, err := b.readInt(path.Join(topo, "core_id")); err == nil && v >= 0 {
		info.core = v
	}
	info.thread = b.firstList(self, path.Join(topo, "core_cpus_list"), path.Join(topo, "thread_siblings_list"))
	info.pkgCPUs = b.firstList(self, path.Join(topo, "package_cpus_list"), path.Join(topo, "core_siblings_list"))
	if set, err := b.readList(path.Join(topo, "die_cpus_list")); err == nil && !set.IsZero() {
		info.dieCPUs = set
	}

	if khz, err := b.readInt(path.Join(dir, "cpufreq/cpuinfo_max_freq")); err == nil && khz > 0 {
		info.maxFreq = uint64(khz)
	}

	caches, err := b.readCaches(path.Join(dir, "cache"), self)
	if err != nil {
		return info, err
	}
	info.caches = caches
	return info, nil
}

// firstList returns the first readable, non-empty list among names.
func (b *Backend) firstList(fallback *bitmap.Bitmap, names ...string) *bitmap.Bitmap {
	for _, name := range names {
		if set, err := b.readList(name); err == nil && !set.IsZero() {
			return set
		}
	}
	return fallback
}

func (b *Backend) readCaches(dir string, self *bitmap.Bitmap) ([]cacheInfo, error) {
	entries, err := afero.ReadDir(b.fs, dir)
	if err != nil {
		// No cache directory is normal in VMs and containers.
		return nil, nil
	}
	var out []cacheInfo
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "index") {
			continue
		}
		idx := path.Join(dir, e.Name())
		level, err := b.readInt(path.Join(idx, "level"))
		if err != nil {
			continue
		}
		c := cacheInfo{level: level, shared: self}
		switch t, _ := b.readString(path.Join(idx, "type")); t {
		case "Data":
			c.kind = model.CacheData
		case "Instruction":
			c.kind = model.CacheInstruction
		}
		if s, err := b.readString(path.Join(idx, "size")); err == nil {
			if c.size, err = parseCacheSize(s); err != nil {
				return nil, discovery.Wrap(discovery.KindSyntax, source, fmt.Errorf("%s/size: %w", idx, err))
			}
		}
		c.line, _ = b.readInt(path.Join(idx, "coherency_line_size"))
		c.ways, _ = b.readInt(path.Join(idx, "ways_of_associativity"))
		c.shared = b.firstList(self, path.Join(idx, "shared_cpu_list"))
		out = append(out, c)
	}
	return out, nil
}

func cacheType(c cacheInfo) (model.ObjType, bool) {
	if c.kind == model.CacheInstruction {
		return model.ICacheType(c.level)
	}
	return model.CacheType(c.level)
}

// insertCPUObjects inserts packages, dies, caches, cores and PUs.
func (b *Backend) insertCPUObjects(bld *discovery.Builder, cpus *bitmap.Bitmap, infos []cpuInfo, cfg discovery.Config) error {
	var objs []*discovery.Object
	seen := make(map[string]bool)
	add := func(key string, o *discovery.Object) {
		if seen[key] {
			return
		}
		seen[key] = true
		objs = append(objs, o)
	}

	multiDie := false
	for _, in := range infos {
		if in.dieCPUs != nil && !in.dieCPUs.Equal(in.pkgCPUs) {
			multiDie = true
		}
	}

	for _, in := range infos {
		if in.pkg >= 0 {
			o := discovery.NewObject(model.TypePackage, in.pkg)
			o.CPUSet = in.pkgCPUs.Intersect(cpus)
			add("pkg:"+strconv.Itoa(in.pkg), o)
		}
		if multiDie && in.die >= 0 {
			o := discovery.NewObject(model.TypeDie, in.die)
			o.CPUSet = in.dieCPUs.Intersect(cpus)
			add(fmt.Sprintf("die:%d:%d", in.pkg, in.die), o)
		}
		for _, c := range in.caches {
			t, ok := cacheType(c)
			if !ok || cfg.Filter(t) == model.KeepNone {
				continue
			}
			o := discovery.NewObject(t, model.UnknownIndex)
			o.CPUSet = c.shared.Intersect(cpus)
			o.Attr = model.CacheAttr{Size: c.size, Depth: c.level, LineSize: c.line, Associativity: c.ways, Kind: c.kind}
			add(fmt.Sprintf("%s:%s", t, o.CPUSet.ListString()), o)
		}
		core := discovery.NewObject(model.TypeCore, in.core)
		core.CPUSet = in.thread.Intersect(cpus)
		add("core:"+core.CPUSet.ListString(), core)

		pu := discovery.NewObject(model.TypePU, in.id)
		pu.CPUSet = bitmap.MustFromSequence(in.id)
		add("pu:"+strconv.Itoa(in.id), pu)
	}

	// Larger objects first keeps insertion from reparenting.
	sort.SliceStable(objs, func(i, j int) bool {
		return objs[i].CPUSet.Weight() > objs[j].CPUSet.Weight()
	})
	for _, o := range objs {
		if o.CPUSet.IsZero() {
			continue
		}
		if _, err := bld.Insert(o); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) cpuKinds(cpus *bitmap.Bitmap, infos []cpuInfo) []discovery.CPUKind {
	atom, errA := b.readList(path.Join(b.sys, "devices/cpu_atom/cpus"))
	core, errC := b.readList(path.Join(b.sys, "devices/cpu_core/cpus"))
	if errA == nil && errC == nil && !atom.IsZero() && !core.IsZero() {
		return []discovery.CPUKind{
			{CPUSet: atom.Intersect(cpus), Efficiency: 0, Infos: []model.Info{{Name: "CoreType", Value: "IntelAtom"}}},
			{CPUSet: core.Intersect(cpus), Efficiency: 1, Infos: []model.Info{{Name: "CoreType", Value: "IntelCore"}}},
		}
	}

	byFreq := make(map[uint64]*bitmap.Bitmap)
	for _, in := range infos {
		if in.maxFreq == 0 {
			return nil
		}
		if byFreq[in.maxFreq] == nil {
			byFreq[in.maxFreq] = bitmap.New()
		}
		_ = byFreq[in.maxFreq].Set(in.id)
	}
	if len(byFreq) < 2 {
		return nil
	}
	freqs := make([]uint64, 0, len(byFreq))
	for f := range byFreq {
		freqs = append(freqs, f)
	}
	sort.Slice(freqs, func(i, j int) bool { return freqs[i] < freqs[j] })
	kinds := make([]discovery.CPUKind, 0, len(freqs))
	for i, f := range freqs {
		kinds = append(kinds, discovery.CPUKind{
			CPUSet:     byFreq[f],
			Efficiency: i,
			Infos:      []model.Info{{Name: "FrequencyMaxMHz", Value: strconv.FormatUint(f/1000, 10)}},
		})
	}
	return kinds
}
