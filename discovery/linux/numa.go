package linux

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/model"
)

type nodeInfo struct {
	id        int
	cpus      *bitmap.Bitmap
	memory    uint64
	pages     []model.PageType
	distances []uint64
	// perf holds HMAT values of the best local initiators, by attribute.
	perf       map[string]uint64
	initiators []int
}

// hmatFiles maps sysfs access0 files to memory attribute names and flags.
var hmatFiles = []struct {
	file  string
	name  string
	flags model.MemAttrFlags
}{
	{"read_bandwidth", "ReadBandwidth", model.MemAttrHigherFirst | model.MemAttrNeedInitiator},
	{"write_bandwidth", "WriteBandwidth", model.MemAttrHigherFirst | model.MemAttrNeedInitiator},
	{"read_latency", "ReadLatency", model.MemAttrLowerFirst | model.MemAttrNeedInitiator},
	{"write_latency", "WriteLatency", model.MemAttrLowerFirst | model.MemAttrNeedInitiator},
}

func (b *Backend) readNodes(ctx context.Context) ([]nodeInfo, error) {
	online := b.nodeDir("online")
	if !b.exists(online) {
		return nil, nil
	}
	set, err := b.readList(online)
	if err != nil {
		return nil, readErr(online, err)
	}
	var ids []int
	for i := range set.All() {
		ids = append(ids, i)
	}
	nodes := make([]nodeInfo, len(ids))
	err = b.parallel(ctx, len(ids), func(_ context.Context, i int) error {
		n, err := b.readNode(ids[i])
		if err != nil {
			return err
		}
		nodes[i] = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func (b *Backend) readNode(id int) (nodeInfo, error) {
	dir := b.nodeDir("node" + strconv.Itoa(id))
	n := nodeInfo{id: id}

	cpulist := path.Join(dir, "cpulist")
	cpus, err := b.readList(cpulist)
	if err != nil {
		return n, readErr(cpulist, err)
	}
	n.cpus = cpus

	if data, err := afero.ReadFile(b.fs, path.Join(dir, "meminfo")); err == nil {
		n.memory = parseMemTotal(string(data))
	}

	if entries, err := afero.ReadDir(b.fs, path.Join(dir, "hugepages")); err == nil {
		for _, e := range entries {
			// hugepages-2048kB
			kb, ok := strings.CutPrefix(e.Name(), "hugepages-")
			if !ok {
				continue
			}
			size, err := strconv.ParseUint(strings.TrimSuffix(kb, "kB"), 10, 64)
			if err != nil {
				continue
			}
			count, err := b.readInt(path.Join(dir, "hugepages", e.Name(), "nr_hugepages"))
			if err != nil {
				continue
			}
			n.pages = append(n.pages, model.PageType{Size: size * 1024, Count: uint64(count)})
		}
		sort.Slice(n.pages, func(i, j int) bool { return n.pages[i].Size < n.pages[j].Size })
	}

	if s, err := b.readString(path.Join(dir, "distance")); err == nil {
		for _, f := range strings.Fields(s) {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				n.distances = nil
				break
			}
			n.distances = append(n.distances, v)
		}
	}

	access := path.Join(dir, "access0")
	if entries, err := afero.ReadDir(b.fs, path.Join(access, "initiators")); err == nil {
		for _, e := range entries {
			if v, ok := strings.CutPrefix(e.Name(), "node"); ok {
				if idx, err := strconv.Atoi(v); err == nil {
					n.initiators = append(n.initiators, idx)
				}
				continue
			}
			for _, h := range hmatFiles {
				if e.Name() != h.file {
					continue
				}
				if v, err := b.readInt(path.Join(access, "initiators", h.file)); err == nil && v > 0 {
					if n.perf == nil {
						n.perf = make(map[string]uint64)
					}
					n.perf[h.name] = uint64(v)
				}
			}
		}
		sort.Ints(n.initiators)
	}
	return n, nil
}

// nodeDistances builds the NUMA latency matrix from the per-node rows.
func nodeDistances(nodes []nodeInfo, byOS map[int]*discovery.Object) (discovery.Distances, bool) {
	if len(nodes) < 2 {
		return discovery.Distances{}, false
	}
	d := discovery.Distances{
		Name: "NUMALatency",
		Kind: model.DistancesFromOS | model.DistancesMeansLatency,
	}
	for _, n := range nodes {
		if len(n.distances) != len(nodes) {
			return discovery.Distances{}, false
		}
		d.Objects = append(d.Objects, byOS[n.id].GPIndex)
		d.Values = append(d.Values, n.distances...)
	}
	return d, true
}

// hmat turns the access0 performance of each node into memory attribute
// values whose initiator is the union of the initiator nodes' cpusets.
func (b *Backend) hmat(nodes []nodeInfo, byOS map[int]*discovery.Object) []discovery.MemAttr {
	cpusOf := make(map[int]*bitmap.Bitmap, len(nodes))
	for _, n := range nodes {
		cpusOf[n.id] = n.cpus
	}
	var out []discovery.MemAttr
	for _, h := range hmatFiles {
		attr := discovery.MemAttr{Name: h.name, Flags: h.flags}
		for _, n := range nodes {
			v, ok := n.perf[h.name]
			if !ok || len(n.initiators) == 0 {
				continue
			}
			init := bitmap.New()
			for _, i := range n.initiators {
				if set := cpusOf[i]; set != nil {
					init.UnionWith(set)
				}
			}
			if init.IsZero() {
				continue
			}
			attr.Values = append(attr.Values, discovery.MemAttrValue{
				Target:    byOS[n.id].GPIndex,
				Initiator: init,
				Value:     v,
			})
		}
		if len(attr.Values) > 0 {
			out = append(out, attr)
		}
	}
	return out
}
