package linux

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/model"
)

// osdevClasses maps PCI device subdirectories to OS device kinds.
var osdevClasses = []struct {
	dir    string
	kind   model.OSDevKind
	prefix string
}{
	{"net", model.OSDevNetwork, ""},
	{"infiniband", model.OSDevOpenFabrics, ""},
	{"drm", model.OSDevGPU, ""},
	{"nvme", model.OSDevStorage, "nvme"},
	{"dma", model.OSDevDMA, "dma"},
}

func (b *Backend) attachPCI(bld *discovery.Builder, cfg discovery.Config) error {
	dir := path.Join(b.sys, "bus/pci/devices")
	entries, err := afero.ReadDir(b.fs, dir)
	if err != nil {
		b.log.Debug("no pci devices", "dir", dir, "error", err)
		return nil
	}
	withOSDevs := cfg.Filter(model.TypeOSDevice) != model.KeepNone
	for _, e := range entries {
		dev := path.Join(dir, e.Name())
		attr, err := b.readPCI(e.Name(), dev)
		if err != nil {
			b.log.Debug("skipping pci device", "busid", e.Name(), "error", err)
			continue
		}
		o := discovery.NewObject(model.TypePCIDevice, model.UnknownIndex)
		o.Attr = attr
		if withOSDevs {
			o.Children = b.osDevices(dev)
		}
		locality, err := b.readList(path.Join(dev, "local_cpulist"))
		if err != nil || locality.IsZero() {
			locality = nil
		}
		if err := bld.AttachIO(locality, o); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) readHex(name string) (uint64, error) {
	s, err := b.readString(name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

func (b *Backend) readPCI(busid, dev string) (model.PCIDeviceAttr, error) {
	var a model.PCIDeviceAttr
	var domain, bus, slot, fn uint
	if _, err := fmt.Sscanf(busid, "%04x:%02x:%02x.%01x", &domain, &bus, &slot, &fn); err != nil {
		return a, fmt.Errorf("bus id %q: %w", busid, err)
	}
	a.Domain, a.Bus, a.Dev, a.Func = uint32(domain), uint8(bus), uint8(slot), uint8(fn)

	class, err := b.readHex(path.Join(dev, "class"))
	if err != nil {
		return a, err
	}
	a.ClassID = uint16(class >> 8)
	for _, f := range []struct {
		name string
		dst  *uint16
	}{
		{"vendor", &a.VendorID},
		{"device", &a.DeviceID},
		{"subsystem_vendor", &a.SubvendorID},
		{"subsystem_device", &a.SubdeviceID},
	} {
		if v, err := b.readHex(path.Join(dev, f.name)); err == nil {
			*f.dst = uint16(v)
		}
	}
	if v, err := b.readHex(path.Join(dev, "revision")); err == nil {
		a.Revision = uint8(v)
	}
	a.LinkSpeed = b.linkSpeed(dev)
	return a, nil
}

// linkSpeed returns the link bandwidth in GB/s from the transfer rate and
// lane count, accounting for 8b/10b or 128b/130b encoding.
func (b *Backend) linkSpeed(dev string) float32 {
	s, err := b.readString(path.Join(dev, "current_link_speed"))
	if err != nil {
		return 0
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	gts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	width, err := b.readInt(path.Join(dev, "current_link_width"))
	if err != nil || width <= 0 {
		return 0
	}
	enc := 8.0 / 10
	if gts >= 8 {
		enc = 128.0 / 130
	}
	return float32(gts * float64(width) * enc / 8)
}

func (b *Backend) osDevices(dev string) []*discovery.Object {
	var out []*discovery.Object
	for _, c := range osdevClasses {
		entries, err := afero.ReadDir(b.fs, path.Join(dev, c.dir))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if c.prefix != "" && !strings.HasPrefix(e.Name(), c.prefix) {
				continue
			}
			if c.kind == model.OSDevGPU && !strings.HasPrefix(e.Name(), "card") && !strings.HasPrefix(e.Name(), "renderD") {
				continue
			}
			o := discovery.NewObject(model.TypeOSDevice, model.UnknownIndex)
			o.Name = e.Name()
			o.Attr = model.OSDeviceAttr{Kinds: c.kind}
			if c.kind == model.OSDevNetwork {
				if mac, err := b.readString(path.Join(dev, c.dir, e.Name(), "address")); err == nil {
					o.Infos = append(o.Infos, model.Info{Name: "Address", Value: mac})
				}
			}
			out = append(out, o)
		}
	}
	return out
}
