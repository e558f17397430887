package distmat

import (
	"fmt"

	"github.com/hupe1980/hwtopo/model"
)

// Objects answers questions about the objects of a matrix.
type Objects interface {
	// Alive reports whether the object still exists.
	Alive(gp uint64) bool
	// IsSwitch reports whether the object is a switch port, such as an
	// NVSwitch OS device.
	IsSwitch(gp uint64) bool
}

// Transform applies tr to m in place. The object list may shrink.
func (m *Matrix) Transform(tr model.DistancesTransform, objs Objects) error {
	switch tr {
	case model.TransformRemoveNull:
		m.keep(func(i int) bool { return objs.Alive(m.Objects[i]) })
		if len(m.Objects) < 2 {
			return ErrTooSmall
		}
		return nil
	case model.TransformLinks:
		return m.links()
	case model.TransformMergeSwitchPorts:
		return m.mergeSwitchPorts(objs)
	case model.TransformTransitiveClosure:
		return m.transitiveClosure(objs)
	default:
		return fmt.Errorf("%w: %d", ErrTransform, tr)
	}
}

func (m *Matrix) requireBandwidth() error {
	if m.Kind&model.DistancesMeansBandwidth == 0 {
		return fmt.Errorf("%w: transform needs a bandwidth matrix, got %s", ErrKind, m.Kind)
	}
	return nil
}

// links replaces bandwidths with link counts: the diagonal becomes zero and
// every value is divided by the smallest positive one.
func (m *Matrix) links() error {
	if err := m.requireBandwidth(); err != nil {
		return err
	}
	n := len(m.Objects)
	vals := append([]uint64(nil), m.Values...)
	for i := range n {
		vals[i*n+i] = 0
	}
	var divider uint64
	for _, v := range vals {
		if v != 0 && (divider == 0 || v < divider) {
			divider = v
		}
	}
	if divider == 0 {
		m.Values = vals
		return nil
	}
	for _, v := range vals {
		if v%divider != 0 {
			return ErrNotDivisible
		}
	}
	for i := range vals {
		vals[i] /= divider
	}
	m.Values = vals
	return nil
}

// mergeSwitchPorts folds every switch port into the first one.
func (m *Matrix) mergeSwitchPorts(objs Objects) error {
	if err := m.requireBandwidth(); err != nil {
		return err
	}
	n := len(m.Objects)
	first := -1
	merged := make([]bool, n)
	for i := range n {
		if !objs.IsSwitch(m.Objects[i]) {
			continue
		}
		if first < 0 {
			first = i
			continue
		}
		for j := range n {
			m.Values[first*n+j] += m.Values[i*n+j]
			m.Values[j*n+first] += m.Values[j*n+i]
		}
		merged[i] = true
	}
	if first < 0 {
		return nil
	}
	m.Values[first*n+first] = 0
	m.keep(func(i int) bool { return !merged[i] })
	return nil
}

// transitiveClosure connects every pair of non-switch objects through the
// switches: the value becomes the smaller of the total bandwidth into and
// out of the switches.
func (m *Matrix) transitiveClosure(objs Objects) error {
	if err := m.requireBandwidth(); err != nil {
		return err
	}
	n := len(m.Objects)
	sw := make([]bool, n)
	for i := range n {
		sw[i] = objs.IsSwitch(m.Objects[i])
	}
	out := append([]uint64(nil), m.Values...)
	for i := range n {
		if sw[i] {
			continue
		}
		var toSwitch uint64
		for k := range n {
			if sw[k] {
				toSwitch += m.Values[i*n+k]
			}
		}
		for j := range n {
			if i == j || sw[j] {
				continue
			}
			var fromSwitch uint64
			for k := range n {
				if sw[k] {
					fromSwitch += m.Values[k*n+j]
				}
			}
			out[i*n+j] = min(toSwitch, fromSwitch)
		}
	}
	m.Values = out
	return nil
}
