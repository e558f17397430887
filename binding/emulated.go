package binding

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

// FullSupport is the capability matrix of an emulated backend with every
// operation enabled.
var FullSupport = Support{
	CPU: CPUSupport{
		SetThisProcess: true, GetThisProcess: true,
		SetProcess: true, GetProcess: true,
		SetThisThread: true, GetThisThread: true,
		SetThread: true, GetThread: true,
		LastCPUThisProcess: true, LastCPUProcess: true, LastCPUThisThread: true,
	},
	Mem: MemSupport{
		SetThisProcess: true, GetThisProcess: true,
		SetProcess: true, GetProcess: true,
		SetThisThread: true, GetThisThread: true,
		SetArea: true, GetArea: true, AreaLocation: true, Alloc: true,
		FirstTouch: true, Bind: true, Interleave: true,
		WeightedInterleave: true, NextTouch: true, Migrate: true,
	},
}

// EmulatedOption configures NewEmulated.
type EmulatedOption func(*Emulated)

// WithSupport restricts what the emulated backend accepts.
func WithSupport(s Support) EmulatedOption {
	return func(e *Emulated) { e.support = s }
}

type memBinding struct {
	nodes  *bitmap.Bitmap
	policy model.MemBindPolicy
}

type areaKey struct {
	addr uintptr
	len  int
}

// Emulated records bindings in memory without touching the operating
// system. Bindings are checked against the machine's cpuset and nodeset the
// way a real kernel would check them.
type Emulated struct {
	mu      sync.Mutex
	cpus    *bitmap.Bitmap
	nodes   *bitmap.Bitmap
	support Support

	cpu   map[Scope]*bitmap.Bitmap
	mem   map[Scope]memBinding
	areas map[areaKey]memBinding
}

// NewEmulated returns a backend for a machine with the given CPUs and NUMA
// nodes. Every scope starts bound to all of them.
func NewEmulated(cpus, nodes *bitmap.Bitmap, opts ...EmulatedOption) *Emulated {
	e := &Emulated{
		cpus:    cpus.Clone(),
		nodes:   nodes.Clone(),
		support: FullSupport,
		cpu:     make(map[Scope]*bitmap.Bitmap),
		mem:     make(map[Scope]memBinding),
		areas:   make(map[areaKey]memBinding),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emulated) Name() string     { return "emulated" }
func (e *Emulated) Support() Support { return e.support }

// cpuKey folds the flag-selected self scopes onto distinct map entries. The
// calling process is recorded under its pid so Self and Process(os.Getpid())
// agree.
func cpuKey(scope Scope, flags model.CPUBindFlags) Scope {
	if scope.Kind == ScopeSelf {
		if flags&model.CPUBindThread != 0 {
			return Scope{Kind: ScopeThread, ID: -1}
		}
		return Process(os.Getpid())
	}
	return scope
}

func memKey(scope Scope, flags model.MemBindFlags) Scope {
	if scope.Kind == ScopeSelf {
		if flags&model.MemBindThread != 0 {
			return Scope{Kind: ScopeThread, ID: -1}
		}
		return Process(os.Getpid())
	}
	return scope
}

func (e *Emulated) SetCPUBind(scope Scope, set *bitmap.Bitmap, flags model.CPUBindFlags) error {
	if !e.support.SetCPU(scope, flags) {
		return fmt.Errorf("%w: set cpu binding of %s", ErrNotSupported, scope)
	}
	if err := checkSet("cpuset", set); err != nil {
		return err
	}
	if !e.cpus.Includes(set) {
		return fmt.Errorf("%w: cpuset %s outside machine %s", ErrInvalidArgument, set.ListString(), e.cpus.ListString())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cpu[cpuKey(scope, flags)] = set.Clone()
	return nil
}

func (e *Emulated) GetCPUBind(scope Scope, flags model.CPUBindFlags) (*bitmap.Bitmap, error) {
	if !e.support.GetCPU(scope, flags) {
		return nil, fmt.Errorf("%w: get cpu binding of %s", ErrNotSupported, scope)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cpuLocked(cpuKey(scope, flags)).Clone(), nil
}

func (e *Emulated) cpuLocked(key Scope) *bitmap.Bitmap {
	if set, ok := e.cpu[key]; ok {
		return set
	}
	return e.cpus
}

func (e *Emulated) LastCPULocation(scope Scope, flags model.CPUBindFlags) (*bitmap.Bitmap, error) {
	if !e.support.LastCPU(scope, flags) {
		return nil, fmt.Errorf("%w: last cpu location of %s", ErrNotSupported, scope)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	// The emulated scheduler always runs on the first allowed CPU.
	set := bitmap.New()
	if first := e.cpuLocked(cpuKey(scope, flags)).First(); first >= 0 {
		_ = set.Set(first)
	}
	return set, nil
}

func (e *Emulated) checkMem(nodes *bitmap.Bitmap, policy model.MemBindPolicy, flags model.MemBindFlags) error {
	if err := e.support.CheckMem(policy, flags); err != nil {
		return err
	}
	if policy == model.MemBindDefault {
		return nil
	}
	if err := checkSet("nodeset", nodes); err != nil {
		return err
	}
	if !e.nodes.Includes(nodes) {
		return fmt.Errorf("%w: nodeset %s outside machine %s", ErrInvalidArgument, nodes.ListString(), e.nodes.ListString())
	}
	return nil
}

func (e *Emulated) binding(nodes *bitmap.Bitmap, policy model.MemBindPolicy) memBinding {
	if policy == model.MemBindDefault {
		return memBinding{nodes: e.nodes.Clone(), policy: policy}
	}
	return memBinding{nodes: nodes.Clone(), policy: policy}
}

func (e *Emulated) SetMemBind(scope Scope, nodes *bitmap.Bitmap, policy model.MemBindPolicy, flags model.MemBindFlags) error {
	if !e.support.SetMem(scope, flags) {
		return fmt.Errorf("%w: set memory binding of %s", ErrNotSupported, scope)
	}
	if err := e.checkMem(nodes, policy, flags); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mem[memKey(scope, flags)] = e.binding(nodes, policy)
	return nil
}

func (e *Emulated) GetMemBind(scope Scope, flags model.MemBindFlags) (*bitmap.Bitmap, model.MemBindPolicy, error) {
	if !e.support.GetMem(scope, flags) {
		return nil, 0, fmt.Errorf("%w: get memory binding of %s", ErrNotSupported, scope)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.mem[memKey(scope, flags)]; ok {
		return b.nodes.Clone(), b.policy, nil
	}
	return e.nodes.Clone(), model.MemBindDefault, nil
}

func keyOf(area []byte) (areaKey, error) {
	if len(area) == 0 {
		return areaKey{}, fmt.Errorf("%w: empty area", ErrInvalidArgument)
	}
	return areaKey{addr: uintptr(unsafe.Pointer(unsafe.SliceData(area))), len: len(area)}, nil
}

func (e *Emulated) SetAreaMemBind(area []byte, nodes *bitmap.Bitmap, policy model.MemBindPolicy, flags model.MemBindFlags) error {
	if !e.support.Mem.SetArea {
		return fmt.Errorf("%w: set area memory binding", ErrNotSupported)
	}
	key, err := keyOf(area)
	if err != nil {
		return err
	}
	if err := e.checkMem(nodes, policy, flags); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.areas[key] = e.binding(nodes, policy)
	return nil
}

func (e *Emulated) GetAreaMemBind(area []byte, flags model.MemBindFlags) (*bitmap.Bitmap, model.MemBindPolicy, error) {
	if !e.support.Mem.GetArea {
		return nil, 0, fmt.Errorf("%w: get area memory binding", ErrNotSupported)
	}
	key, err := keyOf(area)
	if err != nil {
		return nil, 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.areas[key]; ok {
		return b.nodes.Clone(), b.policy, nil
	}
	return e.nodes.Clone(), model.MemBindDefault, nil
}

func (e *Emulated) AreaMemLocation(area []byte, flags model.MemBindFlags) (*bitmap.Bitmap, error) {
	if !e.support.Mem.AreaLocation {
		return nil, fmt.Errorf("%w: area memory location", ErrNotSupported)
	}
	key, err := keyOf(area)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.areas[key]
	if !ok {
		b = memBinding{nodes: e.nodes}
	}
	if b.policy == model.MemBindInterleave || b.policy == model.MemBindWeightedInterleave {
		return b.nodes.Clone(), nil
	}
	// Pages land on the first node of the binding.
	set := bitmap.New()
	_ = set.Set(b.nodes.First())
	return set, nil
}

func (e *Emulated) Alloc(size int, nodes *bitmap.Bitmap, policy model.MemBindPolicy, flags model.MemBindFlags) ([]byte, error) {
	if !e.support.Mem.Alloc {
		return nil, fmt.Errorf("%w: bound allocation", ErrNotSupported)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidArgument, size)
	}
	if err := e.checkMem(nodes, policy, flags); err != nil {
		return nil, err
	}
	page := os.Getpagesize()
	buf := make([]byte, size+page)
	off := 0
	if r := int(uintptr(unsafe.Pointer(&buf[0])) % uintptr(page)); r != 0 {
		off = page - r
	}
	area := buf[off : off+size : off+size]
	key, _ := keyOf(area)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.areas[key] = e.binding(nodes, policy)
	return area, nil
}

func (e *Emulated) Free(area []byte) error {
	key, err := keyOf(area)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.areas, key)
	return nil
}
