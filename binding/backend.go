package binding

import (
	"errors"
	"fmt"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

var (
	// ErrNotSupported means the backend does not implement the requested
	// operation, policy or flag combination.
	ErrNotSupported = errors.New("binding: not supported")
	// ErrPermission means the operating system refused the request.
	ErrPermission = errors.New("binding: permission denied")
	// ErrInvalidArgument is an empty or out-of-range set, or a malformed area.
	ErrInvalidArgument = errors.New("binding: invalid argument")
)

// PlatformError carries an operating system failure that maps to none of
// the sentinel errors.
type PlatformError struct {
	Op      string
	Code    int
	Message string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("binding: %s failed: %s (code %d)", e.Op, e.Message, e.Code)
}

// ScopeKind selects whose binding an operation applies to.
type ScopeKind int

const (
	// ScopeSelf is the calling process, or the calling thread when the
	// thread flag is set.
	ScopeSelf ScopeKind = iota
	ScopeProcess
	ScopeThread
)

// Scope is the target of a binding operation.
type Scope struct {
	Kind ScopeKind
	// ID is a pid for ScopeProcess and a thread id for ScopeThread.
	ID int
}

// Self targets the caller.
func Self() Scope { return Scope{Kind: ScopeSelf} }

// Process targets another process.
func Process(pid int) Scope { return Scope{Kind: ScopeProcess, ID: pid} }

// Thread targets a thread by id.
func Thread(tid int) Scope { return Scope{Kind: ScopeThread, ID: tid} }

func (s Scope) String() string {
	switch s.Kind {
	case ScopeSelf:
		return "self"
	case ScopeProcess:
		return fmt.Sprintf("pid %d", s.ID)
	case ScopeThread:
		return fmt.Sprintf("tid %d", s.ID)
	default:
		return fmt.Sprintf("Scope(%d)", int(s.Kind))
	}
}

// Backend executes binding requests.
//
// Implementations must not partially apply a request: on error the previous
// binding is left in place.
type Backend interface {
	Name() string
	Support() Support

	SetCPUBind(scope Scope, set *bitmap.Bitmap, flags model.CPUBindFlags) error
	GetCPUBind(scope Scope, flags model.CPUBindFlags) (*bitmap.Bitmap, error)
	// LastCPULocation returns the CPUs the scope last ran on.
	LastCPULocation(scope Scope, flags model.CPUBindFlags) (*bitmap.Bitmap, error)

	SetMemBind(scope Scope, nodes *bitmap.Bitmap, policy model.MemBindPolicy, flags model.MemBindFlags) error
	GetMemBind(scope Scope, flags model.MemBindFlags) (*bitmap.Bitmap, model.MemBindPolicy, error)

	SetAreaMemBind(area []byte, nodes *bitmap.Bitmap, policy model.MemBindPolicy, flags model.MemBindFlags) error
	GetAreaMemBind(area []byte, flags model.MemBindFlags) (*bitmap.Bitmap, model.MemBindPolicy, error)
	// AreaMemLocation returns the nodes the area's pages currently live on.
	AreaMemLocation(area []byte, flags model.MemBindFlags) (*bitmap.Bitmap, error)

	// Alloc returns page-aligned memory bound to nodes. It must be released
	// with Free.
	Alloc(size int, nodes *bitmap.Bitmap, policy model.MemBindPolicy, flags model.MemBindFlags) ([]byte, error)
	Free(area []byte) error
}

// CPUSupport lists the CPU binding operations a backend implements.
type CPUSupport struct {
	SetThisProcess bool
	GetThisProcess bool
	SetProcess     bool
	GetProcess     bool
	SetThisThread  bool
	GetThisThread  bool
	SetThread      bool
	GetThread      bool

	LastCPUThisProcess bool
	LastCPUProcess     bool
	LastCPUThisThread  bool
}

// MemSupport lists the memory binding operations and policies a backend
// implements.
type MemSupport struct {
	SetThisProcess bool
	GetThisProcess bool
	SetProcess     bool
	GetProcess     bool
	SetThisThread  bool
	GetThisThread  bool
	SetArea        bool
	GetArea        bool
	AreaLocation   bool
	Alloc          bool

	FirstTouch         bool
	Bind               bool
	Interleave         bool
	WeightedInterleave bool
	NextTouch          bool
	Migrate            bool
}

// Support is a backend's capability matrix.
type Support struct {
	CPU CPUSupport
	Mem MemSupport
}

// SetCPU reports whether SetCPUBind is implemented for scope and flags.
func (s Support) SetCPU(scope Scope, flags model.CPUBindFlags) bool {
	switch scope.Kind {
	case ScopeSelf:
		if flags&model.CPUBindThread != 0 {
			return s.CPU.SetThisThread
		}
		return s.CPU.SetThisProcess
	case ScopeProcess:
		return s.CPU.SetProcess
	case ScopeThread:
		return s.CPU.SetThread
	}
	return false
}

// GetCPU reports whether GetCPUBind is implemented for scope and flags.
func (s Support) GetCPU(scope Scope, flags model.CPUBindFlags) bool {
	switch scope.Kind {
	case ScopeSelf:
		if flags&model.CPUBindThread != 0 {
			return s.CPU.GetThisThread
		}
		return s.CPU.GetThisProcess
	case ScopeProcess:
		return s.CPU.GetProcess
	case ScopeThread:
		return s.CPU.GetThread
	}
	return false
}

// LastCPU reports whether LastCPULocation is implemented for scope and flags.
func (s Support) LastCPU(scope Scope, flags model.CPUBindFlags) bool {
	switch scope.Kind {
	case ScopeSelf:
		if flags&model.CPUBindThread != 0 {
			return s.CPU.LastCPUThisThread
		}
		return s.CPU.LastCPUThisProcess
	case ScopeProcess:
		return s.CPU.LastCPUProcess
	}
	return false
}

// SetMem reports whether SetMemBind is implemented for scope and flags.
// A ScopeSelf request without the process or thread flag is satisfied by
// either.
func (s Support) SetMem(scope Scope, flags model.MemBindFlags) bool {
	switch scope.Kind {
	case ScopeSelf:
		switch {
		case flags&model.MemBindThread != 0:
			return s.Mem.SetThisThread
		case flags&model.MemBindProcess != 0:
			return s.Mem.SetThisProcess
		}
		return s.Mem.SetThisProcess || s.Mem.SetThisThread
	case ScopeProcess:
		return s.Mem.SetProcess
	}
	return false
}

// GetMem is the GetMemBind counterpart of SetMem.
func (s Support) GetMem(scope Scope, flags model.MemBindFlags) bool {
	switch scope.Kind {
	case ScopeSelf:
		switch {
		case flags&model.MemBindThread != 0:
			return s.Mem.GetThisThread
		case flags&model.MemBindProcess != 0:
			return s.Mem.GetThisProcess
		}
		return s.Mem.GetThisProcess || s.Mem.GetThisThread
	case ScopeProcess:
		return s.Mem.GetProcess
	}
	return false
}

// Policy reports whether policy is implemented.
func (s Support) Policy(p model.MemBindPolicy) bool {
	switch p {
	case model.MemBindDefault:
		return true
	case model.MemBindFirstTouch:
		return s.Mem.FirstTouch
	case model.MemBindBind:
		return s.Mem.Bind
	case model.MemBindInterleave:
		return s.Mem.Interleave
	case model.MemBindWeightedInterleave:
		return s.Mem.WeightedInterleave
	case model.MemBindNextTouch:
		return s.Mem.NextTouch
	}
	return false
}

// CheckMem validates a memory binding request against s. It rejects
// unknown policies and the migrate flag when unsupported.
func (s Support) CheckMem(policy model.MemBindPolicy, flags model.MemBindFlags) error {
	if !s.Policy(policy) {
		return fmt.Errorf("%w: policy %s", ErrNotSupported, policy)
	}
	if flags&model.MemBindMigrate != 0 && !s.Mem.Migrate {
		return fmt.Errorf("%w: page migration", ErrNotSupported)
	}
	if flags&model.MemBindProcess != 0 && flags&model.MemBindThread != 0 {
		return fmt.Errorf("%w: both process and thread flags", ErrInvalidArgument)
	}
	return nil
}

func checkSet(what string, set *bitmap.Bitmap) error {
	if set == nil || set.IsZero() {
		return fmt.Errorf("%w: empty %s", ErrInvalidArgument, what)
	}
	if set.IsInfinite() {
		return fmt.Errorf("%w: infinite %s", ErrInvalidArgument, what)
	}
	return nil
}
