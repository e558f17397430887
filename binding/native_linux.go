//go:build linux && (amd64 || arm64)

package binding

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

const (
	mpolDefault            = 0
	mpolPreferred          = 1
	mpolBind               = 2
	mpolInterleave         = 3
	mpolLocal              = 4
	mpolPreferredMany      = 5
	mpolWeightedInterleave = 6

	mpolFNode = 1 << 0
	mpolFAddr = 1 << 1

	mpolMFStrict = 1 << 0
	mpolMFMove   = 1 << 1

	// maxNodes bounds the nodemasks handed to the kernel. It must be at
	// least the kernel's MAX_NUMNODES for get_mempolicy to accept it.
	maxNodes = 4096
	maxCPUs  = 1024
)

// Linux binds through sched_setaffinity and the NUMA memory policy
// syscalls. Thread-scoped requests on Self act on the calling OS thread, so
// callers should hold runtime.LockOSThread around them.
type Linux struct {
	proc procfs.FS
}

// Native returns the binding backend of the running platform.
func Native() Backend {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return Unsupported()
	}
	return &Linux{proc: fs}
}

func (l *Linux) Name() string { return "linux" }

func (l *Linux) Support() Support {
	return Support{
		CPU: CPUSupport{
			SetThisProcess: true, GetThisProcess: true,
			SetProcess: true, GetProcess: true,
			SetThisThread: true, GetThisThread: true,
			SetThread: true, GetThread: true,
			LastCPUThisProcess: true, LastCPUProcess: true, LastCPUThisThread: true,
		},
		Mem: MemSupport{
			SetThisThread: true, GetThisThread: true,
			SetArea: true, GetArea: true, AreaLocation: true, Alloc: true,
			FirstTouch: true, Bind: true, Interleave: true, WeightedInterleave: true,
			Migrate: true,
		},
	}
}

func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return &PlatformError{Op: op, Code: -1, Message: err.Error()}
	}
	switch errno {
	case unix.EPERM, unix.EACCES:
		return fmt.Errorf("%w: %s: %v", ErrPermission, op, errno)
	case unix.EINVAL, unix.EFAULT:
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, op, errno)
	case unix.ENOSYS, unix.EOPNOTSUPP:
		return fmt.Errorf("%w: %s: %v", ErrNotSupported, op, errno)
	}
	return &PlatformError{Op: op, Code: int(errno), Message: errno.Error()}
}

func toCPUSet(set *bitmap.Bitmap) (*unix.CPUSet, error) {
	if last := set.Last(); last >= maxCPUs {
		return nil, fmt.Errorf("%w: cpu %d beyond %d", ErrInvalidArgument, last, maxCPUs)
	}
	var cs unix.CPUSet
	for i := range set.All() {
		cs.Set(i)
	}
	return &cs, nil
}

func fromCPUSet(cs *unix.CPUSet) *bitmap.Bitmap {
	set := bitmap.New()
	for i := 0; i < maxCPUs; i++ {
		if cs.IsSet(i) {
			_ = set.Set(i)
		}
	}
	return set
}

// threads returns the thread ids of pid.
func (l *Linux) threads(pid int) ([]int, error) {
	procs, err := l.proc.AllThreads(pid)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no process %d", ErrInvalidArgument, pid)
		}
		return nil, &PlatformError{Op: "list threads", Code: -1, Message: err.Error()}
	}
	tids := make([]int, 0, len(procs))
	for _, p := range procs {
		tids = append(tids, p.PID)
	}
	return tids, nil
}

func (l *Linux) SetCPUBind(scope Scope, set *bitmap.Bitmap, flags model.CPUBindFlags) error {
	if err := checkSet("cpuset", set); err != nil {
		return err
	}
	cs, err := toCPUSet(set)
	if err != nil {
		return err
	}
	switch {
	case scope.Kind == ScopeThread:
		return translate("sched_setaffinity", unix.SchedSetaffinity(scope.ID, cs))
	case scope.Kind == ScopeSelf && flags&model.CPUBindThread != 0:
		return translate("sched_setaffinity", unix.SchedSetaffinity(0, cs))
	}
	pid := scope.ID
	if scope.Kind == ScopeSelf {
		pid = os.Getpid()
	}
	return l.setProcessAffinity(pid, cs)
}

// setProcessAffinity binds every thread of pid, restoring the threads
// already changed when one of them fails.
func (l *Linux) setProcessAffinity(pid int, cs *unix.CPUSet) error {
	tids, err := l.threads(pid)
	if err != nil {
		return err
	}
	type saved struct {
		tid int
		old unix.CPUSet
	}
	done := make([]saved, 0, len(tids))
	rollback := func() {
		for _, s := range done {
			_ = unix.SchedSetaffinity(s.tid, &s.old)
		}
	}
	for _, tid := range tids {
		var old unix.CPUSet
		if err := unix.SchedGetaffinity(tid, &old); err != nil {
			if errors.Is(err, unix.ESRCH) {
				continue
			}
			rollback()
			return translate("sched_getaffinity", err)
		}
		if err := unix.SchedSetaffinity(tid, cs); err != nil {
			if errors.Is(err, unix.ESRCH) {
				continue
			}
			rollback()
			return translate("sched_setaffinity", err)
		}
		done = append(done, saved{tid: tid, old: old})
	}
	return nil
}

func (l *Linux) GetCPUBind(scope Scope, flags model.CPUBindFlags) (*bitmap.Bitmap, error) {
	var cs unix.CPUSet
	switch {
	case scope.Kind == ScopeThread:
		if err := unix.SchedGetaffinity(scope.ID, &cs); err != nil {
			return nil, translate("sched_getaffinity", err)
		}
		return fromCPUSet(&cs), nil
	case scope.Kind == ScopeSelf && flags&model.CPUBindThread != 0:
		if err := unix.SchedGetaffinity(0, &cs); err != nil {
			return nil, translate("sched_getaffinity", err)
		}
		return fromCPUSet(&cs), nil
	}
	pid := scope.ID
	if scope.Kind == ScopeSelf {
		pid = os.Getpid()
	}
	tids, err := l.threads(pid)
	if err != nil {
		return nil, err
	}
	set := bitmap.New()
	for _, tid := range tids {
		if err := unix.SchedGetaffinity(tid, &cs); err != nil {
			if errors.Is(err, unix.ESRCH) {
				continue
			}
			return nil, translate("sched_getaffinity", err)
		}
		set.UnionWith(fromCPUSet(&cs))
	}
	return set, nil
}

func (l *Linux) LastCPULocation(scope Scope, flags model.CPUBindFlags) (*bitmap.Bitmap, error) {
	set := bitmap.New()
	if scope.Kind == ScopeSelf && flags&model.CPUBindThread != 0 {
		var cpu, node uint32
		_, _, errno := unix.Syscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
		if errno != 0 {
			return nil, translate("getcpu", errno)
		}
		_ = set.Set(int(cpu))
		return set, nil
	}
	if scope.Kind == ScopeThread {
		return nil, fmt.Errorf("%w: last cpu location of another thread", ErrNotSupported)
	}
	pid := scope.ID
	if scope.Kind == ScopeSelf {
		pid = os.Getpid()
	}
	procs, err := l.proc.AllThreads(pid)
	if err != nil {
		return nil, fmt.Errorf("%w: no process %d", ErrInvalidArgument, pid)
	}
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			continue
		}
		_ = set.Set(int(st.Processor))
	}
	return set, nil
}

type nodeMask []uint64

func newNodeMask(nodes *bitmap.Bitmap) (nodeMask, error) {
	mask := make(nodeMask, maxNodes/64)
	if nodes == nil {
		return mask, nil
	}
	if last := nodes.Last(); last >= maxNodes {
		return nil, fmt.Errorf("%w: node %d beyond %d", ErrInvalidArgument, last, maxNodes)
	}
	copy(mask, nodes.Words())
	return mask, nil
}

func (m nodeMask) ptr() unsafe.Pointer { return unsafe.Pointer(&m[0]) }

func (m nodeMask) bitmap() *bitmap.Bitmap {
	set, _ := bitmap.FromWords(m...)
	return set
}

// linuxPolicy maps a policy and its nodes onto a kernel mode.
func linuxPolicy(policy model.MemBindPolicy, nodes *bitmap.Bitmap, flags model.MemBindFlags) (int, error) {
	switch policy {
	case model.MemBindDefault, model.MemBindFirstTouch:
		return mpolDefault, nil
	case model.MemBindBind:
		if flags&model.MemBindStrict == 0 && nodes.Weight() == 1 {
			return mpolPreferred, nil
		}
		return mpolBind, nil
	case model.MemBindInterleave:
		return mpolInterleave, nil
	case model.MemBindWeightedInterleave:
		return mpolWeightedInterleave, nil
	}
	return 0, fmt.Errorf("%w: policy %s", ErrNotSupported, policy)
}

func fromLinuxPolicy(mode int) model.MemBindPolicy {
	switch mode {
	case mpolPreferred, mpolBind, mpolPreferredMany:
		return model.MemBindBind
	case mpolInterleave:
		return model.MemBindInterleave
	case mpolWeightedInterleave:
		return model.MemBindWeightedInterleave
	}
	return model.MemBindFirstTouch
}

func (l *Linux) memArgs(nodes *bitmap.Bitmap, policy model.MemBindPolicy, flags model.MemBindFlags) (int, nodeMask, error) {
	if err := l.Support().CheckMem(policy, flags); err != nil {
		return 0, nil, err
	}
	mode, err := linuxPolicy(policy, nodes, flags)
	if err != nil {
		return 0, nil, err
	}
	if mode == mpolDefault {
		return mode, nil, nil
	}
	if err := checkSet("nodeset", nodes); err != nil {
		return 0, nil, err
	}
	mask, err := newNodeMask(nodes)
	return mode, mask, err
}

func maskArgs(m nodeMask) (uintptr, uintptr) {
	if m == nil {
		return 0, 0
	}
	return uintptr(m.ptr()), uintptr(len(m)*64 + 1)
}

func setMempolicy(mode int, mask nodeMask) error {
	p, n := maskArgs(mask)
	_, _, errno := unix.Syscall(unix.SYS_SET_MEMPOLICY, uintptr(mode), p, n)
	runtime.KeepAlive(mask)
	if errno != 0 {
		return errno
	}
	return nil
}

func getMempolicy(addr uintptr, flags int) (int, nodeMask, error) {
	var mode int32
	mask := make(nodeMask, maxNodes/64)
	_, _, errno := unix.Syscall6(unix.SYS_GET_MEMPOLICY,
		uintptr(unsafe.Pointer(&mode)), uintptr(mask.ptr()), uintptr(maxNodes), addr, uintptr(flags), 0)
	runtime.KeepAlive(mask)
	if errno != 0 {
		return 0, nil, errno
	}
	return int(mode), mask, nil
}

func (l *Linux) SetMemBind(scope Scope, nodes *bitmap.Bitmap, policy model.MemBindPolicy, flags model.MemBindFlags) error {
	if scope.Kind != ScopeSelf || flags&model.MemBindProcess != 0 {
		return fmt.Errorf("%w: memory binding of %s (linux policies are per thread)", ErrNotSupported, scope)
	}
	mode, mask, err := l.memArgs(nodes, policy, flags)
	if err != nil {
		return err
	}
	oldMode, oldMask, err := getMempolicy(0, 0)
	if err != nil {
		return translate("get_mempolicy", err)
	}
	if err := setMempolicy(mode, mask); err != nil {
		if errors.Is(err, unix.EINVAL) && mode == mpolWeightedInterleave {
			return fmt.Errorf("%w: weighted interleave needs a newer kernel", ErrNotSupported)
		}
		return translate("set_mempolicy", err)
	}
	if flags&model.MemBindMigrate == 0 || mask == nil {
		return nil
	}
	full := make(nodeMask, maxNodes/64)
	for i := range full {
		full[i] = ^uint64(0)
	}
	fp, fn := maskArgs(full)
	np, _ := maskArgs(mask)
	_, _, errno := unix.Syscall6(unix.SYS_MIGRATE_PAGES, 0, fn, fp, np, 0, 0)
	runtime.KeepAlive(full)
	runtime.KeepAlive(mask)
	if errno != 0 {
		if oldMode == mpolDefault {
			oldMask = nil
		}
		_ = setMempolicy(oldMode, oldMask)
		return translate("migrate_pages", errno)
	}
	return nil
}

func (l *Linux) GetMemBind(scope Scope, flags model.MemBindFlags) (*bitmap.Bitmap, model.MemBindPolicy, error) {
	if scope.Kind != ScopeSelf || flags&model.MemBindProcess != 0 {
		return nil, 0, fmt.Errorf("%w: memory binding of %s (linux policies are per thread)", ErrNotSupported, scope)
	}
	mode, mask, err := getMempolicy(0, 0)
	if err != nil {
		return nil, 0, translate("get_mempolicy", err)
	}
	if mode == mpolDefault || mode == mpolLocal {
		// No node restriction; the caller substitutes the machine nodeset.
		return bitmap.New(), model.MemBindFirstTouch, nil
	}
	return mask.bitmap(), fromLinuxPolicy(mode), nil
}

// pageRange widens area to whole pages.
func pageRange(area []byte) (uintptr, uintptr, error) {
	if len(area) == 0 {
		return 0, 0, fmt.Errorf("%w: empty area", ErrInvalidArgument)
	}
	page := uintptr(os.Getpagesize())
	start := uintptr(unsafe.Pointer(unsafe.SliceData(area)))
	end := start + uintptr(len(area))
	start &^= page - 1
	end = (end + page - 1) &^ (page - 1)
	return start, end - start, nil
}

func mbind(addr, length uintptr, mode int, mask nodeMask, flags model.MemBindFlags) error {
	var mf uintptr
	if flags&model.MemBindStrict != 0 {
		mf |= mpolMFStrict
	}
	if flags&model.MemBindMigrate != 0 {
		mf |= mpolMFMove
	}
	p, n := maskArgs(mask)
	_, _, errno := unix.Syscall6(unix.SYS_MBIND, addr, length, uintptr(mode), p, n, mf)
	runtime.KeepAlive(mask)
	if errno != 0 {
		return errno
	}
	return nil
}

func (l *Linux) SetAreaMemBind(area []byte, nodes *bitmap.Bitmap, policy model.MemBindPolicy, flags model.MemBindFlags) error {
	addr, length, err := pageRange(area)
	if err != nil {
		return err
	}
	mode, mask, err := l.memArgs(nodes, policy, flags)
	if err != nil {
		return err
	}
	return translate("mbind", mbind(addr, length, mode, mask, flags))
}

func (l *Linux) GetAreaMemBind(area []byte, flags model.MemBindFlags) (*bitmap.Bitmap, model.MemBindPolicy, error) {
	addr, length, err := pageRange(area)
	if err != nil {
		return nil, 0, err
	}
	page := uintptr(os.Getpagesize())
	nodes := bitmap.New()
	policy := model.MemBindPolicy(0)
	first := true
	for p := addr; p < addr+length; p += page {
		mode, mask, err := getMempolicy(p, mpolFAddr)
		if err != nil {
			return nil, 0, translate("get_mempolicy", err)
		}
		pp := fromLinuxPolicy(mode)
		switch {
		case first:
			policy, first = pp, false
		case pp != policy:
			policy = model.MemBindMixed
		}
		nodes.UnionWith(mask.bitmap())
	}
	return nodes, policy, nil
}

func (l *Linux) AreaMemLocation(area []byte, flags model.MemBindFlags) (*bitmap.Bitmap, error) {
	addr, length, err := pageRange(area)
	if err != nil {
		return nil, err
	}
	page := uintptr(os.Getpagesize())
	count := int(length / page)
	pages := make([]uintptr, count)
	status := make([]int32, count)
	for i := range pages {
		pages[i] = addr + uintptr(i)*page
	}
	_, _, errno := unix.Syscall6(unix.SYS_MOVE_PAGES, 0, uintptr(count),
		uintptr(unsafe.Pointer(&pages[0])), 0, uintptr(unsafe.Pointer(&status[0])), 0)
	if errno != 0 {
		return nil, translate("move_pages", errno)
	}
	set := bitmap.New()
	for _, s := range status {
		// Negative entries are pages not yet faulted in.
		if s >= 0 {
			_ = set.Set(int(s))
		}
	}
	return set, nil
}

func (l *Linux) Alloc(size int, nodes *bitmap.Bitmap, policy model.MemBindPolicy, flags model.MemBindFlags) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidArgument, size)
	}
	mode, mask, err := l.memArgs(nodes, policy, flags)
	if err != nil {
		return nil, err
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, translate("mmap", err)
	}
	addr, length, _ := pageRange(data)
	if err := mbind(addr, length, mode, mask, flags); err != nil {
		_ = unix.Munmap(data)
		return nil, translate("mbind", err)
	}
	return data, nil
}

func (l *Linux) Free(area []byte) error {
	return translate("munmap", unix.Munmap(area))
}
