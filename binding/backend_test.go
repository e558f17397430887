package binding

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/hwtopo/model"
)

func TestSupportQueries(t *testing.T) {
	s := Support{
		CPU: CPUSupport{SetThisThread: true, GetProcess: true, LastCPUThisProcess: true},
		Mem: MemSupport{SetThisThread: true, GetThisThread: true, Bind: true},
	}

	assert.True(t, s.SetCPU(Self(), model.CPUBindThread))
	assert.False(t, s.SetCPU(Self(), 0))
	assert.False(t, s.SetCPU(Thread(3), 0))
	assert.True(t, s.GetCPU(Process(3), 0))
	assert.True(t, s.LastCPU(Self(), 0))
	assert.False(t, s.LastCPU(Thread(3), 0))

	// Without a scope flag either process or thread support is enough.
	assert.True(t, s.SetMem(Self(), 0))
	assert.False(t, s.SetMem(Self(), model.MemBindProcess))
	assert.True(t, s.GetMem(Self(), model.MemBindThread))
	assert.False(t, s.SetMem(Process(3), 0))

	assert.True(t, s.Policy(model.MemBindDefault))
	assert.True(t, s.Policy(model.MemBindBind))
	assert.False(t, s.Policy(model.MemBindInterleave))
	assert.ErrorIs(t, s.CheckMem(model.MemBindNextTouch, 0), ErrNotSupported)
	assert.ErrorIs(t, s.CheckMem(model.MemBindBind, model.MemBindMigrate), ErrNotSupported)
	assert.NoError(t, s.CheckMem(model.MemBindBind, model.MemBindStrict))
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "self", Self().String())
	assert.Equal(t, "pid 7", Process(7).String())
	assert.Equal(t, "tid 9", Thread(9).String())
}

func TestPlatformError(t *testing.T) {
	err := &PlatformError{Op: "mbind", Code: 12, Message: "cannot allocate memory"}
	assert.Equal(t, "binding: mbind failed: cannot allocate memory (code 12)", err.Error())
}
