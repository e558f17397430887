package binding

import (
	"fmt"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

type unsupported struct{}

// Unsupported returns a backend that rejects every request with
// ErrNotSupported.
func Unsupported() Backend { return unsupported{} }

func (unsupported) Name() string     { return "unsupported" }
func (unsupported) Support() Support { return Support{} }

func notSupported(op string) error {
	return fmt.Errorf("%w: %s", ErrNotSupported, op)
}

func (unsupported) SetCPUBind(Scope, *bitmap.Bitmap, model.CPUBindFlags) error {
	return notSupported("set cpu binding")
}

func (unsupported) GetCPUBind(Scope, model.CPUBindFlags) (*bitmap.Bitmap, error) {
	return nil, notSupported("get cpu binding")
}

func (unsupported) LastCPULocation(Scope, model.CPUBindFlags) (*bitmap.Bitmap, error) {
	return nil, notSupported("last cpu location")
}

func (unsupported) SetMemBind(Scope, *bitmap.Bitmap, model.MemBindPolicy, model.MemBindFlags) error {
	return notSupported("set memory binding")
}

func (unsupported) GetMemBind(Scope, model.MemBindFlags) (*bitmap.Bitmap, model.MemBindPolicy, error) {
	return nil, 0, notSupported("get memory binding")
}

func (unsupported) SetAreaMemBind([]byte, *bitmap.Bitmap, model.MemBindPolicy, model.MemBindFlags) error {
	return notSupported("set area memory binding")
}

func (unsupported) GetAreaMemBind([]byte, model.MemBindFlags) (*bitmap.Bitmap, model.MemBindPolicy, error) {
	return nil, 0, notSupported("get area memory binding")
}

func (unsupported) AreaMemLocation([]byte, model.MemBindFlags) (*bitmap.Bitmap, error) {
	return nil, notSupported("area memory location")
}

func (unsupported) Alloc(int, *bitmap.Bitmap, model.MemBindPolicy, model.MemBindFlags) ([]byte, error) {
	return nil, notSupported("bound allocation")
}

func (unsupported) Free([]byte) error { return nil }
