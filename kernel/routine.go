package kernel

import (
	"reflect"
	"unsafe"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
	"github.com/wnxd/microdbg/debugger"
	"go.uber.org/zap"
)

type handler[P any] func(ctx windows.Context, p *P) (uint64, error)

type routine[P any] struct {
	name     string
	calling  debugger.Calling
	passthru bool
	result   int
	schema   schema
	fn       handler[P]
}

func newRoutine[P any](name string, calling debugger.Calling, fn handler[P]) *routine[P] {
	return &routine[P]{
		name:    name,
		calling: calling,
		result:  4,
		schema:  newSchema(name, reflect.TypeFor[P]()),
		fn:      fn,
	}
}

func stdcall[P any](name string, fn handler[P]) *routine[P] {
	return newRoutine(name, debugger.Calling_Stdcall, fn)
}

func cdecl[P any](name string, fn handler[P]) *routine[P] {
	return newRoutine(name, debugger.Calling_Cdecl, fn)
}

func fastcall[P any](name string, fn handler[P]) *routine[P] {
	return newRoutine(name, debugger.Calling_Fastcall, fn)
}

// passthru declares a routine that is only observed: its arguments are decoded and
// logged, and the native implementation runs untouched.
func passthru[P any](name string, calling debugger.Calling) *routine[P] {
	r := newRoutine[P](name, calling, nil)
	r.passthru = true
	return r
}

// wide marks a routine returning a 64-bit value, which x86 splits over EDX:EAX.
func (r *routine[P]) wide() *routine[P] {
	r.result = 8
	return r
}

func (r *routine[P]) Name() string {
	return r.name
}

func (r *routine[P]) Calling() debugger.Calling {
	return r.calling
}

func (r *routine[P]) Passthru() bool {
	return r.passthru
}

func (r *routine[P]) ResultSize() int {
	return r.result
}

func (r *routine[P]) Call(ctx windows.Context) (uint64, error) {
	p := new(P)
	if err := r.schema.decode(ctx, r.name, unsafe.Pointer(p)); err != nil {
		return 0, errors.Marshal(r.name, err)
	}
	Logger().Debug("call",
		zap.String("routine", r.name),
		zap.Uint64("ret", ctx.ReturnAddress()),
		zap.Any("params", p),
	)
	if r.fn == nil {
		return 0, nil
	}
	return r.fn(ctx, p)
}
