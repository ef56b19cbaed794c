package windows

import (
	"github.com/wnxd/microdbg/debugger"
)

type Routine interface {
	Name() string
	Calling() debugger.Calling
	Passthru() bool
	Call(ctx Context) (uint64, error)
}

type Exports interface {
	Get(name string) Routine
}

type Kernel interface {
	Exports() Exports
	Invoke(name string) error
	Bind(name string) (uint64, error)
}
