package windows

import (
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
)

type Context interface {
	Emulator() emulator.Emulator
	ToPointer(addr uint64) emulator.Pointer
	PointerSize() uint64
	Calling() debugger.Calling
	StackPointer() uint64
	ReturnAddress() uint64
	Args() Args
}
