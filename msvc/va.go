// Package msvc reads and writes call arguments the way the Microsoft compilers lay them out
// for x86 and x86-64 Windows, and formats printf-family output from them.
package msvc

import (
	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
)

// x64 callers reserve 0x20 bytes of home space above the return address.
const shadowSpace = 0x20

// NewArgs returns a cursor over the arguments of a call whose return address sits at sp.
func NewArgs(emu emulator.Emulator, calling debugger.Calling, sp uint64) (windows.Args, error) {
	return NewArgsOf(emu, emu, calling, sp)
}

// NewArgsOf is NewArgs with registers taken from ctx instead of the emulator.
func NewArgsOf(emu emulator.Emulator, ctx emulator.RegisterContext, calling debugger.Calling, sp uint64) (windows.Args, error) {
	switch emu.Arch() {
	case emulator.ARCH_X86:
		switch calling {
		case debugger.Calling_Default, debugger.Calling_Cdecl, debugger.Calling_Stdcall:
			return NewStdVaList(emu, sp+4, 4)
		case debugger.Calling_Fastcall:
			return newRegStream(emu, ctx, fastcallRegs, sp+4, 4), nil
		}
		return nil, debugger.ErrCallingUnsupported
	case emulator.ARCH_X86_64:
		regs := x86_64Registers.Args
		return newRegStream(emu, ctx, regs, sp+8+shadowSpace, 8), nil
	}
	return nil, emulator.ErrArchUnsupported
}

// NewVaList wraps a guest va_list, which on both architectures is a pointer to stack slots.
func NewVaList(emu emulator.Emulator, ptr uint64) (windows.Args, error) {
	size := PointerSize(emu.Arch())
	if size == 0 {
		return nil, emulator.ErrArchUnsupported
	}
	return NewStdVaList(emu, ptr, size)
}
