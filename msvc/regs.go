package msvc

import (
	"github.com/wnxd/microdbg/emulator"
	emu_x86 "github.com/wnxd/microdbg/emulator/x86"
)

// Registers names the registers a call site needs on one architecture.
type Registers struct {
	SP, PC  emulator.Reg
	Ret     emulator.Reg
	RetHigh emulator.Reg
	// Args are the integer argument registers in order; their slots come before the stack.
	Args        []emulator.Reg
	PointerSize uint64
}

var (
	x86Registers = Registers{
		SP:          emu_x86.X86_REG_ESP,
		PC:          emu_x86.X86_REG_EIP,
		Ret:         emu_x86.X86_REG_EAX,
		RetHigh:     emu_x86.X86_REG_EDX,
		PointerSize: 4,
	}
	x86_64Registers = Registers{
		SP:          emu_x86.X86_REG_RSP,
		PC:          emu_x86.X86_REG_RIP,
		Ret:         emu_x86.X86_REG_RAX,
		Args:        []emulator.Reg{emu_x86.X86_REG_RCX, emu_x86.X86_REG_RDX, emu_x86.X86_REG_R8, emu_x86.X86_REG_R9},
		PointerSize: 8,
	}
	fastcallRegs = []emulator.Reg{emu_x86.X86_REG_ECX, emu_x86.X86_REG_EDX}
)

func RegistersOf(arch emulator.Arch) (Registers, error) {
	switch arch {
	case emulator.ARCH_X86:
		return x86Registers, nil
	case emulator.ARCH_X86_64:
		return x86_64Registers, nil
	}
	return Registers{}, emulator.ErrArchUnsupported
}

func PointerSize(arch emulator.Arch) uint64 {
	switch arch {
	case emulator.ARCH_X86:
		return 4
	case emulator.ARCH_X86_64:
		return 8
	}
	return 0
}
