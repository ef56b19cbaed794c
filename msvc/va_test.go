package msvc

import (
	"testing"

	"github.com/wnxd/microdbg-windows/internal/emutest"
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
	emu_x86 "github.com/wnxd/microdbg/emulator/x86"
)

const stackBase = 0x10000

func newStack(arch emulator.Arch) *emutest.Emulator {
	emu := emutest.New(arch)
	emu.Map(stackBase, 0x1000)
	return emu
}

func TestStdcallArgs(t *testing.T) {
	emu := newStack(emulator.ARCH_X86)
	sp := uint64(stackBase + 0x100)
	slots := []uint64{0x401000, 7, 0xdeadbeef, 0x11111111, 0x22222222}
	for i, v := range slots {
		emu.PutUint(sp+uint64(i)*4, 4, v)
	}

	args, err := NewArgs(emu, debugger.Calling_Stdcall, sp)
	if err != nil {
		t.Fatalf("NewArgs() error = %v", err)
	}
	var (
		a uint32
		b uintptr
		c uint64
	)
	if err = args.Extract(&a, &b, &c); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if a != 7 || b != 0xdeadbeef || c != 0x2222222211111111 {
		t.Errorf("Extract() = %#x, %#x, %#x", a, b, c)
	}
	if got := args.Consumed(); got != 4 {
		t.Errorf("Consumed() = %d, want 4", got)
	}
}

func TestFastcallArgs(t *testing.T) {
	emu := newStack(emulator.ARCH_X86)
	sp := uint64(stackBase + 0x100)
	emu.RegWrite(emu_x86.X86_REG_ECX, 1)
	emu.RegWrite(emu_x86.X86_REG_EDX, 2)
	emu.PutUint(sp+4, 4, 3)

	args, err := NewArgs(emu, debugger.Calling_Fastcall, sp)
	if err != nil {
		t.Fatalf("NewArgs() error = %v", err)
	}
	var a, b, c uint32
	if err = args.Extract(&a, &b, &c); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if a != 1 || b != 2 || c != 3 {
		t.Errorf("Extract() = %d, %d, %d", a, b, c)
	}
}

func TestX64Args(t *testing.T) {
	emu := newStack(emulator.ARCH_X86_64)
	sp := uint64(stackBase + 0x100)
	regs := []emulator.Reg{emu_x86.X86_REG_RCX, emu_x86.X86_REG_RDX, emu_x86.X86_REG_R8, emu_x86.X86_REG_R9}
	for i, reg := range regs {
		emu.RegWrite(reg, uint64(i+1)<<32|uint64(i+1))
	}
	emu.PutUint(sp+0x28, 8, 5)
	emu.PutUint(sp+0x30, 8, 6)

	args, err := NewArgs(emu, debugger.Calling_Default, sp)
	if err != nil {
		t.Fatalf("NewArgs() error = %v", err)
	}
	var (
		a uint32
		b uint64
		c uintptr
		d uint8
		e uint64
		f uint32
	)
	if err = args.Extract(&a, &b, &c, &d, &e, &f); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if a != 1 || b != 0x200000002 || c != 0x300000003 || d != 4 || e != 5 || f != 6 {
		t.Errorf("Extract() = %#x %#x %#x %#x %#x %#x", a, b, c, d, e, f)
	}
	if got := args.Consumed(); got != 6 {
		t.Errorf("Consumed() = %d, want 6", got)
	}
}

func TestStore(t *testing.T) {
	tests := []struct {
		name string
		arch emulator.Arch
		read func(emu *emutest.Emulator, sp uint64) (uint64, uint64)
	}{
		{
			name: "x86",
			arch: emulator.ARCH_X86,
			read: func(emu *emutest.Emulator, sp uint64) (uint64, uint64) {
				return emu.Uint(sp+4, 4), emu.Uint(sp+8, 4)
			},
		},
		{
			name: "x86_64",
			arch: emulator.ARCH_X86_64,
			read: func(emu *emutest.Emulator, sp uint64) (uint64, uint64) {
				rcx, _ := emu.RegRead(emu_x86.X86_REG_RCX)
				rdx, _ := emu.RegRead(emu_x86.X86_REG_RDX)
				return rcx, rdx
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emu := newStack(tt.arch)
			sp := uint64(stackBase + 0x100)
			args, err := NewArgs(emu, debugger.Calling_Stdcall, sp)
			if err != nil {
				t.Fatalf("NewArgs() error = %v", err)
			}
			if err = args.Store(uintptr(0x5000), uintptr(0x6000)); err != nil {
				t.Fatalf("Store() error = %v", err)
			}
			a, b := tt.read(emu, sp)
			if a != 0x5000 || b != 0x6000 {
				t.Errorf("stored %#x, %#x", a, b)
			}
		})
	}
}

func TestSlot(t *testing.T) {
	emu := newStack(emulator.ARCH_X86_64)
	emu.PutUint(stackBase, 8, 0xffffffff00000001)
	emu.PutUint(stackBase+8, 8, 2)

	va, err := NewVaList(emu, stackBase)
	if err != nil {
		t.Fatalf("NewVaList() error = %v", err)
	}
	var low uint32
	if err = va.Extract(&low); err != nil {
		t.Fatal(err)
	}
	v, err := va.Slot()
	if err != nil || v != 2 || low != 1 {
		t.Errorf("Slot() = %#x, %v (first %#x)", v, err, low)
	}
	if got := va.Consumed(); got != 2 {
		t.Errorf("Consumed() = %d, want 2", got)
	}
}

func TestUnsupportedArch(t *testing.T) {
	emu := emutest.New(emulator.ARCH_ARM64)
	if _, err := NewArgs(emu, debugger.Calling_Default, 0x1000); err != emulator.ErrArchUnsupported {
		t.Errorf("NewArgs() error = %v, want %v", err, emulator.ErrArchUnsupported)
	}
}
