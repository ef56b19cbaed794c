package kernel

import (
	"testing"

	"github.com/wnxd/microdbg-windows/errors"
	"github.com/wnxd/microdbg-windows/internal/emutest"
	"github.com/wnxd/microdbg-windows/msvc"
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
	emu_x86 "github.com/wnxd/microdbg/emulator/x86"
)

const (
	stackBase  = 0x10000
	stackSize  = 0x2000
	dataBase   = 0x30000
	dataSize   = 0x4000
	heapBase   = 0x100000
	heapSize   = 0x40000
	hookBase   = 0x7f000000
	imageBase  = 0x80400000
	returnAddr = 0x401234
)

type fixture struct {
	t      *testing.T
	emu    *emutest.Emulator
	heap   *emutest.Heap
	loader *emutest.Loader
	hooks  *emutest.Hooks
	regs   msvc.Registers
	k      *Kernel
	nt     *Ntoskrnl
	data   uint64
}

func newFixture(t *testing.T, arch emulator.Arch, opts *Options) *fixture {
	t.Helper()
	emu := emutest.New(arch)
	emu.Map(stackBase, stackSize)
	emu.Map(dataBase, dataSize)
	f := &fixture{
		t:      t,
		emu:    emu,
		heap:   emutest.NewHeap(emu, heapBase, heapSize),
		loader: emutest.NewLoader(),
		hooks:  emutest.NewHooks(hookBase),
		data:   dataBase,
	}
	var err error
	if f.regs, err = msvc.RegistersOf(arch); err != nil {
		t.Fatalf("RegistersOf() error = %v", err)
	}
	if f.k, err = newKernel(emu, f.hooks, f.heap, f.loader, opts); err != nil {
		t.Fatalf("newKernel() error = %v", err)
	}
	f.nt = f.k.Ntoskrnl()
	t.Cleanup(func() { f.k.Close() })
	return f
}

// alloc hands out zeroed scratch memory.
func (f *fixture) alloc(size uint64) uint64 {
	addr := f.data
	f.data = debugger.Align(f.data+size, 0x10)
	if f.data > dataBase+dataSize {
		f.t.Fatal("scratch memory exhausted")
	}
	return addr
}

func (f *fixture) ptr(addr uint64) uint64 {
	return f.emu.Uint(addr, f.regs.PointerSize)
}

func (f *fixture) cstring(s string) uint64 {
	addr := f.alloc(uint64(len(s)) + 1)
	f.emu.MemWrite(addr, []byte(s))
	return addr
}

// unicode builds a UNICODE_STRING and returns its address.
func (f *fixture) unicode(s string) uint64 {
	raw, err := msvc.EncodeWide(s)
	if err != nil {
		f.t.Fatalf("EncodeWide(%q) error = %v", s, err)
	}
	buf := f.alloc(uint64(len(raw)) + 2)
	f.emu.MemWrite(buf, raw)
	size := f.regs.PointerSize
	addr := f.alloc(2 * size)
	f.emu.PutUint(addr, 2, uint64(len(raw)))
	f.emu.PutUint(addr+2, 2, uint64(len(raw))+2)
	f.emu.PutUint(addr+size, size, buf)
	return addr
}

// setup lays out a call to name with its return address at sp and the arguments
// where the routine's convention expects them.
func (f *fixture) setup(name string, sp uint64, args ...uint64) {
	f.t.Helper()
	r := f.nt.Get(name)
	if r == nil {
		f.t.Fatalf("routine %s not registered", name)
	}
	size := f.regs.PointerSize
	f.emu.PutUint(sp, size, returnAddr)
	regs := f.regs.Args
	stack := sp + size
	if size == 8 {
		stack += 0x20
	} else if r.Calling() == debugger.Calling_Fastcall {
		regs = []emulator.Reg{emu_x86.X86_REG_ECX, emu_x86.X86_REG_EDX}
	}
	for i, v := range args {
		if i < len(regs) {
			f.emu.RegWrite(regs[i], v)
			continue
		}
		f.emu.PutUint(stack+uint64(i-len(regs))*size, size, v)
	}
	f.emu.RegWrite(f.regs.SP, sp)
}

const callSP = stackBase + stackSize - 0x400

func (f *fixture) invoke(name string, args ...uint64) error {
	f.t.Helper()
	f.setup(name, callSP, args...)
	return f.k.Invoke(name)
}

// call invokes name and returns the value left in the result register.
func (f *fixture) call(name string, args ...uint64) uint64 {
	f.t.Helper()
	if err := f.invoke(name, args...); err != nil {
		f.t.Fatalf("Invoke(%s) error = %v", name, err)
	}
	ret, _ := f.emu.RegRead(f.regs.Ret)
	return ret
}

func (f *fixture) reg(reg emulator.Reg) uint64 {
	v, _ := f.emu.RegRead(reg)
	return v
}

func TestNewUnsupportedArch(t *testing.T) {
	emu := emutest.New(emulator.ARCH_ARM64)
	_, err := New(emu, nil, nil, nil)
	if !errors.Is(err, errors.ErrUnsupported) {
		t.Fatalf("New() error = %v, want ErrUnsupported", err)
	}
}

func TestInvokeCleanup(t *testing.T) {
	tests := []struct {
		name    string
		arch    emulator.Arch
		routine string
		args    []uint64
		want    uint64
		popped  uint64
	}{
		{"x86 stdcall", emulator.ARCH_X86, "KeQueryTimeIncrement", nil, timeIncrement, 0},
		{"x86 stdcall args", emulator.ARCH_X86, "ZwClose", []uint64{0x1234}, uint64(0xC0000008), 4},
		{"x86 cdecl", emulator.ARCH_X86, "DbgPrint", []uint64{0}, 6, 0},
		{"x86 fastcall", emulator.ARCH_X86, "ObfDereferenceObject", []uint64{0x5000}, 0, 0},
		{"x64", emulator.ARCH_X86_64, "ZwClose", []uint64{0x1234}, uint64(0xC0000008), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.arch, nil)
			got := f.call(tt.routine, tt.args...)
			if got != tt.want {
				t.Errorf("result = %#x, want %#x", got, tt.want)
			}
			if sp := f.reg(f.regs.SP); sp != callSP+f.regs.PointerSize+tt.popped {
				t.Errorf("SP = %#x, want %#x", sp, callSP+f.regs.PointerSize+tt.popped)
			}
			if pc := f.reg(f.regs.PC); pc != returnAddr {
				t.Errorf("PC = %#x, want %#x", pc, returnAddr)
			}
		})
	}
}

func TestInvokeWideResult(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86, nil)

	f.emu.RegWrite(f.regs.RetHigh, 0xdead)
	f.call("KeQueryTimeIncrement")
	if edx := f.reg(f.regs.RetHigh); edx != 0xdead {
		t.Errorf("32-bit result touched EDX: %#x", edx)
	}

	freq := f.alloc(8)
	f.call("KeQueryPerformanceCounter", freq)
	if edx := f.reg(f.regs.RetHigh); edx == 0xdead {
		t.Error("64-bit result left EDX untouched")
	}
	if got := f.emu.Uint(freq, 8); got != performanceFrequency {
		t.Errorf("frequency = %d, want %d", got, performanceFrequency)
	}
	if sp := f.reg(f.regs.SP); sp != callSP+8 {
		t.Errorf("SP = %#x, want %#x", sp, callSP+8)
	}
}

func TestInvokeUnknownRoutine(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86, nil)
	f.emu.RegWrite(f.regs.SP, callSP)
	err := f.k.Invoke("NtNoSuchRoutine")
	if !errors.Is(err, errors.New(errors.PhaseDispatch, errors.KindNotFound).Build()) {
		t.Fatalf("Invoke() error = %v, want dispatch not_found", err)
	}
}

func TestInvokePassthru(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86, nil)
	dst := f.alloc(8)
	src := f.cstring("\x00")
	f.emu.RegWrite(f.regs.PC, 0x80401000)
	f.emu.RegWrite(f.regs.Ret, 0x55)

	if err := f.invoke("RtlInitUnicodeString", dst, src); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if sp := f.reg(f.regs.SP); sp != callSP {
		t.Errorf("SP = %#x, want unchanged %#x", sp, callSP)
	}
	if pc := f.reg(f.regs.PC); pc != 0x80401000 {
		t.Errorf("PC = %#x, want unchanged", pc)
	}
	if eax := f.reg(f.regs.Ret); eax != 0x55 {
		t.Errorf("EAX = %#x, want unchanged", eax)
	}
}

func TestRoutineTable(t *testing.T) {
	nt := NewNtoskrnl(nil, nil, nil)
	defer nt.Close()

	for _, name := range []string{
		"DbgPrint", "IoCreateDevice", "IoCreateDriver", "ExAllocatePoolWithTag",
		"MmGetSystemRoutineAddress", "NtQuerySystemInformation", "RtlGetVersion",
		"ZwSetInformationThread", "PsCreateSystemThread", "KeWaitForSingleObject",
	} {
		r := nt.Get(name)
		if r == nil {
			t.Errorf("%s missing", name)
			continue
		}
		if r.Passthru() {
			t.Errorf("%s should be emulated", name)
		}
	}
	for _, name := range []string{"RtlInitUnicodeString", "ObfReferenceObject", "_vsnwprintf"} {
		if r := nt.Get(name); r == nil || !r.Passthru() {
			t.Errorf("%s should be passthru", name)
		}
	}
	if r := nt.Get("DbgPrint"); r.Calling() != debugger.Calling_Cdecl {
		t.Errorf("DbgPrint calling = %v, want cdecl", r.Calling())
	}
	names := nt.Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("Names() not sorted at %q, %q", names[i-1], names[i])
		}
	}
}

type badParams struct {
	Name string
}

func TestRegistrationPanics(t *testing.T) {
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, errors.New(errors.PhaseRegistration, errors.KindInvalidType).Build()) {
			t.Fatalf("recover() = %v, want registration error", r)
		}
	}()
	stdcall[badParams]("Bad", nil)
}

func TestBind(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86, nil)
	native := uint64(imageBase + 0x100)
	f.loader.Modules = append(f.loader.Modules, &emutest.Module{
		ModuleName: "ntoskrnl.exe",
		Base:       imageBase,
		Size:       ntoskrnlSize,
		Exports:    map[string]uint64{"RtlInitUnicodeString": native},
	})

	addr, err := f.k.Bind("PsGetCurrentProcessId")
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if c, ok := f.hooks.Controls[addr]; !ok || c.Data != "PsGetCurrentProcessId" {
		t.Errorf("control at %#x = %+v", addr, c)
	}
	again, err := f.k.Bind("PsGetCurrentProcessId")
	if err != nil || again != addr || len(f.hooks.Controls) != 1 {
		t.Errorf("second Bind() = %#x, %v with %d controls", again, err, len(f.hooks.Controls))
	}

	addr, err = f.k.Bind("RtlInitUnicodeString")
	if err != nil {
		t.Fatalf("Bind(passthru) error = %v", err)
	}
	if addr != native {
		t.Errorf("Bind(passthru) = %#x, want native %#x", addr, native)
	}
	if c, ok := f.hooks.Code[native]; !ok || c.Data != "RtlInitUnicodeString" {
		t.Errorf("code hook at %#x = %+v", native, c)
	}

	if _, err = f.k.Bind("RtlCompareMemory"); !errors.Is(err, errors.New(errors.PhaseBind, errors.KindNotFound).Build()) {
		t.Errorf("Bind(no native) error = %v, want bind not_found", err)
	}
	if _, err = f.k.Bind("NtNoSuchRoutine"); !errors.Is(err, errors.New(errors.PhaseBind, errors.KindNotFound).Build()) {
		t.Errorf("Bind(unknown) error = %v, want bind not_found", err)
	}

	f.k.Close()
	if len(f.hooks.Controls) != 0 || len(f.hooks.Code) != 0 {
		t.Errorf("Close() left %d controls and %d code hooks", len(f.hooks.Controls), len(f.hooks.Code))
	}
}

func TestBindWithoutHooks(t *testing.T) {
	emu := emutest.New(emulator.ARCH_X86)
	k, err := New(emu, emutest.NewHeap(emu, heapBase, heapSize), nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer k.Close()
	if _, err = k.Bind("DbgPrint"); !errors.Is(err, errors.ErrUnsupported) {
		t.Fatalf("Bind() error = %v, want ErrUnsupported", err)
	}
}
