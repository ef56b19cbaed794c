package kernel

import (
	"sync"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
	"github.com/wnxd/microdbg-windows/msvc"
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
	"go.uber.org/zap"
)

// Heap is the guest allocator the kernel hands memory out of.
type Heap interface {
	MemAlloc(size uint64) (uint64, error)
	MemFree(addr uint64) error
}

// Loader is the part of the image loader the kernel needs.
type Loader interface {
	// ImportAddress looks name up in the import table recorded for image.
	ImportAddress(image, name string) (uint64, bool)
	FindModule(name string) (debugger.Module, error)
	RegisterSymbol(addr uint64, name string)
	DriverObject() uint64
	RegistryPath() uint64
}

// FaultVerifier decides whether an error stopping a reentrant run is benign.
// Returning nil accepts the run.
type FaultVerifier interface {
	Verify(err error) error
}

type FaultVerifierFunc func(err error) error

func (f FaultVerifierFunc) Verify(err error) error {
	return f(err)
}

var DefaultVerifier FaultVerifier = FaultVerifierFunc(func(err error) error {
	if err == nil || errors.Is(err, debugger.ErrEmulatorStop) {
		return nil
	}
	return err
})

type binding struct {
	addr    uint64
	handler interface{ Close() error }
}

type Kernel struct {
	emu   emulator.Emulator
	hooks debugger.HookManger
	regs  msvc.Registers
	nt    *Ntoskrnl

	mu    sync.Mutex
	binds map[string]binding
}

var _ windows.Kernel = (*Kernel)(nil)

// New builds a kernel on a bare emulator. Bind is unavailable without hooks.
func New(emu emulator.Emulator, heap Heap, loader Loader, opts *Options) (*Kernel, error) {
	return newKernel(emu, nil, heap, loader, opts)
}

// NewKernel builds a kernel on a debugger, which serves as heap and hook manager.
func NewKernel(dbg debugger.Debugger, loader Loader, opts *Options) (*Kernel, error) {
	return newKernel(dbg.Emulator(), dbg, dbg, loader, opts)
}

func newKernel(emu emulator.Emulator, hooks debugger.HookManger, heap Heap, loader Loader, opts *Options) (*Kernel, error) {
	regs, err := msvc.RegistersOf(emu.Arch())
	if err != nil {
		return nil, errors.ErrUnsupported
	}
	k := &Kernel{
		emu:   emu,
		hooks: hooks,
		regs:  regs,
		binds: make(map[string]binding),
	}
	k.nt = NewNtoskrnl(heap, loader, opts)
	if hooks != nil {
		k.nt.resolver.onSynthesize = k.hookSynthesized
	}
	return k, nil
}

func (k *Kernel) Close() error {
	k.mu.Lock()
	for name, b := range k.binds {
		b.handler.Close()
		delete(k.binds, name)
	}
	k.mu.Unlock()
	return k.nt.Close()
}

func (k *Kernel) Exports() windows.Exports {
	return k.nt
}

func (k *Kernel) Ntoskrnl() *Ntoskrnl {
	return k.nt
}

// Invoke performs one intercepted call to name. The emulator must be stopped at the
// first instruction of the routine, with the return address on top of the stack.
func (k *Kernel) Invoke(name string) error {
	return k.invoke(k.emu, name)
}

func (k *Kernel) invoke(regs emulator.RegisterContext, name string) error {
	r := k.nt.Get(name)
	if r == nil {
		return errors.NotFound(errors.PhaseDispatch, "routine "+name)
	}
	sp, err := regs.RegRead(k.regs.SP)
	if err != nil {
		return errors.Marshal(name, err)
	}
	ret, err := memReadPtr(k.emu, k.regs.PointerSize, sp)
	if err != nil {
		return errors.Marshal(name, err)
	}
	args, err := msvc.NewArgsOf(k.emu, regs, r.Calling(), sp)
	if err != nil {
		return errors.Marshal(name, err)
	}
	f := &frame{
		emu:     k.emu,
		regs:    regs,
		layout:  k.regs,
		routine: name,
		calling: r.Calling(),
		sp:      sp,
		ret:     ret,
		args:    args,
	}
	k.nt.cur.push(f)
	defer k.nt.cur.pop()

	result, err := r.Call(f)
	if err != nil {
		return err
	}
	if r.Passthru() {
		return nil
	}
	return k.leave(f, r, result)
}

// leave writes the result, drops the callee-cleaned slots and returns to the caller.
func (k *Kernel) leave(f *frame, r windows.Routine, result uint64) error {
	regs := []emulator.Reg{k.regs.Ret}
	vals := []uint64{result}
	if k.regs.PointerSize == 4 {
		vals[0] = result & 0xffffffff
		if sized, ok := r.(interface{ ResultSize() int }); ok && sized.ResultSize() == 8 {
			regs = append(regs, k.regs.RetHigh)
			vals = append(vals, result>>32)
		}
	}
	var cleanup uint64
	if k.regs.PointerSize == 4 {
		switch f.calling {
		case debugger.Calling_Stdcall:
			cleanup = uint64(f.args.Consumed()) * 4
		case debugger.Calling_Fastcall:
			// ECX and EDX carry the first two slots.
			cleanup = uint64(max(f.args.Consumed()-2, 0)) * 4
		}
	}
	regs = append(regs, k.regs.SP, k.regs.PC)
	vals = append(vals, f.sp+k.regs.PointerSize+cleanup, f.ret)
	if err := f.regs.RegWriteBatch(regs, vals); err != nil {
		return errors.Marshal(f.routine, err)
	}
	return nil
}

// Bind returns the address an import of name should resolve to.
func (k *Kernel) Bind(name string) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if b, ok := k.binds[name]; ok {
		return b.addr, nil
	}
	if k.hooks == nil {
		return 0, errors.New(errors.PhaseBind, errors.KindUnsupported).Routine(name).Detail("kernel has no hook manager").Build()
	}
	r := k.nt.Get(name)
	if r == nil {
		return 0, errors.NotFound(errors.PhaseBind, "routine "+name)
	}
	var b binding
	if r.Passthru() {
		addr, err := k.nt.resolver.nativeExport(name)
		if err != nil {
			return 0, err
		}
		h, err := k.hooks.AddHook(emulator.HOOK_TYPE_CODE, debugger.CodeCallback(k.handleCode), name, addr, addr+1)
		if err != nil {
			return 0, errors.New(errors.PhaseBind, errors.KindInvalidInput).Routine(name).Cause(err).Build()
		}
		b = binding{addr: addr, handler: h}
	} else {
		h, err := k.hooks.AddControl(k.handleControl, name)
		if err != nil {
			return 0, errors.New(errors.PhaseBind, errors.KindInvalidInput).Routine(name).Cause(err).Build()
		}
		b = binding{addr: h.Addr(), handler: h}
	}
	k.binds[name] = b
	Logger().Debug("bind", zap.String("routine", name), zap.Uint64("addr", b.addr), zap.Bool("passthru", r.Passthru()))
	return b.addr, nil
}

func (k *Kernel) hookSynthesized(addr uint64, name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.binds[name]; ok {
		return
	}
	h, err := k.hooks.AddHook(emulator.HOOK_TYPE_CODE, debugger.CodeCallback(k.handleCode), name, addr, addr+1)
	if err != nil {
		Logger().Warn("hook synthesized symbol", zap.String("routine", name), zap.Error(err))
		return
	}
	k.binds[name] = binding{addr: addr, handler: h}
}

func (k *Kernel) handleControl(ctx debugger.Context, data any) {
	if err := k.invoke(ctx, data.(string)); err != nil {
		panic(err)
	}
}

func (k *Kernel) handleCode(ctx debugger.Context, addr, size uint64, data any) {
	if err := k.invoke(ctx, data.(string)); err != nil {
		panic(err)
	}
}
