package kernel

import (
	"sync"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
	"go.uber.org/zap"
)

// process keeps one opaque EPROCESS stand-in per process id.
type process struct {
	rw     sync.RWMutex
	byPid  map[uint64]uint64
	pids   map[uint64]uint64
	images map[uint64]uint64
}

func (p *process) ctor() {
	p.byPid = make(map[uint64]uint64)
	p.pids = make(map[uint64]uint64)
	p.images = make(map[uint64]uint64)
}

func (p *process) dtor() {
	p.rw.Lock()
	p.byPid = nil
	p.pids = nil
	p.images = nil
	p.rw.Unlock()
}

// lookup returns the stand-in for pid, allocating and zeroing it on first use.
func (p *process) lookup(ctx windows.Context, heap Heap, pid uint64) (uint64, error) {
	p.rw.Lock()
	defer p.rw.Unlock()
	if addr, ok := p.byPid[pid]; ok {
		return addr, nil
	}
	size := uint64(EPROCESS_SIZE64)
	if ctx.PointerSize() == 4 {
		size = EPROCESS_SIZE32
	}
	addr, err := heap.MemAlloc(size)
	if err != nil {
		return 0, err
	}
	if err = memZero(ctx.Emulator(), addr, size); err != nil {
		heap.MemFree(addr)
		return 0, err
	}
	p.byPid[pid] = addr
	p.pids[addr] = pid
	return addr, nil
}

// ProcessID reports the id an EPROCESS stand-in was created for.
func (p *process) ProcessID(eprocess uint64) (uint64, bool) {
	p.rw.RLock()
	defer p.rw.RUnlock()
	pid, ok := p.pids[eprocess]
	return pid, ok
}

func (nt *Ntoskrnl) psGetCurrentProcess(ctx windows.Context, _ *none) (uint64, error) {
	addr, err := nt.process.lookup(ctx, nt.heap, uint64(nt.opts.ProcessID))
	if err != nil {
		return 0, errors.Marshal("PsGetCurrentProcess", err)
	}
	return addr, nil
}

func (nt *Ntoskrnl) psGetCurrentProcessId(ctx windows.Context, _ *none) (uint64, error) {
	return uint64(nt.opts.ProcessID), nil
}

type psLookupProcessByProcessIdParams struct {
	ProcessId HANDLE
	Process   PVOID
}

func (nt *Ntoskrnl) psLookupProcessByProcessId(ctx windows.Context, p *psLookupProcessByProcessIdParams) (uint64, error) {
	addr, err := nt.process.lookup(ctx, nt.heap, uint64(p.ProcessId))
	if err != nil {
		return 0, errors.Marshal("PsLookupProcessByProcessId", err)
	}
	if p.Process != 0 {
		if err = memWritePtr(ctx.Emulator(), ctx.PointerSize(), uint64(p.Process), addr); err != nil {
			return 0, errors.Marshal("PsLookupProcessByProcessId", err)
		}
	}
	Logger().Info("process lookup", zap.Uint64("pid", uint64(p.ProcessId)), zap.Uint64("eprocess", addr))
	return uint64(windows.STATUS_SUCCESS), nil
}

type processParams struct {
	Process PVOID
}

func (nt *Ntoskrnl) psGetProcessId(ctx windows.Context, p *processParams) (uint64, error) {
	pid, _ := nt.process.ProcessID(uint64(p.Process))
	return pid, nil
}

func (nt *Ntoskrnl) psGetProcessImageFileName(ctx windows.Context, p *processParams) (uint64, error) {
	nt.process.rw.Lock()
	defer nt.process.rw.Unlock()
	if addr, ok := nt.process.images[uint64(p.Process)]; ok {
		return addr, nil
	}
	emu := ctx.Emulator()
	addr, err := nt.heap.MemAlloc(IMAGE_NAME_SIZE)
	if err != nil {
		return emunullptr, nil
	}
	name := make([]byte, IMAGE_NAME_SIZE)
	copy(name[:IMAGE_NAME_SIZE-1], nt.opts.ImageFileName)
	if err = emu.MemWrite(addr, name); err != nil {
		return 0, errors.Marshal("PsGetProcessImageFileName", err)
	}
	nt.process.images[uint64(p.Process)] = addr
	return addr, nil
}

type ntTerminateProcessParams struct {
	ProcessHandle HANDLE
	ExitStatus    NTSTATUS
}

func (nt *Ntoskrnl) ntTerminateProcess(ctx windows.Context, p *ntTerminateProcessParams) (uint64, error) {
	Logger().Info("terminate process",
		zap.Uint64("handle", uint64(p.ProcessHandle)),
		zap.Stringer("status", windows.NTSTATUS(p.ExitStatus)),
	)
	return uint64(windows.STATUS_SUCCESS), nil
}
