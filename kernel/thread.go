package kernel

import (
	"sync"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
	"go.uber.org/zap"
)

// Identities handed out under ThreadIDSentinel.
const (
	SentinelProcessID    = 0x4141
	SentinelThreadID     = 0x1337
	SentinelThreadHandle = 0x31337
)

const ThreadHideFromDebugger = 0x11

// Thread is the bookkeeping of one PsCreateSystemThread call. Nothing runs it.
type Thread struct {
	ProcessID    uint64
	ThreadID     uint64
	Handle       uint64
	StartRoutine uint64
	StartContext uint64
	Hidden       bool
}

type thread struct {
	mu       sync.Mutex
	policy   string
	pid      uint64
	next     uint64
	current  uint64
	byHandle map[uint64]*Thread
}

func (t *thread) ctor(opts *Options) {
	t.policy = opts.ThreadIDPolicy
	t.byHandle = make(map[uint64]*Thread)
	if t.policy == ThreadIDSequential {
		t.pid = uint64(opts.ProcessID)
		t.current = t.pid + 4
		t.next = t.current + 4
	} else {
		t.pid = SentinelProcessID
		t.current = SentinelThreadID
	}
}

func (t *thread) dtor() {
	t.mu.Lock()
	t.byHandle = nil
	t.mu.Unlock()
}

// create issues the identity triple of a new thread and registers its handle.
func (t *thread) create(handles *handleTable, start, context uint64) *Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	th := &Thread{StartRoutine: start, StartContext: context}
	if t.policy == ThreadIDSequential {
		th.ProcessID = t.pid
		th.ThreadID = t.next
		t.next += 4
		th.Handle = handles.add(HandleThread, "thread", th.ThreadID).ID
	} else {
		th.ProcessID = SentinelProcessID
		th.ThreadID = SentinelThreadID
		th.Handle = SentinelThreadHandle
		handles.insert(&Handle{ID: SentinelThreadHandle, Kind: HandleThread, Name: "thread", Object: SentinelThreadID})
	}
	t.byHandle[th.Handle] = th
	return th
}

// Thread returns the record behind a thread handle.
func (t *thread) Thread(handle uint64) *Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byHandle[handle]
}

type psCreateSystemThreadParams struct {
	ThreadHandle     PVOID
	DesiredAccess    ULONG
	ObjectAttributes PVOID
	ProcessHandle    HANDLE
	ClientId         PVOID
	StartRoutine     PVOID
	StartContext     PVOID
}

func (nt *Ntoskrnl) psCreateSystemThread(ctx windows.Context, p *psCreateSystemThreadParams) (uint64, error) {
	const name = "PsCreateSystemThread"

	emu := ctx.Emulator()
	ptrSize := ctx.PointerSize()
	th := nt.thread.create(&nt.handles, uint64(p.StartRoutine), uint64(p.StartContext))
	if p.ClientId != 0 {
		if err := memWritePtr(emu, ptrSize, uint64(p.ClientId), th.ProcessID); err != nil {
			return 0, errors.Marshal(name, err)
		}
		if err := memWritePtr(emu, ptrSize, uint64(p.ClientId)+ptrSize, th.ThreadID); err != nil {
			return 0, errors.Marshal(name, err)
		}
	}
	if p.ThreadHandle != 0 {
		if err := memWritePtr(emu, ptrSize, uint64(p.ThreadHandle), th.Handle); err != nil {
			return 0, errors.Marshal(name, err)
		}
	}
	Logger().Info("system thread created",
		zap.Uint64("tid", th.ThreadID),
		zap.Uint64("handle", th.Handle),
		zap.Uint64("start", th.StartRoutine),
	)
	return uint64(windows.STATUS_SUCCESS), nil
}

type psTerminateSystemThreadParams struct {
	ExitStatus NTSTATUS
}

func (nt *Ntoskrnl) psTerminateSystemThread(ctx windows.Context, p *psTerminateSystemThreadParams) (uint64, error) {
	Logger().Info("terminate system thread", zap.Stringer("status", windows.NTSTATUS(p.ExitStatus)))
	return uint64(windows.STATUS_SUCCESS), nil
}

func (nt *Ntoskrnl) psGetCurrentThreadId(ctx windows.Context, _ *none) (uint64, error) {
	return nt.thread.current, nil
}

type zwSetInformationThreadParams struct {
	ThreadHandle            HANDLE
	ThreadInformationClass  THREADINFOCLASS
	ThreadInformation       PVOID
	ThreadInformationLength ULONG
}

func (nt *Ntoskrnl) zwSetInformationThread(ctx windows.Context, p *zwSetInformationThreadParams) (uint64, error) {
	h := uint64(p.ThreadHandle)
	th := nt.thread.Thread(h)
	if th == nil && !isPseudoHandle(ctx, h, NtCurrentThread) {
		return uint64(windows.STATUS_INVALID_HANDLE), nil
	}
	if p.ThreadInformationLength >= 100 {
		return uint64(windows.STATUS_INFO_LENGTH_MISMATCH), nil
	}
	switch p.ThreadInformationClass {
	case ThreadHideFromDebugger:
		if p.ThreadInformation != 0 {
			if err := ctx.Emulator().MemWrite(uint64(p.ThreadInformation), []byte{0}); err != nil {
				return 0, errors.Marshal("ZwSetInformationThread", err)
			}
		}
		if th != nil {
			th.Hidden = true
		}
		Logger().Debug("thread hidden from debugger", zap.Uint64("handle", h))
		return uint64(windows.STATUS_SUCCESS), nil
	}
	return 0, errors.Unsupported("ZwSetInformationThread", uint64(p.ThreadInformationClass))
}
