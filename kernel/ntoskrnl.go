package kernel

import (
	"slices"

	windows "github.com/wnxd/microdbg-windows"
)

// Ntoskrnl is the emulated ntoskrnl.exe: the routine table and the kernel state
// its routines share.
type Ntoskrnl struct {
	heap     Heap
	loader   Loader
	opts     Options
	snapshot SystemSnapshot
	cur      cursor
	handles  handleTable
	resolver *Resolver

	object
	process
	thread
	event
	pool
	reentry
	clock

	table map[string]windows.Routine
}

var _ windows.Exports = (*Ntoskrnl)(nil)

// NewNtoskrnl builds the routine table. heap and loader may be nil when the
// table is only inspected.
func NewNtoskrnl(heap Heap, loader Loader, opts *Options) *Ntoskrnl {
	if opts == nil {
		opts = DefaultOptions()
	}
	nt := &Ntoskrnl{heap: heap, loader: loader, opts: *opts}
	nt.opts.fill()
	nt.ctor()
	return nt
}

func (nt *Ntoskrnl) ctor() {
	nt.snapshot = TakeSnapshot(&nt.opts)
	nt.resolver = NewResolver(nt.loader, nt.opts.KernelImages, nt.opts.HookOnlyRoutines)
	nt.handles.ctor()
	nt.object.ctor()
	nt.process.ctor()
	nt.thread.ctor(&nt.opts)
	nt.event.ctor()
	nt.pool.ctor(nt.heap)
	nt.reentry.ctor(&nt.opts)
	nt.clock.ctor(&nt.opts, nt.snapshot.BootTime)
	nt.table = make(map[string]windows.Routine)
	for _, r := range nt.routines() {
		nt.table[r.Name()] = r
	}
}

func (nt *Ntoskrnl) Close() error {
	nt.pool.dtor()
	nt.event.dtor()
	nt.thread.dtor()
	nt.process.dtor()
	nt.object.dtor()
	nt.handles.dtor()
	return nil
}

func (nt *Ntoskrnl) Get(name string) windows.Routine {
	return nt.table[name]
}

// Names lists every routine in the table, sorted.
func (nt *Ntoskrnl) Names() []string {
	names := make([]string, 0, len(nt.table))
	for name := range nt.table {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (nt *Ntoskrnl) Resolver() *Resolver {
	return nt.resolver
}

func (nt *Ntoskrnl) Snapshot() SystemSnapshot {
	return nt.snapshot
}

func (nt *Ntoskrnl) ReentryState() ReentryState {
	return nt.reentry.State()
}

// Handle returns a live handle record.
func (nt *Ntoskrnl) Handle(id uint64) *Handle {
	return nt.handles.get(id)
}

func (nt *Ntoskrnl) routines() []windows.Routine {
	return append([]windows.Routine{
		// debug output
		cdecl("DbgPrint", dbgPrint),
		cdecl("DbgPrintEx", dbgPrintEx),
		stdcall("vDbgPrintEx", vDbgPrintEx),
		stdcall("KeBugCheck", keBugCheck),
		stdcall("KeBugCheckEx", keBugCheckEx),

		// drivers and devices
		stdcall("IoCreateDriver", nt.ioCreateDriver),
		stdcall("IoCreateDevice", nt.ioCreateDevice),
		stdcall("IoCreateDeviceSecure", nt.ioCreateDeviceSecure),
		stdcall("WdmlibIoCreateDeviceSecure", nt.ioCreateDeviceSecure),
		stdcall("IoDeleteDevice", nt.ioDeleteDevice),
		stdcall("IoCreateSymbolicLink", nt.ioCreateSymbolicLink),
		stdcall("IoDeleteSymbolicLink", nt.ioDeleteSymbolicLink),
		fastcall[ioCompleteRequestParams]("IofCompleteRequest", nil),
		stdcall[ioCompleteRequestParams]("IoCompleteRequest", nil),
		stdcall[ioCsqInitializeParams]("IoCsqInitialize", nil),
		stdcall("RtlCreateSecurityDescriptor", nt.rtlCreateSecurityDescriptor),

		// objects and handles
		stdcall("ObReferenceObjectByHandle", nt.obReferenceObjectByHandle),
		stdcall[obReferenceObjectByPointerParams]("ObReferenceObjectByPointer", nil),
		fastcall[objectParams]("ObfDereferenceObject", nil),
		stdcall("ObOpenObjectByPointer", nt.obOpenObjectByPointer),
		stdcall("ZwClose", nt.handles.zwClose),
		stdcall("NtClose", nt.handles.zwClose),

		// processes and threads
		stdcall("PsGetCurrentProcess", nt.psGetCurrentProcess),
		stdcall("IoGetCurrentProcess", nt.psGetCurrentProcess),
		stdcall("PsGetCurrentProcessId", nt.psGetCurrentProcessId),
		stdcall("PsLookupProcessByProcessId", nt.psLookupProcessByProcessId),
		stdcall("PsGetProcessId", nt.psGetProcessId),
		stdcall("PsGetProcessImageFileName", nt.psGetProcessImageFileName),
		stdcall("NtTerminateProcess", nt.ntTerminateProcess),
		stdcall("ZwTerminateProcess", nt.ntTerminateProcess),
		stdcall("PsCreateSystemThread", nt.psCreateSystemThread),
		stdcall("PsTerminateSystemThread", nt.psTerminateSystemThread),
		stdcall("PsGetCurrentThreadId", nt.psGetCurrentThreadId),
		stdcall("ZwSetInformationThread", nt.zwSetInformationThread),
		stdcall("NtSetInformationThread", nt.zwSetInformationThread),

		// events and waits
		stdcall("KeInitializeEvent", nt.event.keInitializeEvent),
		stdcall("KeSetEvent", nt.event.keSetEvent),
		stdcall("KeResetEvent", nt.event.keResetEvent),
		stdcall("KeClearEvent", nt.event.keResetEvent),
		stdcall("KeWaitForSingleObject", nt.event.keWaitForSingleObject),
		stdcall("KeWaitForMultipleObjects", nt.event.keWaitForMultipleObjects),
		stdcall("KeDelayExecutionThread", nt.event.keDelayExecutionThread),
		stdcall("KeEnterCriticalRegion", nt.event.keEnterCriticalRegion),
		stdcall("KeLeaveCriticalRegion", nt.event.keLeaveCriticalRegion),

		// pool
		stdcall("ExAllocatePool", nt.pool.exAllocatePool),
		stdcall("ExAllocatePoolWithQuota", nt.pool.exAllocatePool),
		stdcall("ExAllocatePoolWithTag", nt.pool.exAllocatePoolWithTag),
		stdcall("ExAllocatePoolWithQuotaTag", nt.pool.exAllocatePoolWithTag),
		stdcall("ExAllocatePoolWithTagPriority", nt.pool.exAllocatePoolWithTagPriority),
		stdcall("ExAllocatePool2", nt.pool.exAllocatePool2),
		stdcall("ExFreePool", nt.pool.exFreePool),
		stdcall("ExFreePoolWithTag", nt.pool.exFreePoolWithTag),

		// memory manager
		stdcall("MmGetSystemRoutineAddress", nt.mmGetSystemRoutineAddress),
		stdcall("MmMapLockedPagesSpecifyCache", nt.mmMapLockedPagesSpecifyCache),
		stdcall("MmIsAddressValid", nt.mmIsAddressValid),
		stdcall("ProbeForRead", nt.probe),
		stdcall("ProbeForWrite", nt.probe),

		// system information
		stdcall("NtQuerySystemInformation", nt.ntQuerySystemInformation),
		stdcall("ZwQuerySystemInformation", nt.ntQuerySystemInformation),
		stdcall("RtlGetVersion", nt.rtlGetVersion),
		stdcall("KeQuerySystemTime", nt.clock.keQuerySystemTime),
		stdcall("KeQuerySystemTimePrecise", nt.clock.keQuerySystemTime),
		stdcall("KeQueryTimeIncrement", nt.clock.keQueryTimeIncrement),
		stdcall("KeQueryPerformanceCounter", nt.clock.keQueryPerformanceCounter).wide(),
		stdcall("KeQueryInterruptTime", nt.clock.keQueryInterruptTime).wide(),
		stdcall("RtlRandom", rtlRandom),
		stdcall("RtlRandomEx", rtlRandom),

		// registry
		stdcall("ZwOpenKey", nt.zwOpenKey),
		stdcall("NtOpenKey", nt.zwOpenKey),
	}, passthruRoutines()...)
}
