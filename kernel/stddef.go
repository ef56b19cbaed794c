package kernel

type emuptr = uint64

type (
	UCHAR           = uint8
	BOOLEAN         = uint8
	CCHAR           = int8
	USHORT          = uint16
	CSHORT          = int16
	ULONG           = uint32
	LONG            = int32
	DWORD           = uint32
	ULONGLONG       = uint64
	LONGLONG        = int64
	NTSTATUS        = uint32
	ACCESS_MASK     = uint32
	DEVICE_TYPE     = uint32
	KPRIORITY       = int32
	KPROCESSOR_MODE = int8
	KWAIT_REASON    = uint32
	WAIT_TYPE       = uint32
	EVENT_TYPE      = uint32
	POOL_TYPE       = uint32
	POOL_FLAGS      = uint64
	THREADINFOCLASS = uint32
	SYSINFOCLASS    = uint32
	// Pointer-sized values. encoding reads uintptr as exactly one guest slot.
	HANDLE    = uintptr
	PVOID     = uintptr
	SIZE_T    = uintptr
	ULONG_PTR = uintptr
	LONG_PTR  = uintptr
)

const emunullptr = emuptr(0)

// NtCurrentThread and NtCurrentProcess are the pseudo-handles of the caller.
const (
	NtCurrentProcess = ^uint64(0)
	NtCurrentThread  = ^uint64(1)
)
