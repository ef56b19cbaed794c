package kernel

import (
	"unsafe"

	"github.com/wnxd/microdbg/emulator"
)

const (
	IO_TYPE_DEVICE = 3

	DO_VERIFY_VOLUME       = 0x00000002
	DO_BUFFERED_IO         = 0x00000004
	DO_EXCLUSIVE           = 0x00000008
	DO_DIRECT_IO           = 0x00000010
	DO_DEVICE_INITIALIZING = 0x00000080

	SECURITY_DESCRIPTOR_REVISION = 1

	// EPROCESS stand-ins are opaque; only their size matters.
	EPROCESS_SIZE32 = 0x2c0
	EPROCESS_SIZE64 = 0x850

	IMAGE_NAME_SIZE = 260
)

type DEVICE_OBJECT32 struct {
	Type                  CSHORT
	Size                  USHORT
	ReferenceCount        LONG
	DriverObject          uint32
	NextDevice            uint32
	AttachedDevice        uint32
	CurrentIrp            uint32
	Timer                 uint32
	Flags                 ULONG
	Characteristics       ULONG
	Vpb                   uint32
	DeviceExtension       uint32
	DeviceType            DEVICE_TYPE
	StackSize             CCHAR
	_                     [3]byte
	Queue                 [0x28]byte
	AlignmentRequirement  ULONG
	DeviceQueue           [0x14]byte
	Dpc                   [0x20]byte
	ActiveThreadCount     ULONG
	SecurityDescriptor    uint32
	DeviceLock            [0x10]byte
	SectorSize            USHORT
	Spare1                USHORT
	DeviceObjectExtension uint32
	Reserved              uint32
}

type DEVICE_OBJECT64 struct {
	Type                  CSHORT
	Size                  USHORT
	ReferenceCount        LONG
	DriverObject          uint64
	NextDevice            uint64
	AttachedDevice        uint64
	CurrentIrp            uint64
	Timer                 uint64
	Flags                 ULONG
	Characteristics       ULONG
	Vpb                   uint64
	DeviceExtension       uint64
	DeviceType            DEVICE_TYPE
	StackSize             CCHAR
	_                     [3]byte
	Queue                 [0x48]byte
	AlignmentRequirement  ULONG
	_                     [4]byte
	DeviceQueue           [0x28]byte
	Dpc                   [0x40]byte
	ActiveThreadCount     ULONG
	_                     [4]byte
	SecurityDescriptor    uint64
	DeviceLock            [0x18]byte
	SectorSize            USHORT
	Spare1                USHORT
	_                     [4]byte
	DeviceObjectExtension uint64
	Reserved              uint64
	_                     [8]byte
}

type RTL_PROCESS_MODULE_INFORMATION32 struct {
	Section          uint32
	MappedBase       uint32
	ImageBase        uint32
	ImageSize        ULONG
	Flags            ULONG
	LoadOrderIndex   USHORT
	InitOrderIndex   USHORT
	LoadCount        USHORT
	OffsetToFileName USHORT
	FullPathName     [256]UCHAR
}

type RTL_PROCESS_MODULE_INFORMATION64 struct {
	Section          uint64
	MappedBase       uint64
	ImageBase        uint64
	ImageSize        ULONG
	Flags            ULONG
	LoadOrderIndex   USHORT
	InitOrderIndex   USHORT
	LoadCount        USHORT
	OffsetToFileName USHORT
	FullPathName     [256]UCHAR
}

type RTL_PROCESS_MODULES32 struct {
	NumberOfModules ULONG
	Modules         [1]RTL_PROCESS_MODULE_INFORMATION32
}

type RTL_PROCESS_MODULES64 struct {
	NumberOfModules ULONG
	_               [4]byte
	Modules         [1]RTL_PROCESS_MODULE_INFORMATION64
}

type SYSTEM_BASIC_INFORMATION32 struct {
	Reserved                     ULONG
	TimerResolution              ULONG
	PageSize                     ULONG
	NumberOfPhysicalPages        ULONG
	LowestPhysicalPageNumber     ULONG
	HighestPhysicalPageNumber    ULONG
	AllocationGranularity        ULONG
	MinimumUserModeAddress       uint32
	MaximumUserModeAddress       uint32
	ActiveProcessorsAffinityMask uint32
	NumberOfProcessors           CCHAR
	_                            [3]byte
}

type SYSTEM_BASIC_INFORMATION64 struct {
	Reserved                     ULONG
	TimerResolution              ULONG
	PageSize                     ULONG
	NumberOfPhysicalPages        ULONG
	LowestPhysicalPageNumber     ULONG
	HighestPhysicalPageNumber    ULONG
	AllocationGranularity        ULONG
	_                            [4]byte
	MinimumUserModeAddress       uint64
	MaximumUserModeAddress       uint64
	ActiveProcessorsAffinityMask uint64
	NumberOfProcessors           CCHAR
	_                            [7]byte
}

type RTL_OSVERSIONINFOW struct {
	OSVersionInfoSize ULONG
	MajorVersion      ULONG
	MinorVersion      ULONG
	BuildNumber       ULONG
	PlatformId        ULONG
	CSDVersion        [128]uint16
}

type RTL_OSVERSIONINFOEXW struct {
	RTL_OSVERSIONINFOW
	ServicePackMajor USHORT
	ServicePackMinor USHORT
	SuiteMask        USHORT
	ProductType      UCHAR
	Reserved         UCHAR
}

// Field offsets that only depend on the pointer size.
func driverObjectDeviceOffset(ptrSize uint64) uint64 { return ptrSize }
func mdlMappedSystemVaOffset(ptrSize uint64) uint64  { return 3 * ptrSize }
func objectAttributesNameOffset(ptrSize uint64) uint64 {
	return 2 * ptrSize
}
func deviceNextOffset(ptrSize uint64) uint64 {
	if ptrSize == 4 {
		return uint64(unsafe.Offsetof(DEVICE_OBJECT32{}.NextDevice))
	}
	return uint64(unsafe.Offsetof(DEVICE_OBJECT64{}.NextDevice))
}
func deviceExtensionOffset(ptrSize uint64) uint64 {
	if ptrSize == 4 {
		return uint64(unsafe.Offsetof(DEVICE_OBJECT32{}.DeviceExtension))
	}
	return uint64(unsafe.Offsetof(DEVICE_OBJECT64{}.DeviceExtension))
}

// SECURITY_DESCRIPTOR is Revision, Sbz1, Control then four pointers.
func securityDescriptorSize(ptrSize uint64) uint64 {
	return 4 + 4*ptrSize
}

func deviceObjectSize(ptrSize uint64) uint64 {
	if ptrSize == 4 {
		return uint64(unsafe.Sizeof(DEVICE_OBJECT32{}))
	}
	return uint64(unsafe.Sizeof(DEVICE_OBJECT64{}))
}

func sizeOf[T any](v *T) uint64 {
	return uint64(unsafe.Sizeof(*v))
}

func memWrite[T any](emu emulator.Emulator, addr uint64, v *T) error {
	return emu.MemWritePtr(addr, uint64(unsafe.Sizeof(*v)), unsafe.Pointer(v))
}

func memRead[T any](emu emulator.Emulator, addr uint64, v *T) error {
	return emu.MemReadPtr(addr, uint64(unsafe.Sizeof(*v)), unsafe.Pointer(v))
}

// memWritePtr writes value as one guest pointer.
func memWritePtr(emu emulator.Emulator, size, addr, value uint64) error {
	return emu.MemWritePtr(addr, size, unsafe.Pointer(&value))
}

func memReadPtr(emu emulator.Emulator, size, addr uint64) (uint64, error) {
	var value uint64
	err := emu.MemReadPtr(addr, size, unsafe.Pointer(&value))
	return value, err
}

func memZero(emu emulator.Emulator, addr, size uint64) error {
	if size == 0 {
		return nil
	}
	return emu.MemWrite(addr, make([]byte, size))
}
