package kernel

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
	"go.uber.org/zap"
)

const (
	SystemBasicInformation  SYSINFOCLASS = 0x00
	SystemModuleInformation SYSINFOCLASS = 0x0b

	VER_PLATFORM_WIN32_NT = 2

	systemRoot       = `\SystemRoot\system32\`
	ntoskrnlPath     = systemRoot + "ntoskrnl.exe"
	ntoskrnlSize     = 0xab000
	ntoskrnlFlags    = 0x8804000
	timerResolution  = 156250
	allocGranularity = 0x10000
)

// SystemSnapshot is the read-only system state the kernel reports to the guest.
// It is taken once, when the kernel is built.
type SystemSnapshot struct {
	MajorVersion       uint32
	MinorVersion       uint32
	BuildNumber        uint32
	NumberOfProcessors uint8
	PhysicalPages      uint32
	PageSize           uint32
	BootTime           time.Time
}

// TakeSnapshot derives the snapshot from opts and, when opts.HostSnapshot is set,
// from the host machine.
func TakeSnapshot(opts *Options) SystemSnapshot {
	snap := SystemSnapshot{
		MajorVersion:       opts.OsMajorVersion,
		MinorVersion:       opts.OsMinorVersion,
		BuildNumber:        opts.OsBuildNumber,
		NumberOfProcessors: opts.ProcessorsCount,
		PhysicalPages:      opts.PhysicalPages,
		PageSize:           0x1000,
		BootTime:           time.Now(),
	}
	if !opts.HostSnapshot {
		return snap
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		snap.NumberOfProcessors = uint8(min(n, 64))
	} else {
		Logger().Debug("host processor count", zap.Error(err))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.PhysicalPages = uint32(vm.Total / uint64(snap.PageSize))
	} else {
		Logger().Debug("host memory", zap.Error(err))
	}
	if uptime, err := host.Uptime(); err == nil {
		snap.BootTime = snap.BootTime.Add(-time.Duration(uptime) * time.Second)
	} else {
		Logger().Debug("host uptime", zap.Error(err))
	}
	return snap
}

type ntQuerySystemInformationParams struct {
	SystemInformationClass  SYSINFOCLASS
	SystemInformation       PVOID
	SystemInformationLength ULONG
	ReturnLength            PVOID
}

func (nt *Ntoskrnl) ntQuerySystemInformation(ctx windows.Context, p *ntQuerySystemInformationParams) (uint64, error) {
	const name = "NtQuerySystemInformation"

	var write func(addr uint64) error
	var size uint64
	emu := ctx.Emulator()
	is32 := ctx.PointerSize() == 4
	switch p.SystemInformationClass {
	case SystemBasicInformation:
		if is32 {
			info := nt.basicInformation32()
			size, write = sizeOf(&info), func(addr uint64) error { return memWrite(emu, addr, &info) }
		} else {
			info := nt.basicInformation64()
			size, write = sizeOf(&info), func(addr uint64) error { return memWrite(emu, addr, &info) }
		}
	case SystemModuleInformation:
		base := nt.kernelBase()
		if is32 {
			info := RTL_PROCESS_MODULES32{NumberOfModules: 1}
			fillModule32(&info.Modules[0], base)
			size, write = sizeOf(&info), func(addr uint64) error { return memWrite(emu, addr, &info) }
		} else {
			info := RTL_PROCESS_MODULES64{NumberOfModules: 1}
			fillModule64(&info.Modules[0], base)
			size, write = sizeOf(&info), func(addr uint64) error { return memWrite(emu, addr, &info) }
		}
	default:
		return 0, errors.Unsupported(name, uint64(p.SystemInformationClass))
	}

	if p.ReturnLength != 0 {
		length := ULONG(size)
		if err := memWrite(emu, uint64(p.ReturnLength), &length); err != nil {
			return 0, errors.Marshal(name, err)
		}
	}
	if uint64(p.SystemInformationLength) < size {
		return uint64(windows.STATUS_INFO_LENGTH_MISMATCH), nil
	}
	if err := write(uint64(p.SystemInformation)); err != nil {
		return 0, errors.Marshal(name, err)
	}
	return uint64(windows.STATUS_SUCCESS), nil
}

func (nt *Ntoskrnl) kernelBase() uint64 {
	if nt.loader == nil {
		return 0
	}
	for _, image := range nt.opts.KernelImages {
		if mod, err := nt.loader.FindModule(image); err == nil {
			return mod.BaseAddr()
		}
	}
	return 0
}

func fillModule32(m *RTL_PROCESS_MODULE_INFORMATION32, base uint64) {
	m.ImageBase = uint32(base)
	m.ImageSize = ntoskrnlSize
	m.Flags = ntoskrnlFlags
	m.LoadCount = 1
	m.OffsetToFileName = USHORT(len(systemRoot))
	copy(m.FullPathName[:], ntoskrnlPath)
}

func fillModule64(m *RTL_PROCESS_MODULE_INFORMATION64, base uint64) {
	m.ImageBase = base
	m.ImageSize = ntoskrnlSize
	m.Flags = ntoskrnlFlags
	m.LoadCount = 1
	m.OffsetToFileName = USHORT(len(systemRoot))
	copy(m.FullPathName[:], ntoskrnlPath)
}

func (nt *Ntoskrnl) basicInformation32() SYSTEM_BASIC_INFORMATION32 {
	snap := nt.snapshot
	return SYSTEM_BASIC_INFORMATION32{
		TimerResolution:              timerResolution,
		PageSize:                     snap.PageSize,
		NumberOfPhysicalPages:        snap.PhysicalPages,
		LowestPhysicalPageNumber:     1,
		HighestPhysicalPageNumber:    snap.PhysicalPages,
		AllocationGranularity:        allocGranularity,
		MinimumUserModeAddress:       0x10000,
		MaximumUserModeAddress:       0x7ffeffff,
		ActiveProcessorsAffinityMask: uint32(affinity(snap.NumberOfProcessors)),
		NumberOfProcessors:           CCHAR(snap.NumberOfProcessors),
	}
}

func (nt *Ntoskrnl) basicInformation64() SYSTEM_BASIC_INFORMATION64 {
	snap := nt.snapshot
	return SYSTEM_BASIC_INFORMATION64{
		TimerResolution:              timerResolution,
		PageSize:                     snap.PageSize,
		NumberOfPhysicalPages:        snap.PhysicalPages,
		LowestPhysicalPageNumber:     1,
		HighestPhysicalPageNumber:    snap.PhysicalPages,
		AllocationGranularity:        allocGranularity,
		MinimumUserModeAddress:       0x10000,
		MaximumUserModeAddress:       0x7ffffffeffff,
		ActiveProcessorsAffinityMask: affinity(snap.NumberOfProcessors),
		NumberOfProcessors:           CCHAR(snap.NumberOfProcessors),
	}
}

func affinity(n uint8) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return 1<<n - 1
}

type rtlGetVersionParams struct {
	VersionInformation PVOID
}

// rtlGetVersion fills RTL_OSVERSIONINFOW or RTL_OSVERSIONINFOEXW, chosen by the size
// the caller stored in the first field.
func (nt *Ntoskrnl) rtlGetVersion(ctx windows.Context, p *rtlGetVersionParams) (uint64, error) {
	const name = "RtlGetVersion"

	emu := ctx.Emulator()
	addr := uint64(p.VersionInformation)
	var size ULONG
	if err := memRead(emu, addr, &size); err != nil {
		return 0, errors.Marshal(name, err)
	}
	info := RTL_OSVERSIONINFOEXW{
		RTL_OSVERSIONINFOW: RTL_OSVERSIONINFOW{
			OSVersionInfoSize: size,
			MajorVersion:      nt.snapshot.MajorVersion,
			MinorVersion:      nt.snapshot.MinorVersion,
			BuildNumber:       nt.snapshot.BuildNumber & 0xffff,
			PlatformId:        VER_PLATFORM_WIN32_NT,
		},
	}
	var err error
	switch uint64(size) {
	case sizeOf(&info):
		err = memWrite(emu, addr, &info)
	case sizeOf(&info.RTL_OSVERSIONINFOW):
		err = memWrite(emu, addr, &info.RTL_OSVERSIONINFOW)
	default:
		return uint64(windows.STATUS_INVALID_PARAMETER), nil
	}
	if err != nil {
		return 0, errors.Marshal(name, err)
	}
	return uint64(windows.STATUS_SUCCESS), nil
}
