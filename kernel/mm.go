package kernel

import (
	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
	"go.uber.org/zap"
)

type mmGetSystemRoutineAddressParams struct {
	SystemRoutineName PUNICODE_STRING
}

func (nt *Ntoskrnl) mmGetSystemRoutineAddress(ctx windows.Context, p *mmGetSystemRoutineAddressParams) (uint64, error) {
	addr := nt.resolver.Resolve(p.SystemRoutineName.Value)
	Logger().Debug("system routine address",
		zap.String("routine", p.SystemRoutineName.Value),
		zap.Uint64("addr", addr),
	)
	return addr, nil
}

type mmMapLockedPagesSpecifyCacheParams struct {
	MemoryDescriptorList PVOID
	AccessMode           KPROCESSOR_MODE
	CacheType            ULONG
	RequestedAddress     PVOID
	BugCheckOnFailure    ULONG
	Priority             ULONG
}

// The MDL already describes guest memory, so the mapping is its MappedSystemVa.
func (nt *Ntoskrnl) mmMapLockedPagesSpecifyCache(ctx windows.Context, p *mmMapLockedPagesSpecifyCacheParams) (uint64, error) {
	if p.MemoryDescriptorList == 0 {
		return emunullptr, nil
	}
	ptrSize := ctx.PointerSize()
	va, err := memReadPtr(ctx.Emulator(), ptrSize, uint64(p.MemoryDescriptorList)+mdlMappedSystemVaOffset(ptrSize))
	if err != nil {
		return 0, errors.Marshal("MmMapLockedPagesSpecifyCache", err)
	}
	return va, nil
}

type mmIsAddressValidParams struct {
	VirtualAddress PVOID
}

func (nt *Ntoskrnl) mmIsAddressValid(ctx windows.Context, p *mmIsAddressValidParams) (uint64, error) {
	if addressMapped(ctx, uint64(p.VirtualAddress)) {
		return 1, nil
	}
	return 0, nil
}

func addressMapped(ctx windows.Context, addr uint64) bool {
	regions, err := ctx.Emulator().MemRegions()
	if err != nil {
		return false
	}
	for _, region := range regions {
		if addr >= region.Addr && addr-region.Addr < region.Size {
			return true
		}
	}
	return false
}

type probeParams struct {
	Address   PVOID
	Length    SIZE_T
	Alignment ULONG
}

// probe only reports what the real routine would raise on.
func (nt *Ntoskrnl) probe(ctx windows.Context, p *probeParams) (uint64, error) {
	addr := uint64(p.Address)
	if p.Length == 0 {
		return 0, nil
	}
	if p.Alignment != 0 && addr%uint64(p.Alignment) != 0 {
		Logger().Warn("probe of misaligned buffer", zap.Uint64("addr", addr), zap.Uint32("alignment", p.Alignment))
	}
	if !addressMapped(ctx, addr) || !addressMapped(ctx, addr+uint64(p.Length)-1) {
		Logger().Warn("probe of unmapped buffer", zap.Uint64("addr", addr), zap.Uint64("length", uint64(p.Length)))
	}
	return 0, nil
}
