// Package emutest provides in-memory stand-ins for the microdbg collaborators used in tests.
package emutest

import (
	"fmt"
	"sort"
	"unsafe"

	"github.com/wnxd/microdbg/emulator"
)

const PageSize = 0x1000

// Emulator is a register file and sparse paged memory. Methods it does not override
// panic through the nil embedded interface.
type Emulator struct {
	emulator.Emulator
	arch  emulator.Arch
	pages map[uint64]*[PageSize]byte
	regs  map[emulator.Reg]uint64
	// OnStart runs in place of instruction execution.
	OnStart func(e *Emulator, begin, until uint64) error
	Stopped bool
}

func New(arch emulator.Arch) *Emulator {
	return &Emulator{
		arch:  arch,
		pages: make(map[uint64]*[PageSize]byte),
		regs:  make(map[emulator.Reg]uint64),
	}
}

func (e *Emulator) Arch() emulator.Arch {
	return e.arch
}

func (e *Emulator) ByteOrder() emulator.ByteOrder {
	return emulator.BO_LITTLE_ENDIAN
}

func (e *Emulator) PageSize() uint64 {
	return PageSize
}

func (e *Emulator) Close() error {
	return nil
}

// Map maps [addr, addr+size) rounded out to whole pages.
func (e *Emulator) Map(addr, size uint64) {
	for page := addr &^ (PageSize - 1); page < addr+size; page += PageSize {
		if _, ok := e.pages[page]; !ok {
			e.pages[page] = new([PageSize]byte)
		}
	}
}

func (e *Emulator) MemMap(addr, size uint64, prot emulator.MemProt) error {
	e.Map(addr, size)
	return nil
}

func (e *Emulator) MemUnmap(addr, size uint64) error {
	for page := addr &^ (PageSize - 1); page < addr+size; page += PageSize {
		delete(e.pages, page)
	}
	return nil
}

func (e *Emulator) MemProtect(addr, size uint64, prot emulator.MemProt) error {
	return nil
}

// MemRegions reports each run of contiguous pages as one region.
func (e *Emulator) MemRegions() ([]emulator.MemRegion, error) {
	addrs := make([]uint64, 0, len(e.pages))
	for addr := range e.pages {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	var regions []emulator.MemRegion
	for _, addr := range addrs {
		if n := len(regions); n > 0 && regions[n-1].Addr+regions[n-1].Size == addr {
			regions[n-1].Size += PageSize
			continue
		}
		regions = append(regions, emulator.MemRegion{Addr: addr, Size: PageSize, Prot: emulator.MEM_PROT_ALL})
	}
	return regions, nil
}

func (e *Emulator) access(addr uint64, b []byte, write bool) error {
	for len(b) > 0 {
		page, ok := e.pages[addr&^(PageSize-1)]
		if !ok {
			return fmt.Errorf("unmapped address %#x", addr)
		}
		off := addr & (PageSize - 1)
		var n int
		if write {
			n = copy(page[off:], b)
		} else {
			n = copy(b, page[off:])
		}
		b = b[n:]
		addr += uint64(n)
	}
	return nil
}

func (e *Emulator) MemRead(addr, size uint64) ([]byte, error) {
	b := make([]byte, size)
	return b, e.access(addr, b, false)
}

func (e *Emulator) MemWrite(addr uint64, data []byte) error {
	return e.access(addr, data, true)
}

func (e *Emulator) MemReadPtr(addr, size uint64, ptr unsafe.Pointer) error {
	return e.access(addr, unsafe.Slice((*byte)(ptr), size), false)
}

func (e *Emulator) MemWritePtr(addr, size uint64, ptr unsafe.Pointer) error {
	return e.access(addr, unsafe.Slice((*byte)(ptr), size), true)
}

func (e *Emulator) RegRead(reg emulator.Reg) (uint64, error) {
	return e.regs[reg], nil
}

func (e *Emulator) RegWrite(reg emulator.Reg, value uint64) error {
	if e.arch == emulator.ARCH_X86 {
		value = uint64(uint32(value))
	}
	e.regs[reg] = value
	return nil
}

func (e *Emulator) RegReadPtr(reg emulator.Reg, ptr unsafe.Pointer) error {
	*(*uint64)(ptr) = e.regs[reg]
	return nil
}

func (e *Emulator) RegWritePtr(reg emulator.Reg, ptr unsafe.Pointer) error {
	return e.RegWrite(reg, *(*uint64)(ptr))
}

func (e *Emulator) RegReadBatch(regs ...emulator.Reg) ([]uint64, error) {
	vals := make([]uint64, len(regs))
	for i, reg := range regs {
		vals[i] = e.regs[reg]
	}
	return vals, nil
}

func (e *Emulator) RegWriteBatch(regs []emulator.Reg, vals []uint64) error {
	for i, reg := range regs {
		e.RegWrite(reg, vals[i])
	}
	return nil
}

func (e *Emulator) Start(begin, until uint64) error {
	if e.OnStart == nil {
		return nil
	}
	return e.OnStart(e, begin, until)
}

func (e *Emulator) Stop() error {
	e.Stopped = true
	return nil
}

// Uint reads a little-endian integer of size bytes.
func (e *Emulator) Uint(addr, size uint64) uint64 {
	var v uint64
	if err := e.MemReadPtr(addr, size, unsafe.Pointer(&v)); err != nil {
		panic(err)
	}
	return v
}

// PutUint writes the low size bytes of v.
func (e *Emulator) PutUint(addr, size, v uint64) {
	if err := e.MemWritePtr(addr, size, unsafe.Pointer(&v)); err != nil {
		panic(err)
	}
}
