package emutest

import (
	"github.com/wnxd/microdbg/debugger"
)

// Heap is a bump allocator over a region of an Emulator.
type Heap struct {
	emu  *Emulator
	next uint64
	end  uint64
	Live map[uint64]uint64
}

func NewHeap(emu *Emulator, base, size uint64) *Heap {
	emu.Map(base, size)
	return &Heap{emu: emu, next: base, end: base + size, Live: make(map[uint64]uint64)}
}

func (h *Heap) MemAlloc(size uint64) (uint64, error) {
	addr := h.next
	next := debugger.Align(addr+max(size, 1), 0x10)
	if next > h.end {
		return 0, debugger.ErrArgumentInvalid
	}
	h.next = next
	h.Live[addr] = size
	return addr, nil
}

func (h *Heap) MemFree(addr uint64) error {
	if _, ok := h.Live[addr]; !ok {
		return debugger.ErrAddressInvalid
	}
	delete(h.Live, addr)
	return nil
}

func (h *Heap) MemSize(addr uint64) uint64 {
	return h.Live[addr]
}
