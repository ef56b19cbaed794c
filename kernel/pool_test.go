package kernel

import (
	"testing"

	"github.com/wnxd/microdbg/emulator"
)

func TestPoolAllocate(t *testing.T) {
	tests := []struct {
		name    string
		routine string
		args    []uint64
		size    uint64
		tag     ULONG
	}{
		{"untagged", "ExAllocatePool", []uint64{0, 0x40}, 0x40, 0},
		{"quota", "ExAllocatePoolWithQuota", []uint64{0, 0x10}, 0x10, 0},
		{"tagged", "ExAllocatePoolWithTag", []uint64{1, 0x80, 0x6b736154}, 0x80, 0x6b736154},
		{"priority", "ExAllocatePoolWithTagPriority", []uint64{0, 0x20, 0x41424344, 32}, 0x20, 0x41424344},
		{"zero size", "ExAllocatePoolWithTag", []uint64{0, 0, 0x5a}, 0, 0x5a},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, emulator.ARCH_X86, nil)
			addr := f.call(tt.routine, tt.args...)
			if addr == 0 {
				t.Fatalf("%s() returned null", tt.routine)
			}
			b, ok := f.nt.Block(addr)
			if !ok || b.Size != tt.size || b.Tag != tt.tag {
				t.Errorf("Block() = %+v, %v", b, ok)
			}
			if _, live := f.heap.Live[addr]; !live {
				t.Error("block not allocated on the heap")
			}

			f.call("ExFreePoolWithTag", addr, uint64(tt.tag))
			if _, ok = f.nt.Block(addr); ok {
				t.Error("block still tracked after free")
			}
			if _, live := f.heap.Live[addr]; live {
				t.Error("block still allocated after free")
			}
		})
	}
}

func TestExAllocatePool2Zeroes(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86_64, nil)

	first := f.call("ExAllocatePool2", 0x40, 0x30, 0x74736554)
	f.emu.MemWrite(first, []byte("garbage garbage garbage"))
	f.call("ExFreePool", first)

	// the bump heap never hands an address out twice, so dirty the next block directly
	next := first + 0x30
	f.emu.MemWrite(next, []byte("more garbage"))
	addr := f.call("ExAllocatePool2", 0x40, 0x30, 0x74736554)
	if addr != next {
		t.Fatalf("ExAllocatePool2() = %#x, want %#x", addr, next)
	}
	raw, _ := f.emu.MemRead(addr, 0x30)
	for i, b := range raw {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, b)
		}
	}
	if b, _ := f.nt.Block(addr); b.Tag != 0x74736554 {
		t.Errorf("Tag = %#x", b.Tag)
	}
}

func TestPoolFreeTolerant(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86, nil)
	f.call("ExFreePool", 0)
	f.call("ExFreePool", 0x5000)
	if sp := f.reg(f.regs.SP); sp != callSP+8 {
		t.Errorf("SP = %#x, want %#x", sp, callSP+8)
	}
}

func TestPoolExhausted(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86, nil)
	if addr := f.call("ExAllocatePool", 0, heapSize*2); addr != 0 {
		t.Errorf("ExAllocatePool() = %#x, want null", addr)
	}
}
