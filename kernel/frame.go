package kernel

import (
	"sync"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/msvc"
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
)

// frame is one intercepted call in flight.
type frame struct {
	emu     emulator.Emulator
	regs    emulator.RegisterContext
	layout  msvc.Registers
	routine string
	calling debugger.Calling
	sp, ret uint64
	args    windows.Args
}

var _ windows.Context = (*frame)(nil)

func (f *frame) Emulator() emulator.Emulator {
	return f.emu
}

func (f *frame) ToPointer(addr uint64) emulator.Pointer {
	return emulator.ToPointer(f.emu, addr)
}

func (f *frame) PointerSize() uint64 {
	return f.layout.PointerSize
}

func (f *frame) Calling() debugger.Calling {
	return f.calling
}

func (f *frame) StackPointer() uint64 {
	return f.sp
}

func (f *frame) ReturnAddress() uint64 {
	return f.ret
}

func (f *frame) Args() windows.Args {
	return f.args
}

// cursor is the stack of calls currently inside the kernel.
type cursor struct {
	mu     sync.Mutex
	frames []*frame
}

func (c *cursor) push(f *frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *cursor) pop() {
	c.mu.Lock()
	if n := len(c.frames); n > 0 {
		c.frames[n-1] = nil
		c.frames = c.frames[:n-1]
	}
	c.mu.Unlock()
}

func (c *cursor) depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// truncate drops frames above depth n left behind by an inner run that never returned.
func (c *cursor) truncate(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.frames) > n {
		c.frames[len(c.frames)-1] = nil
		c.frames = c.frames[:len(c.frames)-1]
	}
}
