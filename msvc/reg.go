package msvc

import (
	"errors"
	"math"
	"unsafe"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/internal"
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
	"github.com/wnxd/microdbg/encoding"
)

// regStream serves the first len(regs) slots from registers and the rest from the stack.
type regStream struct {
	emu   emulator.Emulator
	ctx   emulator.RegisterContext
	regs  []emulator.Reg
	stack uint64
	size  int
	off   int
}

func newRegStream(emu emulator.Emulator, ctx emulator.RegisterContext, regs []emulator.Reg, stack uint64, size int) windows.Args {
	return &regStream{emu: emu, ctx: ctx, regs: regs, stack: stack, size: size}
}

func (rs *regStream) align() {
	rs.off = debugger.Align(rs.off, rs.size)
}

func (rs *regStream) Extract(args ...any) error {
	for _, arg := range args {
		err := encoding.Decode(rs, arg)
		if err != nil {
			return err
		}
		rs.align()
	}
	return nil
}

func (rs *regStream) Store(args ...any) error {
	for _, arg := range args {
		err := encoding.Encode(rs, arg)
		if err != nil {
			return err
		}
		rs.align()
	}
	return nil
}

func (rs *regStream) Slot() (uint64, error) {
	rs.align()
	var value uint64
	_, err := rs.Read(internal.ToPtrRaw(&value)[:rs.size])
	return value, err
}

func (rs *regStream) Consumed() int {
	return debugger.Align(rs.off, rs.size) / rs.size
}

func (rs *regStream) BlockSize() int {
	return rs.size
}

func (rs *regStream) Offset() uint64 {
	return 0
}

func (rs *regStream) Skip(n int) error {
	rs.off += n
	return nil
}

func (rs *regStream) stackAddr(slot, within int) uint64 {
	return rs.stack + uint64((slot-len(rs.regs))*rs.size+within)
}

func (rs *regStream) Read(b []byte) (int, error) {
	var i int
	for i < len(b) {
		slot, within := rs.off/rs.size, rs.off%rs.size
		if slot >= len(rs.regs) {
			n := len(b) - i
			err := rs.emu.MemReadPtr(rs.stackAddr(slot, within), uint64(n), unsafe.Pointer(&b[i]))
			if err != nil {
				return i, err
			}
			rs.off += n
			return len(b), nil
		}
		value, err := rs.ctx.RegRead(rs.regs[slot])
		if err != nil {
			return i, err
		}
		n := copy(b[i:], internal.ToPtrRaw(&value)[within:rs.size])
		i += n
		rs.off += n
	}
	return i, nil
}

func (rs *regStream) Write(b []byte) (int, error) {
	var i int
	for i < len(b) {
		slot, within := rs.off/rs.size, rs.off%rs.size
		if slot >= len(rs.regs) {
			n := len(b) - i
			err := rs.emu.MemWritePtr(rs.stackAddr(slot, within), uint64(n), unsafe.Pointer(&b[i]))
			if err != nil {
				return i, err
			}
			rs.off += n
			return len(b), nil
		}
		var value uint64
		if within > 0 {
			v, err := rs.ctx.RegRead(rs.regs[slot])
			if err != nil {
				return i, err
			}
			value = v
		}
		n := copy(internal.ToPtrRaw(&value)[within:rs.size], b[i:])
		err := rs.ctx.RegWrite(rs.regs[slot], value)
		if err != nil {
			return i, err
		}
		i += n
		rs.off += n
	}
	return i, nil
}

// Floating point arguments are taken from the integer slots.
func (rs *regStream) ReadFloat() (float32, error) {
	var bits uint32
	_, err := rs.Read(internal.ToPtrRaw(&bits))
	return math.Float32frombits(bits), err
}

func (rs *regStream) ReadDouble() (float64, error) {
	var bits uint64
	_, err := rs.Read(internal.ToPtrRaw(&bits))
	return math.Float64frombits(bits), err
}

func (rs *regStream) ReadString() (string, error) {
	return "", errors.ErrUnsupported
}

func (rs *regStream) ReadStream() (encoding.Stream, error) {
	var addr uint64
	_, err := rs.Read(internal.ToPtrRaw(&addr)[:rs.size])
	if err != nil {
		return nil, err
	}
	return internal.PointerStream(rs.emu, addr, rs.size), nil
}

func (rs *regStream) WriteFloat(f float32) error {
	bits := math.Float32bits(f)
	_, err := rs.Write(internal.ToPtrRaw(&bits))
	return err
}

func (rs *regStream) WriteDouble(d float64) error {
	bits := math.Float64bits(d)
	_, err := rs.Write(internal.ToPtrRaw(&bits))
	return err
}

func (rs *regStream) WriteString(string) error {
	return errors.ErrUnsupported
}

func (rs *regStream) WriteStream(int) (encoding.Stream, error) {
	return nil, errors.ErrUnsupported
}
