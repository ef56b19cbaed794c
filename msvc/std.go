package msvc

import (
	"errors"
	"unsafe"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/internal"
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
	"github.com/wnxd/microdbg/encoding"
)

type list struct {
	emu  emulator.Emulator
	base uint64
	ptr  uint64
	size int
}

// NewStdVaList walks size-byte slots upward from ptr.
func NewStdVaList(emu emulator.Emulator, ptr, size uint64) (windows.Args, error) {
	if ptr == 0 || size == 0 {
		return nil, debugger.ErrArgumentInvalid
	}
	return &list{emu: emu, base: ptr, ptr: ptr, size: int(size)}, nil
}

func (va *list) Extract(args ...any) error {
	for _, arg := range args {
		err := encoding.Decode(va, arg)
		if err != nil {
			return err
		}
		va.ptr = debugger.Align(va.ptr, uint64(va.size))
	}
	return nil
}

func (va *list) Store(args ...any) error {
	for _, arg := range args {
		err := encoding.Encode(va, arg)
		if err != nil {
			return err
		}
		va.ptr = debugger.Align(va.ptr, uint64(va.size))
	}
	return nil
}

func (va *list) Slot() (uint64, error) {
	va.ptr = debugger.Align(va.ptr, uint64(va.size))
	var value uint64
	_, err := va.Read(internal.ToPtrRaw(&value)[:va.size])
	return value, err
}

func (va *list) Consumed() int {
	return int(debugger.Align(va.ptr-va.base, uint64(va.size))) / va.size
}

func (va *list) BlockSize() int {
	return va.size
}

func (va *list) Offset() uint64 {
	return 0
}

func (va *list) Skip(n int) error {
	va.ptr += uint64(n)
	return nil
}

func (va *list) Read(b []byte) (int, error) {
	n := len(b)
	if n == 0 {
		return 0, nil
	}
	err := va.emu.MemReadPtr(va.ptr, uint64(n), unsafe.Pointer(unsafe.SliceData(b)))
	va.ptr += uint64(n)
	return n, err
}

func (va *list) ReadFloat() (float32, error) {
	var f float32
	_, err := va.Read(internal.ToPtrRaw(&f))
	return f, err
}

func (va *list) ReadDouble() (float64, error) {
	var d float64
	_, err := va.Read(internal.ToPtrRaw(&d))
	return d, err
}

func (va *list) ReadString() (string, error) {
	return "", errors.ErrUnsupported
}

func (va *list) ReadStream() (encoding.Stream, error) {
	var addr uint64
	_, err := va.Read(internal.ToPtrRaw(&addr)[:va.size])
	if err != nil {
		return nil, err
	}
	return internal.PointerStream(va.emu, addr, va.size), nil
}

func (va *list) Write(b []byte) (int, error) {
	n := len(b)
	if n == 0 {
		return 0, nil
	}
	err := va.emu.MemWritePtr(va.ptr, uint64(n), unsafe.Pointer(unsafe.SliceData(b)))
	va.ptr += uint64(n)
	return n, err
}

func (va *list) WriteFloat(f float32) error {
	_, err := va.Write(internal.ToPtrRaw(&f))
	return err
}

func (va *list) WriteDouble(d float64) error {
	_, err := va.Write(internal.ToPtrRaw(&d))
	return err
}

func (va *list) WriteString(string) error {
	return errors.ErrUnsupported
}

func (va *list) WriteStream(int) (encoding.Stream, error) {
	return nil, errors.ErrUnsupported
}
