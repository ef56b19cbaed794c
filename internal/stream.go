package internal

import (
	"errors"
	"math"
	"unsafe"

	"github.com/wnxd/microdbg/emulator"
	"github.com/wnxd/microdbg/encoding"
)

type pointerStream struct {
	emu  emulator.Emulator
	ptr  emulator.Pointer
	size int
}

// PointerStream walks guest memory from addr, reading pointers as size-byte slots.
func PointerStream(emu emulator.Emulator, addr uint64, size int) encoding.Stream {
	return &pointerStream{emu, emulator.ToPointer(emu, addr), size}
}

func ToPtrRaw[S any](ptr *S) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), unsafe.Sizeof(*ptr))
}

func (ps *pointerStream) BlockSize() int {
	return ps.size
}

func (ps *pointerStream) Offset() uint64 {
	return ps.ptr.Address()
}

func (ps *pointerStream) Skip(n int) error {
	ps.ptr = ps.ptr.Add(uint64(n))
	return nil
}

func (ps *pointerStream) Read(b []byte) (int, error) {
	n, err := ps.ptr.ReadAt(b, 0)
	if err == nil {
		ps.Skip(n)
	}
	return n, err
}

func (ps *pointerStream) ReadFloat() (float32, error) {
	var f float32
	_, err := ps.Read(ToPtrRaw(&f))
	return f, err
}

func (ps *pointerStream) ReadDouble() (float64, error) {
	var d float64
	_, err := ps.Read(ToPtrRaw(&d))
	return d, err
}

func (ps *pointerStream) ReadString() (string, error) {
	raw, err := ReadTerminated(ps.emu, ps.ptr.Address(), 1, math.MaxUint32)
	if err != nil {
		return "", err
	}
	ps.Skip(len(raw) + 1)
	return string(raw), nil
}

func (ps *pointerStream) ReadStream() (encoding.Stream, error) {
	var addr uint64
	_, err := ps.Read(ToPtrRaw(&addr)[:ps.size])
	if err != nil {
		return nil, err
	}
	return PointerStream(ps.emu, addr, ps.size), nil
}

func (ps *pointerStream) Write(b []byte) (int, error) {
	n, err := ps.ptr.WriteAt(b, 0)
	if err == nil {
		ps.Skip(n)
	}
	return n, err
}

func (ps *pointerStream) WriteFloat(f float32) error {
	_, err := ps.Write(ToPtrRaw(&f))
	return err
}

func (ps *pointerStream) WriteDouble(d float64) error {
	_, err := ps.Write(ToPtrRaw(&d))
	return err
}

func (ps *pointerStream) WriteString(str string) error {
	_, err := ps.Write(append([]byte(str), 0))
	return err
}

func (ps *pointerStream) WriteStream(int) (encoding.Stream, error) {
	return nil, errors.ErrUnsupported
}
