package internal

import (
	"unsafe"

	"github.com/wnxd/microdbg/emulator"
)

// ReadTerminated reads unit-sized characters up to the first zero one, at most limit
// of them. Reads never cross a page boundary, so a string ending right before an
// unmapped page is whole.
func ReadTerminated(emu emulator.Emulator, addr, unit, limit uint64) ([]byte, error) {
	page := emu.PageSize()
	if page == 0 {
		page = 0x1000
	}
	var raw []byte
	var buf [0x40]byte
	for begin := addr; uint64(len(raw)) < limit*unit; {
		n := min(uint64(len(buf)), page-begin%page)
		n -= n % unit
		if n == 0 {
			// a character straddles the page boundary
			n = unit
		}
		err := emu.MemReadPtr(begin, n, unsafe.Pointer(&buf[0]))
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i+unit <= n; i += unit {
			if buf[i] == 0 && (unit == 1 || buf[i+1] == 0) {
				return append(raw, buf[:i]...), nil
			}
		}
		raw = append(raw, buf[:n]...)
		begin += n
	}
	return raw[:limit*unit], nil
}
