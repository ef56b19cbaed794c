package kernel

import (
	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
)

// nextRandom is the linear congruential step of RtlRandomEx.
func nextRandom(seed uint32) uint32 {
	return uint32((uint64(seed)*0x7fffffed + 0x7fffffc3) % 0x7fffffff)
}

type rtlRandomParams struct {
	Seed PVOID
}

// rtlRandom advances the guest's seed in place and returns the new value.
func rtlRandom(ctx windows.Context, p *rtlRandomParams) (uint64, error) {
	emu := ctx.Emulator()
	var seed ULONG
	if err := memRead(emu, uint64(p.Seed), &seed); err != nil {
		return 0, errors.Marshal("RtlRandom", err)
	}
	seed = nextRandom(seed)
	if err := memWrite(emu, uint64(p.Seed), &seed); err != nil {
		return 0, errors.Marshal("RtlRandom", err)
	}
	return uint64(seed), nil
}
