package kernel

import (
	"time"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
)

const (
	// 100ns intervals between 1601-01-01 and the Unix epoch.
	epochDelta           = 116444736000000000
	performanceFrequency = 10000000
	timeIncrement        = 156250
)

type clock struct {
	boot     time.Time
	override int64
}

func (c *clock) ctor(opts *Options, boot time.Time) {
	c.boot = boot
	c.override = opts.SystemTimeOverride
}

// systemTime is the current time as a FILETIME count.
func (c *clock) systemTime() uint64 {
	if c.override != 0 {
		return uint64(c.override)
	}
	return uint64(time.Now().UnixNano()/100 + epochDelta)
}

// interruptTime counts 100ns intervals since boot.
func (c *clock) interruptTime() uint64 {
	return uint64(time.Since(c.boot) / 100)
}

type keQuerySystemTimeParams struct {
	CurrentTime PVOID
}

func (c *clock) keQuerySystemTime(ctx windows.Context, p *keQuerySystemTimeParams) (uint64, error) {
	now := c.systemTime()
	if err := memWrite(ctx.Emulator(), uint64(p.CurrentTime), &now); err != nil {
		return 0, errors.Marshal("KeQuerySystemTime", err)
	}
	return 0, nil
}

func (c *clock) keQueryTimeIncrement(ctx windows.Context, _ *none) (uint64, error) {
	return timeIncrement, nil
}

type keQueryPerformanceCounterParams struct {
	PerformanceFrequency PVOID
}

func (c *clock) keQueryPerformanceCounter(ctx windows.Context, p *keQueryPerformanceCounterParams) (uint64, error) {
	if p.PerformanceFrequency != 0 {
		freq := uint64(performanceFrequency)
		if err := memWrite(ctx.Emulator(), uint64(p.PerformanceFrequency), &freq); err != nil {
			return 0, errors.Marshal("KeQueryPerformanceCounter", err)
		}
	}
	return c.interruptTime(), nil
}

func (c *clock) keQueryInterruptTime(ctx windows.Context, _ *none) (uint64, error) {
	return c.interruptTime(), nil
}
