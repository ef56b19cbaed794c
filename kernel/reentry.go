package kernel

import (
	"fmt"
	"sync"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
	"github.com/wnxd/microdbg-windows/msvc"
	"github.com/wnxd/microdbg/debugger"
	"go.uber.org/zap"
)

// ReentryState is the phase of a synchronous inner guest run.
type ReentryState uint8

const (
	ReentryIdle ReentryState = iota
	ReentryReentering
	ReentryRunning
	ReentryRestoring
)

func (s ReentryState) String() string {
	switch s {
	case ReentryIdle:
		return "idle"
	case ReentryReentering:
		return "reentering"
	case ReentryRunning:
		return "running"
	case ReentryRestoring:
		return "restoring"
	}
	return fmt.Sprintf("ReentryState(%d)", uint8(s))
}

type reentry struct {
	mu       sync.Mutex
	state    ReentryState
	verifier FaultVerifier
}

func (r *reentry) ctor(opts *Options) {
	r.verifier = opts.Verifier
}

// transition moves from one state to the next and reports the state it found.
func (r *reentry) transition(from, to ReentryState) (ReentryState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		return r.state, false
	}
	r.state = to
	return from, true
}

func (r *reentry) State() ReentryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// snapshot is everything an inner run may disturb in the outer call.
type snapshot struct {
	sp    uint64
	depth int
}

type ioCreateDriverParams struct {
	DriverName             PUNICODE_STRING
	InitializationFunction PVOID
}

// ioCreateDriver runs the driver's initialization function to completion as if the
// kernel called it, then resumes the intercepted call.
func (nt *Ntoskrnl) ioCreateDriver(ctx windows.Context, p *ioCreateDriverParams) (uint64, error) {
	const name = "IoCreateDriver"

	f, ok := ctx.(*frame)
	if !ok {
		return 0, errors.New(errors.PhaseReentry, errors.KindInvalidInput).Routine(name).Detail("no call frame").Build()
	}
	if state, ok := nt.reentry.transition(ReentryIdle, ReentryReentering); !ok {
		return 0, errors.Busy(name, state.String())
	}
	snap := snapshot{sp: f.sp, depth: nt.cur.depth()}
	entry := uint64(p.InitializationFunction)

	var driver, registry uint64
	if nt.loader != nil {
		driver, registry = nt.loader.DriverObject(), nt.loader.RegistryPath()
	}
	args, err := msvc.NewArgsOf(f.emu, f.regs, debugger.Calling_Stdcall, f.sp)
	if err == nil {
		err = args.Store(uintptr(driver), uintptr(registry))
	}
	if err != nil {
		nt.reentry.transition(ReentryReentering, ReentryIdle)
		return 0, errors.New(errors.PhaseReentry, errors.KindInvalidInput).Routine(name).Cause(err).Build()
	}

	Logger().Info("driver initialization",
		zap.String("driver", p.DriverName.Value),
		zap.Uint64("entry", entry),
		zap.Uint64("until", f.ret),
	)
	runErr, restoreErr := nt.runDriver(f, snap, entry)
	if restoreErr != nil {
		return 0, errors.New(errors.PhaseReentry, errors.KindInvalidInput).Routine(name).Cause(restoreErr).Build()
	}

	if runErr != nil {
		if err := nt.reentry.verifier.Verify(runErr); err != nil {
			return 0, errors.EmulationFault(name, entry, err)
		}
		Logger().Debug("inner run stopped", zap.String("routine", name), zap.Error(runErr))
	}
	return uint64(windows.STATUS_SUCCESS), nil
}

// runDriver runs entry until the outer return address. The outer stack pointer,
// the call cursor and the idle state come back even when the run panics.
func (nt *Ntoskrnl) runDriver(f *frame, snap snapshot, entry uint64) (runErr, restoreErr error) {
	nt.reentry.transition(ReentryReentering, ReentryRunning)
	defer func() {
		nt.reentry.transition(ReentryRunning, ReentryRestoring)
		restoreErr = f.regs.RegWrite(f.layout.SP, snap.sp)
		nt.cur.truncate(snap.depth)
		nt.reentry.transition(ReentryRestoring, ReentryIdle)
	}()
	return f.emu.Start(entry, f.ret), nil
}
