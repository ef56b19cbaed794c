package kernel

import (
	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
	"github.com/wnxd/microdbg-windows/msvc"
	"go.uber.org/zap"
)

// debugPrint formats like the guest's printf and logs the message. It returns the
// length of the formatted text.
func debugPrint(ctx windows.Context, routine string, format PCSTR, args windows.Args, fields ...zap.Field) (uint64, error) {
	var text string
	if format.Ptr == 0 {
		text = "(null)"
	} else {
		var err error
		if text, err = msvc.Sprintf(ctx.Emulator(), format.Value, false, args); err != nil {
			return 0, errors.Marshal(routine, err)
		}
	}
	Logger().Info(text, append(fields, zap.String("routine", routine))...)
	return uint64(len(text)), nil
}

type dbgPrintParams struct {
	Format PCSTR
}

func dbgPrint(ctx windows.Context, p *dbgPrintParams) (uint64, error) {
	return debugPrint(ctx, "DbgPrint", p.Format, ctx.Args())
}

type dbgPrintExParams struct {
	ComponentId ULONG
	Level       ULONG
	Format      PCSTR
}

func dbgPrintEx(ctx windows.Context, p *dbgPrintExParams) (uint64, error) {
	return debugPrint(ctx, "DbgPrintEx", p.Format, ctx.Args(),
		zap.Uint32("component", p.ComponentId),
		zap.Uint32("level", p.Level),
	)
}

type vDbgPrintExParams struct {
	ComponentId ULONG
	Level       ULONG
	Format      PCSTR
	Arglist     PVOID
}

func vDbgPrintEx(ctx windows.Context, p *vDbgPrintExParams) (uint64, error) {
	args, err := msvc.NewVaList(ctx.Emulator(), uint64(p.Arglist))
	if err != nil {
		return 0, errors.Marshal("vDbgPrintEx", err)
	}
	return debugPrint(ctx, "vDbgPrintEx", p.Format, args,
		zap.Uint32("component", p.ComponentId),
		zap.Uint32("level", p.Level),
	)
}

type keBugCheckExParams struct {
	BugCheckCode       ULONG
	BugCheckParameter1 ULONG_PTR
	BugCheckParameter2 ULONG_PTR
	BugCheckParameter3 ULONG_PTR
	BugCheckParameter4 ULONG_PTR
}

// The guest keeps running after a bug check; it is only reported.
func keBugCheckEx(ctx windows.Context, p *keBugCheckExParams) (uint64, error) {
	Logger().Error("bug check",
		zap.Uint32("code", p.BugCheckCode),
		zap.Uint64("p1", uint64(p.BugCheckParameter1)),
		zap.Uint64("p2", uint64(p.BugCheckParameter2)),
		zap.Uint64("p3", uint64(p.BugCheckParameter3)),
		zap.Uint64("p4", uint64(p.BugCheckParameter4)),
	)
	return 0, nil
}

type keBugCheckParams struct {
	BugCheckCode ULONG
}

func keBugCheck(ctx windows.Context, p *keBugCheckParams) (uint64, error) {
	Logger().Error("bug check", zap.Uint32("code", p.BugCheckCode))
	return 0, nil
}
