package kernel

import (
	"testing"

	"github.com/wnxd/microdbg-windows/msvc"
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// observe routes the kernel logger into an in-memory sink for the test.
func observe(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	core, logs := observer.New(level)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })
	return logs
}

func TestDbgPrint(t *testing.T) {
	tests := []struct {
		name    string
		routine string
		args    func(f *fixture) []uint64
		want    string
		fields  map[string]any
	}{
		{
			name:    "null format",
			routine: "DbgPrint",
			args:    func(f *fixture) []uint64 { return []uint64{0} },
			want:    "(null)",
		},
		{
			name:    "varargs",
			routine: "DbgPrint",
			args: func(f *fixture) []uint64 {
				return []uint64{f.cstring("%d and %s\n"), 0xfffffffd, f.cstring("ok")}
			},
			want: "-3 and ok\n",
		},
		{
			name:    "component and level",
			routine: "DbgPrintEx",
			args: func(f *fixture) []uint64 {
				return []uint64{77, 3, f.cstring("[%x]"), 0xbeef}
			},
			want:   "[beef]",
			fields: map[string]any{"component": uint32(77), "level": uint32(3)},
		},
		{
			name:    "narrow string ending at unmapped page",
			routine: "DbgPrint",
			args: func(f *fixture) []uint64 {
				end := uint64(dataBase + dataSize - 4)
				f.emu.MemWrite(end, []byte("abc\x00"))
				return []uint64{f.cstring("<%s>"), end}
			},
			want: "<abc>",
		},
		{
			name:    "wide string ending at unmapped page",
			routine: "DbgPrint",
			args: func(f *fixture) []uint64 {
				end := uint64(dataBase + dataSize - 8)
				raw, _ := msvc.EncodeWide("abc\x00")
				f.emu.MemWrite(end, raw)
				return []uint64{f.cstring("<%ws>"), end}
			},
			want: "<abc>",
		},
		{
			name:    "va_list",
			routine: "vDbgPrintEx",
			args: func(f *fixture) []uint64 {
				list := f.alloc(8)
				f.emu.PutUint(list, 4, 1)
				f.emu.PutUint(list+4, 4, 2)
				return []uint64{0, 0, f.cstring("%u-%u"), list}
			},
			want: "1-2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := observe(t, zap.InfoLevel)
			f := newFixture(t, emulator.ARCH_X86, nil)

			got := f.call(tt.routine, tt.args(f)...)
			if got != uint64(len(tt.want)) {
				t.Errorf("%s() = %d, want %d", tt.routine, got, len(tt.want))
			}
			entries := logs.FilterMessage(tt.want).All()
			if len(entries) != 1 {
				t.Fatalf("logged %d entries with %q: %v", len(entries), tt.want, logs.All())
			}
			fields := entries[0].ContextMap()
			if fields["routine"] != tt.routine {
				t.Errorf("routine field = %v", fields["routine"])
			}
			for k, v := range tt.fields {
				if fields[k] != v {
					t.Errorf("field %s = %v, want %v", k, fields[k], v)
				}
			}
		})
	}
}

func TestDbgPrintConsumesVarargs(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86, nil)
	f.setup("DbgPrint", callSP, f.cstring("%d %d"), 1, 2)

	args, err := msvc.NewArgs(f.emu, debugger.Calling_Cdecl, callSP)
	if err != nil {
		t.Fatal(err)
	}
	fr := &frame{
		emu:     f.emu,
		regs:    f.emu,
		layout:  f.regs,
		routine: "DbgPrint",
		calling: debugger.Calling_Cdecl,
		sp:      callSP,
		ret:     returnAddr,
		args:    args,
	}
	if _, err = f.nt.Get("DbgPrint").Call(fr); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if n := args.Consumed(); n != 3 {
		t.Errorf("Consumed() = %d, want 3", n)
	}
}

func TestKeBugCheckEx(t *testing.T) {
	logs := observe(t, zap.ErrorLevel)
	f := newFixture(t, emulator.ARCH_X86, nil)

	f.call("KeBugCheckEx", 0xd1, 1, 2, 3, 4)
	entries := logs.FilterMessage("bug check").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d bug checks", len(entries))
	}
	if code := entries[0].ContextMap()["code"]; code != uint32(0xd1) {
		t.Errorf("code = %v", code)
	}
	if sp := f.reg(f.regs.SP); sp != callSP+4+5*4 {
		t.Errorf("SP = %#x, want %#x", sp, callSP+4+5*4)
	}
}
