package kernel

import (
	"testing"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg/emulator"
)

const FILE_DEVICE_UNKNOWN = 0x22

func TestIoCreateDevice(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86, nil)
	driver := f.alloc(0xa8)
	out := f.alloc(4)
	name := f.unicode(`\Device\Sample`)

	status := f.call("IoCreateDevice", driver, 0x20, name, FILE_DEVICE_UNKNOWN, 0, 1, out)
	if status != uint64(windows.STATUS_SUCCESS) {
		t.Fatalf("IoCreateDevice() = %#x", status)
	}
	if sp := f.reg(f.regs.SP); sp != callSP+4+7*4 {
		t.Errorf("SP = %#x, want %#x", sp, callSP+4+7*4)
	}
	if pc := f.reg(f.regs.PC); pc != returnAddr {
		t.Errorf("PC = %#x, want %#x", pc, returnAddr)
	}

	addr := f.ptr(out)
	var dev DEVICE_OBJECT32
	if err := memRead(f.emu, addr, &dev); err != nil {
		t.Fatalf("read device: %v", err)
	}
	if dev.Type != IO_TYPE_DEVICE {
		t.Errorf("Type = %d", dev.Type)
	}
	if want := USHORT(deviceObjectSize(4) + 0x20); dev.Size != want {
		t.Errorf("Size = %#x, want %#x", dev.Size, want)
	}
	if dev.Flags != DO_DEVICE_INITIALIZING|DO_EXCLUSIVE {
		t.Errorf("Flags = %#x", dev.Flags)
	}
	if dev.DeviceType != FILE_DEVICE_UNKNOWN || dev.StackSize != 1 || dev.ReferenceCount != 1 {
		t.Errorf("device = %+v", dev)
	}
	if uint64(dev.DriverObject) != driver {
		t.Errorf("DriverObject = %#x, want %#x", dev.DriverObject, driver)
	}
	ext := uint64(dev.DeviceExtension)
	if ext == 0 || ext == addr {
		t.Errorf("DeviceExtension = %#x", ext)
	}
	if size := f.heap.MemSize(ext); size != 0x20 {
		t.Errorf("extension size = %#x, want 0x20", size)
	}
	if head := f.ptr(driver + driverObjectDeviceOffset(4)); head != addr {
		t.Errorf("DriverObject.DeviceObject = %#x, want %#x", head, addr)
	}
	if rec := f.nt.Device(addr); rec == nil || rec.Name != `\Device\Sample` || rec.Extension != ext {
		t.Errorf("Device() = %+v", rec)
	}
}

func TestIoCreateDeviceExtensionLimit(t *testing.T) {
	largest := ULONG(0xffff - deviceObjectSize(4))
	tests := []struct {
		name string
		size ULONG
		want windows.NTSTATUS
	}{
		{"largest", largest, windows.STATUS_SUCCESS},
		{"one past", largest + 1, windows.STATUS_INVALID_PARAMETER},
		{"64k", 0x10000, windows.STATUS_INVALID_PARAMETER},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, emulator.ARCH_X86, nil)
			out := f.alloc(4)
			if got := f.call("IoCreateDevice", 0, uint64(tt.size), 0, FILE_DEVICE_UNKNOWN, 0, 0, out); got != uint64(tt.want) {
				t.Fatalf("IoCreateDevice(%#x) = %#x, want %#x", tt.size, got, tt.want)
			}
			if tt.want != windows.STATUS_SUCCESS {
				if n := len(f.heap.Live); n != 0 {
					t.Errorf("%d blocks allocated for a rejected device", n)
				}
				return
			}
			var dev DEVICE_OBJECT32
			if err := memRead(f.emu, f.ptr(out), &dev); err != nil {
				t.Fatal(err)
			}
			if dev.Size != 0xffff {
				t.Errorf("Size = %#x, want 0xffff", dev.Size)
			}
		})
	}
}

func TestIoCreateDeviceFreesOnFault(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86, nil)
	if err := f.invoke("IoCreateDevice", 0, 0x20, 0, FILE_DEVICE_UNKNOWN, 0, 0, 0xdead0000); err == nil {
		t.Fatal("IoCreateDevice() with an unmapped DeviceObject succeeded")
	}
	if n := len(f.heap.Live); n != 0 {
		t.Errorf("%d blocks leaked", n)
	}
	if n := len(f.nt.object.devices); n != 0 {
		t.Errorf("%d devices recorded", n)
	}
}

func TestIoCreateDeviceChain(t *testing.T) {
	tests := []struct {
		name string
		arch emulator.Arch
	}{
		{"x86", emulator.ARCH_X86},
		{"x64", emulator.ARCH_X86_64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.arch, nil)
			size := f.regs.PointerSize
			driver := f.alloc(0x150)
			out := f.alloc(size)

			f.call("IoCreateDevice", driver, 0, 0, FILE_DEVICE_UNKNOWN, 0, 0, out)
			first := f.ptr(out)
			f.call("IoCreateDevice", driver, 0, 0, FILE_DEVICE_UNKNOWN, 0, 0, out)
			second := f.ptr(out)

			if first == second {
				t.Fatal("devices share an address")
			}
			if next := f.ptr(second + deviceNextOffset(size)); next != first {
				t.Errorf("NextDevice = %#x, want %#x", next, first)
			}
			if ext := f.ptr(first + deviceExtensionOffset(size)); ext != 0 {
				t.Errorf("DeviceExtension = %#x, want null", ext)
			}

			if status := f.call("IoDeleteDevice", second); status != 0 {
				t.Errorf("IoDeleteDevice() = %#x", status)
			}
			if head := f.ptr(driver + driverObjectDeviceOffset(size)); head != first {
				t.Errorf("DriverObject.DeviceObject = %#x, want %#x", head, first)
			}
			if _, live := f.heap.Live[second]; live {
				t.Error("deleted device still allocated")
			}
			if status := f.call("IoDeleteDevice", second); status != uint64(windows.STATUS_INVALID_PARAMETER) {
				t.Errorf("second IoDeleteDevice() = %#x", status)
			}

			f.call("IoDeleteDevice", first)
			if head := f.ptr(driver + driverObjectDeviceOffset(size)); head != 0 {
				t.Errorf("DriverObject.DeviceObject = %#x, want null", head)
			}
		})
	}
}

func TestIoCreateDeviceSecure(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86_64, nil)
	out := f.alloc(8)
	sddl := f.unicode("D:P(A;;GA;;;SY)")

	status := f.call("WdmlibIoCreateDeviceSecure", 0, 0x10, 0, FILE_DEVICE_UNKNOWN, 0, 0, sddl, 0, out)
	if status != 0 {
		t.Fatalf("WdmlibIoCreateDeviceSecure() = %#x", status)
	}
	if f.nt.Device(f.ptr(out)) == nil {
		t.Error("device not recorded")
	}
}

func TestSymbolicLinks(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86, nil)
	link := f.unicode(`\DosDevices\Sample`)
	upper := f.unicode(`\DOSDEVICES\SAMPLE`)
	target := f.unicode(`\Device\Sample`)

	tests := []struct {
		routine string
		args    []uint64
		want    windows.NTSTATUS
	}{
		{"IoCreateSymbolicLink", []uint64{link, target}, windows.STATUS_SUCCESS},
		{"IoCreateSymbolicLink", []uint64{upper, target}, windows.STATUS_OBJECT_NAME_COLLISION},
		{"IoDeleteSymbolicLink", []uint64{upper}, windows.STATUS_SUCCESS},
		{"IoDeleteSymbolicLink", []uint64{link}, windows.STATUS_OBJECT_NAME_NOT_FOUND},
	}

	for i, tt := range tests {
		if got := windows.NTSTATUS(f.call(tt.routine, tt.args...)); got != tt.want {
			t.Errorf("step %d %s() = %v, want %v", i, tt.routine, got, tt.want)
		}
		if i == 0 {
			if got, ok := f.nt.SymbolicLink(`\dosdevices\sample`); !ok || got != `\Device\Sample` {
				t.Errorf("SymbolicLink() = %q, %v", got, ok)
			}
		}
	}
}

func TestRtlCreateSecurityDescriptor(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86, nil)
	sd := f.alloc(securityDescriptorSize(4))
	f.emu.MemWrite(sd, []byte{0xff, 0xff, 0xff, 0xff, 0xff})

	if got := f.call("RtlCreateSecurityDescriptor", sd, 2); got != uint64(windows.STATUS_UNKNOWN_REVISION) {
		t.Errorf("revision 2 = %#x", got)
	}
	if got := f.call("RtlCreateSecurityDescriptor", sd, SECURITY_DESCRIPTOR_REVISION); got != 0 {
		t.Fatalf("revision 1 = %#x", got)
	}
	if head := f.emu.Uint(sd, 8); head != 1 {
		t.Errorf("descriptor head = %#x, want 1", head)
	}
}

func TestObReferenceObjectByHandle(t *testing.T) {
	f := newFixture(t, emulator.ARCH_X86, nil)
	out := f.alloc(4)

	if got := f.call("ObReferenceObjectByHandle", 0xffffffff, 0, 0, 0, out, 0); got != 0 {
		t.Fatalf("ObReferenceObjectByHandle() = %#x", got)
	}
	eprocess := f.ptr(out)
	if current := f.call("PsGetCurrentProcess"); current != eprocess {
		t.Errorf("PsGetCurrentProcess() = %#x, want %#x", current, eprocess)
	}
	if pid := f.call("PsGetProcessId", eprocess); pid != 0x1000 {
		t.Errorf("PsGetProcessId() = %#x, want 0x1000", pid)
	}

	handle := f.alloc(4)
	f.call("ObOpenObjectByPointer", 0x5000, 0, 0, 0, 0, 0, handle)
	h := f.ptr(handle)
	if rec := f.nt.Handle(h); rec == nil || rec.Object != 0x5000 || rec.Kind != HandleObject {
		t.Fatalf("Handle(%#x) = %+v", h, rec)
	}
	f.call("ObReferenceObjectByHandle", h, 0, 0, 0, out, 0)
	if obj := f.ptr(out); obj != 0x5000 {
		t.Errorf("object = %#x, want 0x5000", obj)
	}
}
