package kernel

import (
	"fmt"
	"math"
	"strings"
	"sync"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
	"go.uber.org/zap"
)

// Device is the host record of a DEVICE_OBJECT this layer allocated.
type Device struct {
	Addr      uint64
	Extension uint64
	Driver    uint64
	Name      string
}

type object struct {
	rw      sync.RWMutex
	devices map[uint64]*Device
	links   map[string]string
}

func (o *object) ctor() {
	o.devices = make(map[uint64]*Device)
	o.links = make(map[string]string)
}

func (o *object) dtor() {
	o.rw.Lock()
	o.devices = nil
	o.links = nil
	o.rw.Unlock()
}

// Device returns the record of a live device object.
func (o *object) Device(addr uint64) *Device {
	o.rw.RLock()
	defer o.rw.RUnlock()
	return o.devices[addr]
}

type ioCreateDeviceParams struct {
	DriverObject          PVOID
	DeviceExtensionSize   ULONG
	DeviceName            PUNICODE_STRING
	DeviceType            DEVICE_TYPE
	DeviceCharacteristics ULONG
	Exclusive             BOOLEAN
	DeviceObject          PVOID
}

type ioCreateDeviceSecureParams struct {
	DriverObject          PVOID
	DeviceExtensionSize   ULONG
	DeviceName            PUNICODE_STRING
	DeviceType            DEVICE_TYPE
	DeviceCharacteristics ULONG
	Exclusive             BOOLEAN
	DefaultSDDLString     PUNICODE_STRING
	DeviceClassGuid       PVOID
	DeviceObject          PVOID
}

func (nt *Ntoskrnl) ioCreateDevice(ctx windows.Context, p *ioCreateDeviceParams) (uint64, error) {
	return nt.createDevice(ctx, p)
}

// The security descriptor and class GUID are accepted but not enforced.
func (nt *Ntoskrnl) ioCreateDeviceSecure(ctx windows.Context, p *ioCreateDeviceSecureParams) (uint64, error) {
	return nt.createDevice(ctx, &ioCreateDeviceParams{
		DriverObject:          p.DriverObject,
		DeviceExtensionSize:   p.DeviceExtensionSize,
		DeviceName:            p.DeviceName,
		DeviceType:            p.DeviceType,
		DeviceCharacteristics: p.DeviceCharacteristics,
		Exclusive:             p.Exclusive,
		DeviceObject:          p.DeviceObject,
	})
}

func (nt *Ntoskrnl) createDevice(ctx windows.Context, p *ioCreateDeviceParams) (uint64, error) {
	const name = "IoCreateDevice"

	emu := ctx.Emulator()
	ptrSize := ctx.PointerSize()
	size := deviceObjectSize(ptrSize)
	if size+uint64(p.DeviceExtensionSize) > math.MaxUint16 {
		Logger().Warn("device extension too large", zap.String("name", p.DeviceName.Value), zap.Uint32("size", uint32(p.DeviceExtensionSize)))
		return uint64(windows.STATUS_INVALID_PARAMETER), nil
	}
	addr, err := nt.heap.MemAlloc(size)
	if err != nil {
		return uint64(windows.STATUS_INSUFFICIENT_RESOURCES), nil
	}
	var ext uint64
	if p.DeviceExtensionSize > 0 {
		ext, err = nt.heap.MemAlloc(uint64(p.DeviceExtensionSize))
		if err != nil {
			nt.heap.MemFree(addr)
			return uint64(windows.STATUS_INSUFFICIENT_RESOURCES), nil
		}
	}
	fail := func(err error) (uint64, error) {
		if ext != 0 {
			nt.heap.MemFree(ext)
		}
		nt.heap.MemFree(addr)
		return 0, errors.Marshal(name, err)
	}
	if ext != 0 {
		if err = memZero(emu, ext, uint64(p.DeviceExtensionSize)); err != nil {
			return fail(err)
		}
	}
	driver := uint64(p.DriverObject)
	var next uint64
	if driver != emunullptr {
		if next, err = memReadPtr(emu, ptrSize, driver+driverObjectDeviceOffset(ptrSize)); err != nil {
			return fail(err)
		}
	}
	flags := ULONG(DO_DEVICE_INITIALIZING)
	if p.Exclusive != 0 {
		flags |= DO_EXCLUSIVE
	}
	total := USHORT(size + uint64(p.DeviceExtensionSize))
	if ptrSize == 4 {
		dev := DEVICE_OBJECT32{
			Type:            IO_TYPE_DEVICE,
			Size:            total,
			ReferenceCount:  1,
			DriverObject:    uint32(driver),
			NextDevice:      uint32(next),
			Flags:           flags,
			Characteristics: p.DeviceCharacteristics,
			DeviceExtension: uint32(ext),
			DeviceType:      p.DeviceType,
			StackSize:       1,
		}
		err = memWrite(emu, addr, &dev)
	} else {
		dev := DEVICE_OBJECT64{
			Type:            IO_TYPE_DEVICE,
			Size:            total,
			ReferenceCount:  1,
			DriverObject:    driver,
			NextDevice:      next,
			Flags:           flags,
			Characteristics: p.DeviceCharacteristics,
			DeviceExtension: ext,
			DeviceType:      p.DeviceType,
			StackSize:       1,
		}
		err = memWrite(emu, addr, &dev)
	}
	if err != nil {
		return fail(err)
	}
	if p.DeviceObject != 0 {
		if err = memWritePtr(emu, ptrSize, uint64(p.DeviceObject), addr); err != nil {
			return fail(err)
		}
	}
	if driver != emunullptr {
		if err = memWritePtr(emu, ptrSize, driver+driverObjectDeviceOffset(ptrSize), addr); err != nil {
			return fail(err)
		}
	}
	nt.object.rw.Lock()
	nt.object.devices[addr] = &Device{Addr: addr, Extension: ext, Driver: driver, Name: p.DeviceName.Value}
	nt.object.rw.Unlock()
	Logger().Info("device created",
		zap.String("name", p.DeviceName.Value),
		zap.Uint64("device", addr),
		zap.Uint64("extension", ext),
		zap.Bool("exclusive", p.Exclusive != 0),
	)
	return uint64(windows.STATUS_SUCCESS), nil
}

type ioDeleteDeviceParams struct {
	DeviceObject PVOID
}

func (nt *Ntoskrnl) ioDeleteDevice(ctx windows.Context, p *ioDeleteDeviceParams) (uint64, error) {
	const name = "IoDeleteDevice"

	addr := uint64(p.DeviceObject)
	nt.object.rw.Lock()
	dev, ok := nt.object.devices[addr]
	if ok {
		delete(nt.object.devices, addr)
	}
	nt.object.rw.Unlock()
	if !ok {
		Logger().Warn("delete of unknown device", zap.Uint64("device", addr))
		return uint64(windows.STATUS_INVALID_PARAMETER), nil
	}
	if err := nt.unlinkDevice(ctx, dev); err != nil {
		return 0, errors.Marshal(name, err)
	}
	if dev.Extension != emunullptr {
		nt.heap.MemFree(dev.Extension)
	}
	nt.heap.MemFree(addr)
	Logger().Info("device deleted", zap.String("name", dev.Name), zap.Uint64("device", addr))
	return 0, nil
}

// unlinkDevice removes dev from its driver's NextDevice chain.
func (nt *Ntoskrnl) unlinkDevice(ctx windows.Context, dev *Device) error {
	if dev.Driver == emunullptr {
		return nil
	}
	emu := ctx.Emulator()
	ptrSize := ctx.PointerSize()
	next, err := memReadPtr(emu, ptrSize, dev.Addr+deviceNextOffset(ptrSize))
	if err != nil {
		return err
	}
	link := dev.Driver + driverObjectDeviceOffset(ptrSize)
	for range len(nt.object.devices) + 1 {
		cur, err := memReadPtr(emu, ptrSize, link)
		if err != nil {
			return err
		}
		if cur == dev.Addr {
			return memWritePtr(emu, ptrSize, link, next)
		}
		if cur == emunullptr {
			return nil
		}
		link = cur + deviceNextOffset(ptrSize)
	}
	return nil
}

type ioSymbolicLinkParams struct {
	SymbolicLinkName PUNICODE_STRING
	DeviceName       PUNICODE_STRING
}

func (nt *Ntoskrnl) ioCreateSymbolicLink(ctx windows.Context, p *ioSymbolicLinkParams) (uint64, error) {
	key := strings.ToLower(p.SymbolicLinkName.Value)
	nt.object.rw.Lock()
	defer nt.object.rw.Unlock()
	if _, ok := nt.object.links[key]; ok {
		return uint64(windows.STATUS_OBJECT_NAME_COLLISION), nil
	}
	nt.object.links[key] = p.DeviceName.Value
	Logger().Info("symbolic link created", zap.String("link", p.SymbolicLinkName.Value), zap.String("target", p.DeviceName.Value))
	return uint64(windows.STATUS_SUCCESS), nil
}

type ioDeleteSymbolicLinkParams struct {
	SymbolicLinkName PUNICODE_STRING
}

func (nt *Ntoskrnl) ioDeleteSymbolicLink(ctx windows.Context, p *ioDeleteSymbolicLinkParams) (uint64, error) {
	key := strings.ToLower(p.SymbolicLinkName.Value)
	nt.object.rw.Lock()
	defer nt.object.rw.Unlock()
	if _, ok := nt.object.links[key]; !ok {
		return uint64(windows.STATUS_OBJECT_NAME_NOT_FOUND), nil
	}
	delete(nt.object.links, key)
	return uint64(windows.STATUS_SUCCESS), nil
}

// SymbolicLink resolves a link created by the guest.
func (o *object) SymbolicLink(name string) (string, bool) {
	o.rw.RLock()
	defer o.rw.RUnlock()
	target, ok := o.links[strings.ToLower(name)]
	return target, ok
}

type ioCompleteRequestParams struct {
	Irp           PVOID
	PriorityBoost CCHAR
}

type ioCsqInitializeParams struct {
	Csq                    PVOID
	CsqInsertIrp           PVOID
	CsqRemoveIrp           PVOID
	CsqPeekNextIrp         PVOID
	CsqAcquireLock         PVOID
	CsqReleaseLock         PVOID
	CsqCompleteCanceledIrp PVOID
}

type rtlCreateSecurityDescriptorParams struct {
	SecurityDescriptor PVOID
	Revision           ULONG
}

func (nt *Ntoskrnl) rtlCreateSecurityDescriptor(ctx windows.Context, p *rtlCreateSecurityDescriptorParams) (uint64, error) {
	if p.Revision != SECURITY_DESCRIPTOR_REVISION {
		return uint64(windows.STATUS_UNKNOWN_REVISION), nil
	}
	emu := ctx.Emulator()
	addr := uint64(p.SecurityDescriptor)
	if err := memZero(emu, addr, securityDescriptorSize(ctx.PointerSize())); err != nil {
		return 0, errors.Marshal("RtlCreateSecurityDescriptor", err)
	}
	if err := emu.MemWrite(addr, []byte{SECURITY_DESCRIPTOR_REVISION}); err != nil {
		return 0, errors.Marshal("RtlCreateSecurityDescriptor", err)
	}
	return uint64(windows.STATUS_SUCCESS), nil
}

type obReferenceObjectByHandleParams struct {
	Handle            HANDLE
	DesiredAccess     ACCESS_MASK
	ObjectType        PVOID
	AccessMode        KPROCESSOR_MODE
	Object            PVOID
	HandleInformation PVOID
}

// Reference counting is not tracked. Known handles still hand out their object.
func (nt *Ntoskrnl) obReferenceObjectByHandle(ctx windows.Context, p *obReferenceObjectByHandleParams) (uint64, error) {
	if p.Object == 0 {
		return uint64(windows.STATUS_SUCCESS), nil
	}
	var obj uint64
	switch h := uint64(p.Handle); {
	case isPseudoHandle(ctx, h, NtCurrentProcess):
		addr, err := nt.process.lookup(ctx, nt.heap, uint64(nt.opts.ProcessID))
		if err != nil {
			return 0, errors.Marshal("ObReferenceObjectByHandle", err)
		}
		obj = addr
	default:
		if rec := nt.handles.get(h); rec != nil {
			obj = rec.Object
		}
	}
	if obj != emunullptr {
		if err := memWritePtr(ctx.Emulator(), ctx.PointerSize(), uint64(p.Object), obj); err != nil {
			return 0, errors.Marshal("ObReferenceObjectByHandle", err)
		}
	}
	return uint64(windows.STATUS_SUCCESS), nil
}

type obReferenceObjectByPointerParams struct {
	Object        PVOID
	DesiredAccess ACCESS_MASK
	ObjectType    PVOID
	AccessMode    KPROCESSOR_MODE
}

type objectParams struct {
	Object PVOID
}

type obOpenObjectByPointerParams struct {
	Object            PVOID
	HandleAttributes  ULONG
	PassedAccessState PVOID
	DesiredAccess     ACCESS_MASK
	ObjectType        PVOID
	AccessMode        KPROCESSOR_MODE
	Handle            PVOID
}

func (nt *Ntoskrnl) obOpenObjectByPointer(ctx windows.Context, p *obOpenObjectByPointerParams) (uint64, error) {
	h := nt.handles.add(HandleObject, fmt.Sprintf("p=%x", uint64(p.Object)), uint64(p.Object))
	if p.Handle != 0 {
		if err := memWritePtr(ctx.Emulator(), ctx.PointerSize(), uint64(p.Handle), h.ID); err != nil {
			return 0, errors.Marshal("ObOpenObjectByPointer", err)
		}
	}
	return uint64(windows.STATUS_SUCCESS), nil
}

func isPseudoHandle(ctx windows.Context, h, pseudo uint64) bool {
	mask := ^uint64(0) >> (64 - 8*ctx.PointerSize())
	return h&mask == pseudo&mask
}
