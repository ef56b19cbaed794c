package kernel

import (
	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
	"github.com/wnxd/microdbg-windows/msvc"
)

type zwOpenKeyParams struct {
	KeyHandle        PVOID
	DesiredAccess    ACCESS_MASK
	ObjectAttributes PVOID
}

// zwOpenKey opens any key: the handle is named after ObjectAttributes.ObjectName.
func (nt *Ntoskrnl) zwOpenKey(ctx windows.Context, p *zwOpenKeyParams) (uint64, error) {
	const name = "ZwOpenKey"

	emu := ctx.Emulator()
	ptrSize := ctx.PointerSize()
	var key string
	if p.ObjectAttributes != 0 {
		objectName, err := memReadPtr(emu, ptrSize, uint64(p.ObjectAttributes)+objectAttributesNameOffset(ptrSize))
		if err != nil {
			return 0, errors.Marshal(name, err)
		}
		if key, err = msvc.ReadUnicodeString(emu, objectName); err != nil {
			return 0, errors.Marshal(name, err)
		}
	}
	h := nt.handles.add(HandleKey, key, emunullptr)
	if p.KeyHandle != 0 {
		if err := memWritePtr(emu, ptrSize, uint64(p.KeyHandle), h.ID); err != nil {
			return 0, errors.Marshal(name, err)
		}
	}
	return uint64(windows.STATUS_SUCCESS), nil
}
