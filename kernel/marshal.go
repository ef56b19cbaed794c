package kernel

import (
	"reflect"
	"unsafe"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
	"github.com/wnxd/microdbg-windows/msvc"
	"github.com/wnxd/microdbg/emulator"
	"go.uber.org/zap"
)

// Guest string parameters. Ptr is the raw argument; Value is what it pointed at,
// or "" when the pointer was null or unreadable.
type (
	PCSTR struct {
		Ptr   uintptr
		Value string
	}
	PCWSTR struct {
		Ptr   uintptr
		Value string
	}
	PUNICODE_STRING struct {
		Ptr   uintptr
		Value string
	}
	PANSI_STRING struct {
		Ptr   uintptr
		Value string
	}
)

// none is the parameter struct of routines that take no arguments.
type none struct{}

type stringReader func(emu emulator.Emulator, addr uint64) (string, error)

var stringReaders = map[reflect.Type]stringReader{
	reflect.TypeFor[PCSTR]():           msvc.ReadString,
	reflect.TypeFor[PCWSTR]():          msvc.ReadWideString,
	reflect.TypeFor[PUNICODE_STRING](): msvc.ReadUnicodeString,
	reflect.TypeFor[PANSI_STRING]():    msvc.ReadAnsiString,
}

type field struct {
	name   string
	typ    reflect.Type
	offset uintptr
	str    stringReader
}

// schema is the decode plan of one parameter struct, derived once at registration.
type schema []field

func newSchema(routine string, typ reflect.Type) schema {
	if typ.Kind() != reflect.Struct {
		panic(errors.Registration(routine, "(params)", typ.String()))
	}
	s := make(schema, 0, typ.NumField())
	for i := range typ.NumField() {
		f := typ.Field(i)
		fd := field{name: f.Name, typ: f.Type, offset: f.Offset}
		if read, ok := stringReaders[f.Type]; ok {
			fd.str = read
		} else if !decodable(f.Type) {
			panic(errors.Registration(routine, f.Name, f.Type.String()))
		}
		s = append(s, fd)
	}
	return s
}

func decodable(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr, reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func (s schema) decode(ctx windows.Context, routine string, base unsafe.Pointer) error {
	args := ctx.Args()
	for _, f := range s {
		at := unsafe.Add(base, f.offset)
		if f.str == nil {
			if err := args.Extract(reflect.NewAt(f.typ, at).Interface()); err != nil {
				return err
			}
			continue
		}
		// Every string parameter struct starts with its raw pointer.
		ptr := (*uintptr)(at)
		if err := args.Extract(ptr); err != nil {
			return err
		}
		if *ptr == 0 {
			continue
		}
		value, err := f.str(ctx.Emulator(), uint64(*ptr))
		if err != nil {
			Logger().Debug("unreadable string argument", zap.String("routine", routine), zap.String("param", f.name), zap.Error(err))
			continue
		}
		*(*string)(unsafe.Add(at, unsafe.Sizeof(uintptr(0)))) = value
	}
	return nil
}
