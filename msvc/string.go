package msvc

import (
	"github.com/wnxd/microdbg-windows/internal"
	"github.com/wnxd/microdbg/emulator"
	"github.com/wnxd/microdbg/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Longest string read from a guest pointer, in characters.
const MaxStringLength = 0x8000

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// ReadString reads a NUL-terminated byte string. A null pointer reads as "".
func ReadString(emu emulator.Emulator, addr uint64) (string, error) {
	if addr == 0 {
		return "", nil
	}
	raw, err := internal.ReadTerminated(emu, addr, 1, MaxStringLength)
	return string(raw), err
}

// ReadWideString reads a NUL-terminated UTF-16LE string.
func ReadWideString(emu emulator.Emulator, addr uint64) (string, error) {
	if addr == 0 {
		return "", nil
	}
	raw, err := internal.ReadTerminated(emu, addr, 2, MaxStringLength)
	if err != nil {
		return "", err
	}
	return DecodeWide(raw)
}

// ReadWideN reads exactly size bytes of UTF-16LE text.
func ReadWideN(emu emulator.Emulator, addr, size uint64) (string, error) {
	if addr == 0 || size == 0 {
		return "", nil
	}
	raw, err := emu.MemRead(addr, min(size, MaxStringLength*2))
	if err != nil {
		return "", err
	}
	return DecodeWide(raw)
}

func DecodeWide(raw []byte) (string, error) {
	b, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func EncodeWide(s string) ([]byte, error) {
	return utf16le.NewEncoder().Bytes([]byte(s))
}

// countedString is the shared head of ANSI_STRING and UNICODE_STRING.
type countedString struct {
	Length        uint16
	MaximumLength uint16
	Buffer        uintptr
}

func counted(emu emulator.Emulator, addr uint64) (length, buffer uint64, err error) {
	size := PointerSize(emu.Arch())
	if size == 0 {
		return 0, 0, emulator.ErrArchUnsupported
	}
	var s countedString
	err = encoding.Decode(internal.PointerStream(emu, addr, int(size)), &s)
	if err != nil {
		return 0, 0, err
	}
	return uint64(s.Length), uint64(s.Buffer), nil
}

// ReadUnicodeString reads the text of a UNICODE_STRING.
func ReadUnicodeString(emu emulator.Emulator, addr uint64) (string, error) {
	if addr == 0 {
		return "", nil
	}
	length, buffer, err := counted(emu, addr)
	if err != nil {
		return "", err
	}
	return ReadWideN(emu, buffer, length)
}

// ReadAnsiString reads the text of an ANSI_STRING.
func ReadAnsiString(emu emulator.Emulator, addr uint64) (string, error) {
	if addr == 0 {
		return "", nil
	}
	length, buffer, err := counted(emu, addr)
	if err != nil || buffer == 0 || length == 0 {
		return "", err
	}
	raw, err := emu.MemRead(buffer, length)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
