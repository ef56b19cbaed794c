package msvc

import (
	"fmt"
	"strconv"
	"strings"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg/emulator"
)

const nullString = "(null)"

// Longest prefixes first.
var lengthModifiers = []string{"I64", "I32", "hh", "ll", "h", "l", "L", "w", "I", "z", "t", "j"}

type conversion struct {
	flags  string
	width  string
	prec   string
	length string
	verb   byte
}

func (c *conversion) format(verb byte) string {
	var b strings.Builder
	b.WriteByte('%')
	b.WriteString(c.flags)
	b.WriteString(c.width)
	if c.prec != "" {
		b.WriteByte('.')
		b.WriteString(c.prec)
	}
	b.WriteByte(verb)
	return b.String()
}

func (c *conversion) unsigned() *conversion {
	u := *c
	u.flags = strings.NewReplacer("+", "", " ", "").Replace(c.flags)
	return &u
}

// bits is the integer argument width selected by the length modifier.
func (c *conversion) bits(ptrSize uint64) int {
	switch c.length {
	case "ll", "I64", "L", "j":
		return 64
	case "I", "z", "t":
		return int(ptrSize) * 8
	}
	return 32
}

// wideText reports whether a %c/%s style conversion reads wide characters.
func (c *conversion) wideText(wideFormat bool) bool {
	switch c.length {
	case "h", "hh":
		return false
	case "l", "w":
		return true
	}
	if c.verb == 'C' || c.verb == 'S' {
		return !wideFormat
	}
	return wideFormat
}

type printer struct {
	emu     emulator.Emulator
	args    windows.Args
	ptrSize uint64
	wide    bool
	out     strings.Builder
}

// Sprintf formats format with printf semantics of the Microsoft C runtime, taking one
// argument from args per conversion. wide selects the wchar_t variant of the family,
// which flips the meaning of %s/%c against %S/%C.
func Sprintf(emu emulator.Emulator, format string, wide bool, args windows.Args) (string, error) {
	p := &printer{
		emu:     emu,
		args:    args,
		ptrSize: PointerSize(emu.Arch()),
		wide:    wide,
	}
	err := p.run(format)
	return p.out.String(), err
}

func (p *printer) run(format string) error {
	for i := 0; i < len(format); {
		j := strings.IndexByte(format[i:], '%')
		if j < 0 {
			p.out.WriteString(format[i:])
			return nil
		}
		p.out.WriteString(format[i : i+j])
		i += j
		next, err := p.conversion(format, i)
		if err != nil {
			return err
		}
		i = next
	}
	return nil
}

func (p *printer) conversion(format string, start int) (int, error) {
	var c conversion
	i := start + 1
	for i < len(format) && strings.IndexByte("-+ #0", format[i]) >= 0 {
		i++
	}
	c.flags = format[start+1 : i]

	if i < len(format) && format[i] == '*' {
		var w int32
		if err := p.args.Extract(&w); err != nil {
			return i, err
		}
		if w < 0 {
			c.flags += "-"
			w = -w
		}
		c.width = strconv.Itoa(int(w))
		i++
	} else {
		j := i
		for i < len(format) && isDigit(format[i]) {
			i++
		}
		c.width = format[j:i]
	}

	if i < len(format) && format[i] == '.' {
		i++
		if i < len(format) && format[i] == '*' {
			var prec int32
			if err := p.args.Extract(&prec); err != nil {
				return i, err
			}
			if prec >= 0 {
				c.prec = strconv.Itoa(int(prec))
			}
			i++
		} else {
			j := i
			for i < len(format) && isDigit(format[i]) {
				i++
			}
			c.prec = format[j:i]
			if c.prec == "" {
				c.prec = "0"
			}
		}
	}

	for _, mod := range lengthModifiers {
		if strings.HasPrefix(format[i:], mod) {
			c.length = mod
			i += len(mod)
			break
		}
	}

	if i >= len(format) {
		p.out.WriteString(format[start:])
		return len(format), nil
	}
	c.verb = format[i]
	i++
	return i, p.emit(&c, format[start:i])
}

func (p *printer) emit(c *conversion, raw string) error {
	switch c.verb {
	case '%':
		p.out.WriteByte('%')
	case 'd', 'i':
		v, err := p.signed(c)
		if err != nil {
			return err
		}
		fmt.Fprintf(&p.out, c.format('d'), v)
	case 'u', 'o', 'x', 'X':
		v, err := p.unsigned(c)
		if err != nil {
			return err
		}
		u := c.unsigned()
		verb := c.verb
		if verb == 'u' {
			verb = 'd'
		} else if v == 0 && verb != 'o' {
			u.flags = strings.ReplaceAll(u.flags, "#", "")
		}
		fmt.Fprintf(&p.out, u.format(verb), v)
	case 'c', 'C':
		var v uint32
		if err := p.args.Extract(&v); err != nil {
			return err
		}
		r := rune(uint8(v))
		if c.wideText(p.wide) {
			r = rune(uint16(v))
		}
		fmt.Fprintf(&p.out, c.format('c'), r)
	case 's', 'S':
		var ptr uintptr
		if err := p.args.Extract(&ptr); err != nil {
			return err
		}
		s, err := p.text(uint64(ptr), c.wideText(p.wide))
		if err != nil {
			return err
		}
		fmt.Fprintf(&p.out, c.format('s'), s)
	case 'Z':
		var ptr uintptr
		if err := p.args.Extract(&ptr); err != nil {
			return err
		}
		s := nullString
		if ptr != 0 {
			var err error
			if c.length == "l" || c.length == "w" {
				s, err = ReadUnicodeString(p.emu, uint64(ptr))
			} else {
				s, err = ReadAnsiString(p.emu, uint64(ptr))
			}
			if err != nil {
				return err
			}
		}
		fmt.Fprintf(&p.out, c.format('s'), s)
	case 'p':
		var ptr uintptr
		if err := p.args.Extract(&ptr); err != nil {
			return err
		}
		s := fmt.Sprintf("%0*X", int(p.ptrSize*2), uint64(ptr))
		fmt.Fprintf(&p.out, "%"+strings.ReplaceAll(c.flags, "0", "")+c.width+"s", s)
	case 'n':
		var ptr uintptr
		return p.args.Extract(&ptr)
	case 'e', 'E', 'f', 'F', 'g', 'G', 'a', 'A':
		var d float64
		if err := p.args.Extract(&d); err != nil {
			return err
		}
		verb := c.verb
		switch verb {
		case 'a':
			verb = 'x'
		case 'A':
			verb = 'X'
		}
		fmt.Fprintf(&p.out, c.format(verb), d)
	default:
		p.out.WriteString(raw)
	}
	return nil
}

func (p *printer) signed(c *conversion) (int64, error) {
	switch c.bits(p.ptrSize) {
	case 64:
		var v int64
		err := p.args.Extract(&v)
		return v, err
	}
	var v int32
	if err := p.args.Extract(&v); err != nil {
		return 0, err
	}
	switch c.length {
	case "hh":
		return int64(int8(v)), nil
	case "h":
		return int64(int16(v)), nil
	}
	return int64(v), nil
}

func (p *printer) unsigned(c *conversion) (uint64, error) {
	switch c.bits(p.ptrSize) {
	case 64:
		var v uint64
		err := p.args.Extract(&v)
		return v, err
	}
	var v uint32
	if err := p.args.Extract(&v); err != nil {
		return 0, err
	}
	switch c.length {
	case "hh":
		return uint64(uint8(v)), nil
	case "h":
		return uint64(uint16(v)), nil
	}
	return uint64(v), nil
}

func (p *printer) text(addr uint64, wide bool) (string, error) {
	if addr == 0 {
		return nullString, nil
	}
	if wide {
		return ReadWideString(p.emu, addr)
	}
	return ReadString(p.emu, addr)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
