package emutest

import (
	"context"
	"strings"

	"github.com/wnxd/microdbg/debugger"
)

type Module struct {
	ModuleName string
	Base, Size uint64
	Exports    map[string]uint64
}

func (m *Module) Close() error                   { return nil }
func (m *Module) Name() string                   { return m.ModuleName }
func (m *Module) Region() (uint64, uint64)       { return m.Base, m.Base + m.Size }
func (m *Module) BaseAddr() uint64               { return m.Base }
func (m *Module) EntryAddr() uint64              { return m.Base }
func (m *Module) Init(ctx context.Context) error { return nil }

func (m *Module) FindSymbol(name string) (uint64, error) {
	if addr, ok := m.Exports[name]; ok {
		return addr, nil
	}
	return 0, debugger.ErrSymbolNotFound
}

// Loader records import tables per image name and the symbols registered against it.
type Loader struct {
	Imports  map[string]map[string]uint64
	Modules  []*Module
	Symbols  map[uint64]string
	Driver   uint64
	Registry uint64
}

func NewLoader() *Loader {
	return &Loader{
		Imports: make(map[string]map[string]uint64),
		Symbols: make(map[uint64]string),
	}
}

func (l *Loader) ImportAddress(image, name string) (uint64, bool) {
	addr, ok := l.Imports[image][name]
	return addr, ok
}

func (l *Loader) FindModule(name string) (debugger.Module, error) {
	for _, m := range l.Modules {
		if strings.EqualFold(m.ModuleName, name) {
			return m, nil
		}
	}
	return nil, debugger.ErrModuleNotFound
}

func (l *Loader) RegisterSymbol(addr uint64, name string) {
	l.Symbols[addr] = name
}

func (l *Loader) DriverObject() uint64 {
	return l.Driver
}

func (l *Loader) RegistryPath() uint64 {
	return l.Registry
}
