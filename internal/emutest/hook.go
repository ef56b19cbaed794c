package emutest

import (
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
)

// Hooks hands out control addresses and records code hooks.
type Hooks struct {
	next     uint64
	Controls map[uint64]Control
	Code     map[uint64]Code
}

type Control struct {
	Callback debugger.ControlCallback
	Data     any
}

type Code struct {
	Callback debugger.CodeCallback
	Data     any
}

type handler struct {
	typ   emulator.HookType
	addr  uint64
	close func()
}

func (h *handler) Close() error {
	h.close()
	return nil
}

func (h *handler) Type() emulator.HookType {
	return h.typ
}

func (h *handler) Addr() uint64 {
	return h.addr
}

func NewHooks(base uint64) *Hooks {
	return &Hooks{
		next:     base,
		Controls: make(map[uint64]Control),
		Code:     make(map[uint64]Code),
	}
}

func (h *Hooks) AddHook(typ emulator.HookType, callback any, data any, begin, end uint64) (debugger.HookHandler, error) {
	cb, ok := callback.(debugger.CodeCallback)
	if !ok || typ != emulator.HOOK_TYPE_CODE {
		return nil, debugger.ErrHookCallbackType
	}
	h.Code[begin] = Code{cb, data}
	return &handler{typ: typ, addr: begin, close: func() { delete(h.Code, begin) }}, nil
}

func (h *Hooks) AddControl(callback debugger.ControlCallback, data any) (debugger.ControlHandler, error) {
	addr := h.next
	h.next += 0x10
	h.Controls[addr] = Control{callback, data}
	return &handler{typ: emulator.HOOK_TYPE_INTR, addr: addr, close: func() { delete(h.Controls, addr) }}, nil
}
