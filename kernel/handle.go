package kernel

import (
	"fmt"
	"sync"

	windows "github.com/wnxd/microdbg-windows"
	"go.uber.org/zap"
)

type HandleKind uint8

const (
	HandleObject HandleKind = iota
	HandleThread
	HandleKey
)

func (k HandleKind) String() string {
	switch k {
	case HandleObject:
		return "object"
	case HandleThread:
		return "thread"
	case HandleKey:
		return "key"
	}
	return fmt.Sprintf("HandleKind(%d)", uint8(k))
}

// Handle is a host-side record naming a simulated kernel object.
type Handle struct {
	ID     uint64
	Kind   HandleKind
	Name   string
	Object uint64
}

// handleTable issues ids from 4 in steps of 4, like the real kernel, and never
// reuses an id while the table lives.
type handleTable struct {
	rw      sync.RWMutex
	next    uint64
	handles map[uint64]*Handle
}

func (t *handleTable) ctor() {
	t.next = 4
	t.handles = make(map[uint64]*Handle)
}

func (t *handleTable) dtor() {
	t.rw.Lock()
	t.handles = nil
	t.rw.Unlock()
}

func (t *handleTable) add(kind HandleKind, name string, object uint64) *Handle {
	t.rw.Lock()
	defer t.rw.Unlock()
	h := &Handle{ID: t.next, Kind: kind, Name: name, Object: object}
	t.next += 4
	t.handles[h.ID] = h
	return h
}

// insert registers a handle under a caller-chosen id, such as a sentinel value.
func (t *handleTable) insert(h *Handle) bool {
	t.rw.Lock()
	defer t.rw.Unlock()
	if _, ok := t.handles[h.ID]; ok {
		return false
	}
	t.handles[h.ID] = h
	return true
}

func (t *handleTable) get(id uint64) *Handle {
	t.rw.RLock()
	defer t.rw.RUnlock()
	return t.handles[id]
}

func (t *handleTable) close(id uint64) bool {
	t.rw.Lock()
	defer t.rw.Unlock()
	if _, ok := t.handles[id]; !ok {
		return false
	}
	delete(t.handles, id)
	return true
}

func (t *handleTable) len() int {
	t.rw.RLock()
	defer t.rw.RUnlock()
	return len(t.handles)
}

type closeParams struct {
	Handle HANDLE
}

func (t *handleTable) zwClose(ctx windows.Context, p *closeParams) (uint64, error) {
	id := uint64(p.Handle)
	if !t.close(id) {
		Logger().Debug("close of unknown handle", zap.Uint64("handle", id))
		return uint64(windows.STATUS_INVALID_HANDLE), nil
	}
	return uint64(windows.STATUS_SUCCESS), nil
}
