package kernel

import (
	"sync"

	windows "github.com/wnxd/microdbg-windows"
	"go.uber.org/zap"
)

const (
	NotificationEvent EVENT_TYPE = iota
	SynchronizationEvent
)

// Event counts what the guest did to a KEVENT. Guest memory is left alone and
// waits never block: there is a single guest execution context.
type Event struct {
	Addr   uint64
	Type   EVENT_TYPE
	Sets   int
	Resets int
}

type event struct {
	mu       sync.Mutex
	events   map[uint64]*Event
	critical int
}

func (e *event) ctor() {
	e.events = make(map[uint64]*Event)
}

func (e *event) dtor() {
	e.mu.Lock()
	e.events = nil
	e.mu.Unlock()
}

func (e *event) get(addr uint64) *Event {
	ev, ok := e.events[addr]
	if !ok {
		ev = &Event{Addr: addr}
		e.events[addr] = ev
	}
	return ev
}

// Event returns the bookkeeping of the KEVENT at addr, if the guest touched it.
func (e *event) Event(addr uint64) *Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[addr]
}

type keInitializeEventParams struct {
	Event PVOID
	Type  EVENT_TYPE
	State BOOLEAN
}

func (e *event) keInitializeEvent(ctx windows.Context, p *keInitializeEventParams) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events[uint64(p.Event)] = &Event{Addr: uint64(p.Event), Type: p.Type}
	return 0, nil
}

type keSetEventParams struct {
	Event     PVOID
	Increment KPRIORITY
	Wait      BOOLEAN
}

// keSetEvent always reports the event as previously not signaled.
func (e *event) keSetEvent(ctx windows.Context, p *keSetEventParams) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.get(uint64(p.Event)).Sets++
	return 0, nil
}

type eventParams struct {
	Event PVOID
}

func (e *event) keResetEvent(ctx windows.Context, p *eventParams) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.get(uint64(p.Event)).Resets++
	return 0, nil
}

type keWaitForSingleObjectParams struct {
	Object     PVOID
	WaitReason KWAIT_REASON
	WaitMode   KPROCESSOR_MODE
	Alertable  BOOLEAN
	Timeout    PVOID
}

func (e *event) keWaitForSingleObject(ctx windows.Context, p *keWaitForSingleObjectParams) (uint64, error) {
	Logger().Debug("wait satisfied immediately", zap.Uint64("object", uint64(p.Object)))
	return uint64(windows.STATUS_SUCCESS), nil
}

type keWaitForMultipleObjectsParams struct {
	Count          ULONG
	Object         PVOID
	WaitType       WAIT_TYPE
	WaitReason     KWAIT_REASON
	WaitMode       KPROCESSOR_MODE
	Alertable      BOOLEAN
	Timeout        PVOID
	WaitBlockArray PVOID
}

// keWaitForMultipleObjects returns STATUS_WAIT_0: the first object satisfied the wait.
func (e *event) keWaitForMultipleObjects(ctx windows.Context, p *keWaitForMultipleObjectsParams) (uint64, error) {
	Logger().Debug("wait satisfied immediately", zap.Uint32("count", p.Count))
	return uint64(windows.STATUS_SUCCESS), nil
}

type keDelayExecutionThreadParams struct {
	WaitMode  KPROCESSOR_MODE
	Alertable BOOLEAN
	Interval  PVOID
}

func (e *event) keDelayExecutionThread(ctx windows.Context, p *keDelayExecutionThreadParams) (uint64, error) {
	return uint64(windows.STATUS_SUCCESS), nil
}

func (e *event) keEnterCriticalRegion(ctx windows.Context, _ *none) (uint64, error) {
	e.mu.Lock()
	e.critical++
	e.mu.Unlock()
	return 0, nil
}

func (e *event) keLeaveCriticalRegion(ctx windows.Context, _ *none) (uint64, error) {
	e.mu.Lock()
	if e.critical > 0 {
		e.critical--
	}
	e.mu.Unlock()
	return 0, nil
}
