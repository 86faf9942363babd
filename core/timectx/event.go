package timectx

import (
	"sync"

	"example.com/telemetry-time/base/timesys"
)

type EventKind int

const (
	TimeSystemChanged EventKind = iota
	BoundsChanged
	ModeChanged
	ClockChanged
	RefreshContext
	RemoveOwnContext
	numEventKinds
)

func (k EventKind) String() string {
	switch k {
	case TimeSystemChanged:
		return "timeSystemChanged"
	case BoundsChanged:
		return "boundsChanged"
	case ModeChanged:
		return "modeChanged"
	case ClockChanged:
		return "clockChanged"
	case RefreshContext:
		return "refreshContext"
	case RemoveOwnContext:
		return "removeOwnContext"
	default:
		return "unknown"
	}
}

// An Event carries the value a mutation produced. Which fields are meaningful
// depends on Kind: TimeSystem for TimeSystemChanged; Bounds and Tick for
// BoundsChanged, where Tick distinguishes clock-driven updates from explicit
// ones; Mode for ModeChanged; ClockKey and Offsets for ClockChanged, with an
// empty ClockKey meaning the clock was detached; ObjectKey for RefreshContext
// and RemoveOwnContext.
type Event struct {
	Kind       EventKind
	TimeSystem timesys.TimeSystem
	Bounds     timesys.Bounds
	Tick       bool
	Mode       timesys.Mode
	ClockKey   string
	Offsets    timesys.ClockOffsets
	ObjectKey  string
}

type listener struct {
	id int
	fn func(Event)
}

// emitter is the per-context publish/subscribe mechanism. Events enqueue in
// mutation order and the first frame to reach drain delivers them with no
// locks held, so listeners may re-enter any context operation, including
// subscribing and unsubscribing, without corrupting the listener set. The
// listener slice is snapshotted before each delivery; a listener removed
// during dispatch of an event may still observe that event.
type emitter struct {
	mu        sync.Mutex
	nextID    int
	listeners [numEventKinds][]listener
	queue     []Event
	draining  bool
}

func (e *emitter) on(kind EventKind, fn func(Event)) (off func()) {
	if kind < 0 || kind >= numEventKinds {
		panic("unknown event kind")
	}
	if fn == nil {
		panic("listener must not be nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.listeners[kind] = append(e.listeners[kind], listener{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		ls := e.listeners[kind]
		for i := range ls {
			if ls[i].id == id {
				// The three-index slice forces a copy so snapshots taken
				// by an in-flight drain stay intact.
				e.listeners[kind] = append(ls[:i:i], ls[i+1:]...)
				break
			}
		}
	}
}

// enqueue appends events without triggering delivery. Contexts call it while
// holding their state mutex so that queue order matches mutation order, then
// call drain after releasing it.
func (e *emitter) enqueue(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	e.mu.Lock()
	e.queue = append(e.queue, evs...)
	e.mu.Unlock()
}

func (e *emitter) drain() {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for len(e.queue) > 0 {
		ev := e.queue[0]
		e.queue = e.queue[1:]
		ls := append([]listener(nil), e.listeners[ev.Kind]...)
		e.mu.Unlock()
		for _, l := range ls {
			l.fn(ev)
		}
		e.mu.Lock()
	}
	e.draining = false
	e.queue = nil
	e.mu.Unlock()
}

func (e *emitter) emit(evs ...Event) {
	e.enqueue(evs...)
	e.drain()
}
