package timectx

import (
	"sync"

	"example.com/telemetry-time/base/timesys"
)

// An IndependentContext scopes temporal state to one object. It is in exactly
// one of two relations to the global context: following, where reads and
// mutations delegate upstream and upstream events re-emit here unchanged, or
// overriding, where mode, clock, and bounds live in a private state that
// ticks independently. Relations change only through the override protocol
// on GlobalContext; views just hold the context and subscribe, the emitter
// stays the same across transitions.
//
// The time system is application-wide. Both relations delegate time system
// reads and SetTimeSystem upstream, and an override re-emits upstream time
// system events while keeping upstream bounds, mode, and clock events out.
type IndependentContext struct {
	upstream  *GlobalContext
	objectKey string
	em        *emitter

	mu  sync.Mutex
	rel relation
}

var _ TimeContext = (*IndependentContext)(nil)

type relation interface {
	teardown()
}

type following struct {
	stops []func()
}

func (r *following) teardown() {
	for _, stop := range r.stops {
		stop()
	}
}

type overriding struct {
	state *baseContext
	stops []func()
}

func (r *overriding) teardown() {
	for _, stop := range r.stops {
		stop()
	}
	r.state.detachClock()
}

// timeOps is the per-relation slice of the TimeContext surface: everything an
// override localizes. Satisfied by baseContext directly and by GlobalContext
// through embedding.
type timeOps interface {
	Mode() timesys.Mode
	ClockKey() string
	Clock() (timesys.Clock, bool)
	Bounds() timesys.Bounds
	ClockOffsets() timesys.ClockOffsets
	SetBounds(timesys.Bounds) error
	SetClock(string, timesys.ClockOffsets) error
	StopClock()
	SetMode(timesys.Mode)
	SetClockOffsets(timesys.ClockOffsets) error
}

func newIndependentContext(g *GlobalContext, objectKey string) *IndependentContext {
	ic := &IndependentContext{
		upstream:  g,
		objectKey: objectKey,
		em:        &emitter{},
	}
	ic.rel = followUpstream(ic)
	return ic
}

func followUpstream(ic *IndependentContext) *following {
	f := &following{}
	for _, k := range []EventKind{TimeSystemChanged, BoundsChanged, ModeChanged, ClockChanged} {
		f.stops = append(f.stops, ic.upstream.On(k, func(ev Event) { ic.em.emit(ev) }))
	}
	return f
}

// ops returns the target the current relation delegates to. The relation is
// read under mu but the target is invoked after release, so listeners may
// re-enter this context during delivery.
func (ic *IndependentContext) ops() timeOps {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if r, ok := ic.rel.(*overriding); ok {
		return r.state
	}
	return ic.upstream
}

func (ic *IndependentContext) ObjectKey() string { return ic.objectKey }

// Overriding reports whether the context currently holds local state rather
// than following the global context.
func (ic *IndependentContext) Overriding() bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	_, ok := ic.rel.(*overriding)
	return ok
}

func (ic *IndependentContext) Mode() timesys.Mode { return ic.ops().Mode() }

func (ic *IndependentContext) IsFixed() bool { return ic.Mode() == timesys.Fixed }

func (ic *IndependentContext) IsRealTime() bool { return ic.Mode() == timesys.RealTime }

func (ic *IndependentContext) TimeSystemKey() string { return ic.upstream.TimeSystemKey() }

func (ic *IndependentContext) TimeSystem() (timesys.TimeSystem, bool) {
	return ic.upstream.TimeSystem()
}

func (ic *IndependentContext) ClockKey() string { return ic.ops().ClockKey() }

func (ic *IndependentContext) Clock() (timesys.Clock, bool) { return ic.ops().Clock() }

func (ic *IndependentContext) Bounds() timesys.Bounds { return ic.ops().Bounds() }

func (ic *IndependentContext) ClockOffsets() timesys.ClockOffsets {
	return ic.ops().ClockOffsets()
}

func (ic *IndependentContext) SetTimeSystem(key string, initial timesys.Bounds) error {
	return ic.upstream.SetTimeSystem(key, initial)
}

func (ic *IndependentContext) SetBounds(b timesys.Bounds) error {
	return ic.ops().SetBounds(b)
}

func (ic *IndependentContext) SetClock(key string, offsets timesys.ClockOffsets) error {
	return ic.ops().SetClock(key, offsets)
}

func (ic *IndependentContext) StopClock() { ic.ops().StopClock() }

func (ic *IndependentContext) SetMode(m timesys.Mode) { ic.ops().SetMode(m) }

func (ic *IndependentContext) SetClockOffsets(o timesys.ClockOffsets) error {
	return ic.ops().SetClockOffsets(o)
}

func (ic *IndependentContext) On(kind EventKind, fn func(Event)) (off func()) {
	return ic.em.on(kind, fn)
}

// beginOverride tears down the current relation and installs a fresh local
// state sharing this context's emitter. The caller applies mode, clock, and
// bounds to the returned state; the teardown itself emits nothing.
func (ic *IndependentContext) beginOverride() *baseContext {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.rel.teardown()
	st := newBaseContext(ic.em, ic.upstream.systems, ic.upstream.clocks)
	ic.rel = &overriding{
		state: st,
		stops: []func(){
			ic.upstream.On(TimeSystemChanged, func(ev Event) { ic.em.emit(ev) }),
		},
	}
	return st
}

// follow reverts to the following relation, dropping any local state. No-op
// when already following.
func (ic *IndependentContext) follow() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if _, ok := ic.rel.(*following); ok {
		return
	}
	ic.rel.teardown()
	ic.rel = followUpstream(ic)
}

// retire silences a context whose object path went stale. Upstream hooks and
// any local clock are torn down and nothing re-attaches, so its emitter never
// fires again; reads on a retained stale handle delegate upstream.
func (ic *IndependentContext) retire() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.rel.teardown()
	ic.rel = &following{}
}
