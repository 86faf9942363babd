// Package timectx maintains the temporal state a telemetry view operates
// under: the active time system, the active clock, the bounds of the visible
// window, and the fixed or real-time mode tying them together. A single
// global context holds the application-wide state and the registries of
// pluggable time systems and clocks; per-object independent contexts follow
// it transparently until an override pins their own clock or bounds.
//
// Every mutation emits after it applies, and for one context events are
// delivered in mutation order. Listeners run with no internal locks held and
// may re-enter any operation.
package timectx

import (
	"fmt"
	"sync"

	"example.com/telemetry-time/base/timemath"
	"example.com/telemetry-time/base/timesys"
)

// A TimeContext is the temporal scope a view binds to, either the global
// context or an independent per-object one. Accessors are side effect free
// and callable from listeners.
type TimeContext interface {
	Mode() timesys.Mode
	IsFixed() bool
	IsRealTime() bool
	TimeSystemKey() string
	TimeSystem() (timesys.TimeSystem, bool)
	ClockKey() string
	Clock() (timesys.Clock, bool)
	Bounds() timesys.Bounds
	ClockOffsets() timesys.ClockOffsets

	SetTimeSystem(key string, initial timesys.Bounds) error
	SetBounds(b timesys.Bounds) error
	SetClock(key string, offsets timesys.ClockOffsets) error
	StopClock()
	SetMode(m timesys.Mode)
	SetClockOffsets(o timesys.ClockOffsets) error

	// On registers fn for one event kind and returns an idempotent
	// unregister function. Func values are not comparable, so removal is
	// by the returned handle rather than by value.
	On(kind EventKind, fn func(Event)) (off func())
}

// baseContext is the state machine shared by the global context and by
// overriding independent contexts. Mutations apply and enqueue under mu;
// delivery happens after mu is released.
type baseContext struct {
	em      *emitter
	systems *systemRegistry
	clocks  *clockRegistry

	mu        sync.Mutex
	mode      timesys.Mode
	system    timesys.TimeSystem
	hasSystem bool
	clock     timesys.Clock
	stopTick  func()
	clockGen  uint64
	bounds    timesys.Bounds
	offsets   timesys.ClockOffsets
}

var _ TimeContext = (*baseContext)(nil)

func newBaseContext(em *emitter, systems *systemRegistry, clocks *clockRegistry) *baseContext {
	return &baseContext{em: em, systems: systems, clocks: clocks}
}

func (c *baseContext) Mode() timesys.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *baseContext) IsFixed() bool { return c.Mode() == timesys.Fixed }

func (c *baseContext) IsRealTime() bool { return c.Mode() == timesys.RealTime }

func (c *baseContext) TimeSystemKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.system.Key
}

func (c *baseContext) TimeSystem() (timesys.TimeSystem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.system, c.hasSystem
}

func (c *baseContext) ClockKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock == nil {
		return ""
	}
	return c.clock.Key()
}

func (c *baseContext) Clock() (timesys.Clock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock, c.clock != nil
}

func (c *baseContext) Bounds() timesys.Bounds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bounds
}

func (c *baseContext) ClockOffsets() timesys.ClockOffsets {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsets
}

// SetTimeSystem activates the time system registered under key and resets
// bounds to initial. It emits a time system event followed by a bounds event.
func (c *baseContext) SetTimeSystem(key string, initial timesys.Bounds) error {
	if err := initial.Validate(); err != nil {
		return err
	}
	ts, ok := c.systems.lookup(key)
	if !ok {
		return fmt.Errorf("time system %q: %w", key, ErrUnknownTimeSystem)
	}
	c.mu.Lock()
	c.system = ts
	c.hasSystem = true
	c.bounds = initial
	c.em.enqueue(
		Event{Kind: TimeSystemChanged, TimeSystem: ts},
		Event{Kind: BoundsChanged, Bounds: initial},
	)
	c.mu.Unlock()
	c.em.drain()
	return nil
}

// SetBounds replaces the current bounds. It is legal in real-time mode, where
// the next tick supersedes it. The bounds event carries Tick false.
func (c *baseContext) SetBounds(b timesys.Bounds) error {
	if err := b.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.bounds = b
	c.em.enqueue(Event{Kind: BoundsChanged, Bounds: b})
	c.mu.Unlock()
	c.em.drain()
	return nil
}

// SetClock attaches the clock registered under key, switches the context to
// real-time mode, and drives bounds from the clock's ticks through offsets.
// Bounds seed from the clock's current value before the first tick. It emits
// a clock event, then a bounds event for the seed; the mode switch emits no
// mode event, the clock event implies it. Per-tick bounds events carry Tick
// true.
func (c *baseContext) SetClock(key string, offsets timesys.ClockOffsets) error {
	if err := offsets.Validate(); err != nil {
		return err
	}
	clk, ok := c.clocks.lookup(key)
	if !ok {
		return fmt.Errorf("clock %q: %w", key, ErrUnknownClock)
	}
	c.mu.Lock()
	if c.stopTick != nil {
		c.stopTick()
		c.stopTick = nil
	}
	c.clockGen++
	gen := c.clockGen
	c.clock = clk
	c.offsets = offsets
	c.mode = timesys.RealTime
	evs := []Event{{Kind: ClockChanged, ClockKey: key, Offsets: offsets}}
	if v := clk.Time(); timemath.Finite(v) {
		c.bounds = offsets.Window(v)
		evs = append(evs, Event{Kind: BoundsChanged, Bounds: c.bounds})
	}
	c.stopTick = clk.Notify(func(v float64) { c.tick(gen, v) })
	c.em.enqueue(evs...)
	c.mu.Unlock()
	c.em.drain()
	return nil
}

// tick handles one clock callback. Ticks from a detached clock and ticks
// arriving in fixed mode are dropped; a non-finite value is a no-op publish.
func (c *baseContext) tick(gen uint64, v float64) {
	if !timemath.Finite(v) {
		return
	}
	c.mu.Lock()
	if gen != c.clockGen || c.mode != timesys.RealTime {
		c.mu.Unlock()
		return
	}
	c.bounds = c.offsets.Window(v)
	c.em.enqueue(Event{Kind: BoundsChanged, Bounds: c.bounds, Tick: true})
	c.mu.Unlock()
	c.em.drain()
}

// StopClock detaches the current clock and stops tick delivery. Mode and
// bounds stay as they are; callers typically pair it with SetMode or
// SetBounds. The clock event carries an empty key. Without an attached clock
// it is a no-op and emits nothing.
func (c *baseContext) StopClock() {
	c.mu.Lock()
	if c.clock == nil {
		c.mu.Unlock()
		return
	}
	if c.stopTick != nil {
		c.stopTick()
		c.stopTick = nil
	}
	c.clock = nil
	c.clockGen++
	c.em.enqueue(Event{Kind: ClockChanged})
	c.mu.Unlock()
	c.em.drain()
}

// detachClock is StopClock without the event, for silent teardown when a
// context is reset or discarded.
func (c *baseContext) detachClock() {
	c.mu.Lock()
	if c.stopTick != nil {
		c.stopTick()
		c.stopTick = nil
	}
	c.clock = nil
	c.clockGen++
	c.mu.Unlock()
}

// SetMode switches between fixed and real-time without changing the clock.
// Real-time with no clock attached stays un-ticked until SetClock. Switching
// to real-time with a clock attached re-seeds bounds from the clock so stale
// fixed bounds do not linger until the next tick.
func (c *baseContext) SetMode(m timesys.Mode) {
	switch m {
	case timesys.Fixed, timesys.RealTime:
	default:
		panic("unknown time context mode")
	}
	c.mu.Lock()
	c.mode = m
	evs := []Event{{Kind: ModeChanged, Mode: m}}
	if m == timesys.RealTime && c.clock != nil {
		if v := c.clock.Time(); timemath.Finite(v) {
			c.bounds = c.offsets.Window(v)
			evs = append(evs, Event{Kind: BoundsChanged, Bounds: c.bounds})
		}
	}
	c.em.enqueue(evs...)
	c.mu.Unlock()
	c.em.drain()
}

// SetClockOffsets replaces the sliding window offsets. In real-time mode with
// a clock attached it recomputes bounds from the clock's current value and
// emits a bounds event; otherwise the offsets take effect when a clock next
// drives bounds, and nothing is emitted.
func (c *baseContext) SetClockOffsets(o timesys.ClockOffsets) error {
	if err := o.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.offsets = o
	var evs []Event
	if c.mode == timesys.RealTime && c.clock != nil {
		if v := c.clock.Time(); timemath.Finite(v) {
			c.bounds = o.Window(v)
			evs = append(evs, Event{Kind: BoundsChanged, Bounds: c.bounds})
		}
	}
	c.em.enqueue(evs...)
	c.mu.Unlock()
	c.em.drain()
	return nil
}

func (c *baseContext) On(kind EventKind, fn func(Event)) (off func()) {
	return c.em.on(kind, fn)
}
